// Package timeline is the observer-facing view of a composition: its display
// ordered tracks, volume curves and the live state of every derivation.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"timeline-inspector/internal/composition"
	"timeline-inspector/internal/derive"
	"timeline-inspector/internal/envelope"
	"timeline-inspector/internal/frames"
	"timeline-inspector/internal/platform/metrics"
	"timeline-inspector/internal/timerange"
)

var (
	ErrUnknownTrack   = errors.New("unknown track")
	ErrUnknownSegment = errors.New("unknown segment")
	ErrNoAudioTrack   = errors.New("track carries no audio")
	ErrNoVideoTrack   = errors.New("track carries no video")
	// ErrEmptyRange is returned for gaps and ranges too short to derive from.
	ErrEmptyRange       = errors.New("segment has no derivable range")
	ErrFrameOutOfRange  = errors.New("frame index out of range")
	ErrNotReady         = errors.New("derived data not available yet")
	ErrDerivationFailed = errors.New("derivation failed")
)

// Loader resolves the composition a ViewModel presents.
type Loader interface {
	Load(ctx context.Context) (*composition.Composition, error)
}

// FileLoader loads a composition description file.
type FileLoader string

// Load implements Loader.
func (p FileLoader) Load(ctx context.Context) (*composition.Composition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return composition.LoadFile(string(p))
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (*composition.Composition, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (*composition.Composition, error) { return f(ctx) }

// Generators are the derivation backends a ViewModel drives.
type Generators struct {
	Envelopes derive.EnvelopeGenerator
	Frames    derive.FrameGenerator
}

// ViewModel exposes a loaded composition and its derivation pass.
type ViewModel struct {
	ctx          context.Context
	comp         *composition.Composition
	tracks       []Track
	instructions []InstructionSpan
	coord        *derive.Coordinator
	log          *slog.Logger
}

// New loads the composition through loader and prepares its derivation.
// ctx bounds loading and is the parent of any pass started by Begin.
// m may be nil.
func New(ctx context.Context, loader Loader, gen Generators, cfg derive.Config, log *slog.Logger, m *metrics.Metrics) (*ViewModel, error) {
	comp, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load composition: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	vm := &ViewModel{
		ctx:   ctx,
		comp:  comp,
		coord: derive.New(comp, gen.Envelopes, gen.Frames, nil, cfg, log, m),
		log:   log,
	}
	for _, t := range composition.SortForDisplay(comp.Tracks) {
		vm.tracks = append(vm.tracks, vm.layout(t))
	}
	for _, in := range comp.Instructions {
		vm.instructions = append(vm.instructions, InstructionSpan{
			Label: in.Label,
			Range: spanOf(timerange.ClampEndToDuration(in.Range, comp.Duration)),
		})
	}
	log.Info("timeline loaded",
		slog.Float64("duration_s", comp.Duration.Seconds()),
		slog.Int("tracks", len(vm.tracks)))
	return vm, nil
}

func (vm *ViewModel) layout(t composition.Track) Track {
	out := Track{ID: t.ID, MediaType: t.MediaType, Segments: make([]Segment, 0, len(t.Segments))}
	for i, s := range t.Segments {
		out.Segments = append(out.Segments, Segment{
			Index:       i,
			Source:      s.Source,
			Empty:       s.IsEmpty(),
			SourceRange: spanOf(s.SourceWithin(vm.comp.Duration)),
			TargetRange: spanOf(s.TargetWithin(vm.comp.Duration)),
			key:         derive.SegmentKeyFor(t.ID, s),
		})
	}
	if t.MediaType == composition.MediaAudio {
		out.VolumePoints = composition.VolumePoints(t.Volume, vm.comp.Duration)
	}
	return out
}

// Composition returns the loaded composition. It must not be mutated.
func (vm *ViewModel) Composition() *composition.Composition {
	return vm.comp
}

// Tracks returns the display-ordered track layout.
func (vm *ViewModel) Tracks() []Track {
	out := make([]Track, len(vm.tracks))
	copy(out, vm.tracks)
	return out
}

// Begin starts the derivation pass. It is idempotent.
func (vm *ViewModel) Begin() {
	vm.coord.BeginDerivation(vm.ctx)
}

// Cancel stops derivation and freezes the observed state.
func (vm *ViewModel) Cancel() {
	vm.coord.CancelAll()
}

// Done is closed once derivation has drained or was cancelled.
func (vm *ViewModel) Done() <-chan struct{} {
	return vm.coord.Done()
}

// Subscribe returns a coalescing change signal; see Unsubscribe.
func (vm *ViewModel) Subscribe() <-chan struct{} {
	return vm.coord.Subscribe()
}

// Unsubscribe stops signals to ch.
func (vm *ViewModel) Unsubscribe(ch <-chan struct{}) {
	vm.coord.Unsubscribe(ch)
}

// Snapshot combines the layout with the current derivation state.
func (vm *ViewModel) Snapshot() View {
	snap := vm.coord.Snapshot()
	v := View{
		Duration:    vm.comp.Duration.Seconds(),
		NaturalSize: vm.comp.FrameSize(),
		HasAudioMix: vm.hasAudioMix(),
		PassID:      vm.coord.PassID(),
		Cancelled:   snap.Cancelled,
		Tracks:      make([]TrackState, 0, len(vm.tracks)),
		Preview:     viewOf(snap.Preview),
		Counts:      make(map[string]int),
	}
	if len(vm.instructions) > 0 {
		v.Instructions = append([]InstructionSpan(nil), vm.instructions...)
	}
	for status, n := range snap.Counts() {
		v.Counts[string(status)] = n
	}
	for _, t := range vm.tracks {
		ts := TrackState{ID: t.ID, MediaType: t.MediaType, VolumePoints: t.VolumePoints}
		for _, s := range t.Segments {
			st, _ := snap.Segment(s.key)
			ts.Segments = append(ts.Segments, SegmentState{Segment: s, Derivation: viewOf(st)})
		}
		v.Tracks = append(v.Tracks, ts)
	}
	return v
}

func (vm *ViewModel) hasAudioMix() bool {
	for _, t := range vm.comp.Tracks {
		if t.MediaType == composition.MediaAudio && len(t.Volume) > 0 {
			return true
		}
	}
	return false
}

// VolumeAt evaluates an audio track's volume curve at t seconds.
func (vm *ViewModel) VolumeAt(id composition.TrackID, t float64) (float64, error) {
	for _, tr := range vm.tracks {
		if tr.ID != id {
			continue
		}
		if tr.MediaType != composition.MediaAudio {
			return 0, fmt.Errorf("track %d: %w", id, ErrNoAudioTrack)
		}
		return composition.VolumeAt(tr.VolumePoints, t), nil
	}
	return 0, fmt.Errorf("track %d: %w", id, ErrUnknownTrack)
}

// segment resolves a track id and segment index to its layout.
func (vm *ViewModel) segment(id composition.TrackID, index int) (Track, Segment, error) {
	for _, t := range vm.tracks {
		if t.ID != id {
			continue
		}
		if index < 0 || index >= len(t.Segments) {
			return t, Segment{}, fmt.Errorf("track %d index %d: %w", id, index, ErrUnknownSegment)
		}
		return t, t.Segments[index], nil
	}
	return Track{}, Segment{}, fmt.Errorf("track %d: %w", id, ErrUnknownTrack)
}

// Envelope returns the envelope resolution best suited to scale for one
// audio segment. A zero-length segment yields an empty resolution.
func (vm *ViewModel) Envelope(id composition.TrackID, index int, scale float64) (envelope.Resolution, error) {
	t, s, err := vm.segment(id, index)
	if err != nil {
		return envelope.Resolution{}, err
	}
	if t.MediaType != composition.MediaAudio {
		return envelope.Resolution{}, fmt.Errorf("track %d: %w", id, ErrNoAudioTrack)
	}
	if s.Empty {
		return envelope.Resolution{}, ErrEmptyRange
	}

	st, _ := vm.coord.Snapshot().Segment(s.key)
	res, ok := st.Envelope.ResolutionForScale(scale)
	switch {
	case ok:
		return res, nil
	case st.Status == derive.StatusFailed:
		return envelope.Resolution{}, fmt.Errorf("%w: %s", ErrDerivationFailed, st.Err)
	case st.Status == derive.StatusComplete:
		return envelope.Resolution{Samples: []float64{}}, nil
	}
	return envelope.Resolution{}, ErrNotReady
}

// Frame returns frame n of one video segment's sequence.
func (vm *ViewModel) Frame(id composition.TrackID, index, n int) (frames.Frame, error) {
	t, s, err := vm.segment(id, index)
	if err != nil {
		return frames.Frame{}, err
	}
	if t.MediaType != composition.MediaVideo {
		return frames.Frame{}, fmt.Errorf("track %d: %w", id, ErrNoVideoTrack)
	}
	if s.Empty {
		return frames.Frame{}, ErrEmptyRange
	}
	st, _ := vm.coord.Snapshot().Segment(s.key)
	return frameOf(st, n)
}

// PreviewFrame returns frame n of the whole-composition sequence.
func (vm *ViewModel) PreviewFrame(n int) (frames.Frame, error) {
	return frameOf(vm.coord.Snapshot().Preview, n)
}

// frameOf serves frames already produced even when the stream later failed.
func frameOf(st derive.State, n int) (frames.Frame, error) {
	switch {
	case st.Status == derive.StatusComplete && !st.HasSequence:
		return frames.Frame{}, ErrEmptyRange
	case n < 0 || (st.HasSequence && n >= st.ExpectedCount):
		return frames.Frame{}, fmt.Errorf("frame %d of %d: %w", n, st.ExpectedCount, ErrFrameOutOfRange)
	case n < len(st.Frames):
		return st.Frames[n], nil
	case st.Status == derive.StatusFailed:
		return frames.Frame{}, fmt.Errorf("%w: %s", ErrDerivationFailed, st.Err)
	}
	return frames.Frame{}, ErrNotReady
}
