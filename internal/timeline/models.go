package timeline

import (
	"timeline-inspector/internal/composition"
	"timeline-inspector/internal/derive"
	"timeline-inspector/internal/timerange"
)

// Span is a time range in seconds, as handed to the rendering layer.
type Span struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

func spanOf(r timerange.Range) Span {
	return Span{Start: r.Start.Seconds(), Duration: r.Duration.Seconds()}
}

// Segment is the static layout of one segment of a track.
type Segment struct {
	Index  int    `json:"index"`
	Source string `json:"source,omitempty"`
	Empty  bool   `json:"empty"`
	// SourceRange has unbounded durations resolved against the composition.
	SourceRange Span `json:"source_range"`
	TargetRange Span `json:"target_range"`

	key derive.Key
}

// InstructionSpan is one labelled row entry of the video composition.
type InstructionSpan struct {
	Label string `json:"label,omitempty"`
	Range Span   `json:"range"`
}

// Track is one display row: its segments and, for audio, its volume curve.
type Track struct {
	ID           composition.TrackID       `json:"id"`
	MediaType    composition.MediaType     `json:"media_type"`
	Segments     []Segment                 `json:"segments"`
	VolumePoints []composition.VolumePoint `json:"volume_points,omitempty"`
}

// DerivationView is the observer-facing state of one derivation. A failed
// derivation still reports the data it produced before failing.
type DerivationView struct {
	Status        derive.Status `json:"status"`
	ExpectedCount int           `json:"expected_count,omitempty"`
	FramesReady   int           `json:"frames_ready,omitempty"`
	HasSequence   bool          `json:"has_sequence,omitempty"`
	// Resolutions lists the available envelope rates, finest first.
	Resolutions []int  `json:"resolutions,omitempty"`
	Error       string `json:"error,omitempty"`
}

func viewOf(st derive.State) DerivationView {
	v := DerivationView{
		Status:        st.Status,
		ExpectedCount: st.ExpectedCount,
		FramesReady:   len(st.Frames),
		HasSequence:   st.HasSequence,
		Error:         st.Err,
	}
	for _, r := range st.Envelope.Resolutions {
		v.Resolutions = append(v.Resolutions, r.SamplesPerSecond)
	}
	return v
}

// SegmentState pairs a segment's layout with its derivation state.
type SegmentState struct {
	Segment
	Derivation DerivationView `json:"derivation"`
}

// TrackState is a Track with live derivation state per segment.
type TrackState struct {
	ID           composition.TrackID       `json:"id"`
	MediaType    composition.MediaType     `json:"media_type"`
	Segments     []SegmentState            `json:"segments"`
	VolumePoints []composition.VolumePoint `json:"volume_points,omitempty"`
}

// View is a read-only snapshot of the whole timeline.
type View struct {
	Duration    float64          `json:"duration"`
	NaturalSize composition.Size `json:"natural_size"`
	HasAudioMix bool             `json:"has_audio_mix"`
	PassID      string           `json:"pass_id,omitempty"`
	Cancelled   bool             `json:"cancelled"`

	// Instructions have unbounded ends resolved against the composition.
	Instructions []InstructionSpan `json:"instructions,omitempty"`
	Tracks       []TrackState      `json:"tracks"`
	Preview      DerivationView    `json:"preview"`
	Counts       map[string]int    `json:"counts"`
}
