// Package derive runs and tracks the derivation of audio envelopes and
// preview frame sequences for every segment of a composition.
//
// All state changes flow as typed events through a single owner goroutine,
// the only writer of the Repository. Generators never touch state directly.
package derive

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"timeline-inspector/internal/composition"
	"timeline-inspector/internal/envelope"
	"timeline-inspector/internal/frames"
	"timeline-inspector/internal/platform/metrics"
	"timeline-inspector/internal/timerange"
)

// eventBuffer sizes the owner's inbox.
const eventBuffer = 64

// EnvelopeGenerator extracts multi-resolution envelopes.
type EnvelopeGenerator interface {
	Extract(ctx context.Context, req envelope.Request, emit func(envelope.Resolution)) (envelope.Envelope, error)
}

// FrameGenerator builds lazy frame sequences.
type FrameGenerator interface {
	Sample(asset frames.Asset, r timerange.Range) *frames.Sequence
}

type eventKind int

const (
	evDispatched eventKind = iota
	evResolution
	evFrame
	evComplete
	evFailed
)

type event struct {
	kind        eventKind
	key         Key
	expected    int
	hasSequence bool
	resolution  envelope.Resolution
	envelope    envelope.Envelope
	frame       frames.Frame
	err         error
}

// job is one unit of dispatchable work.
type job struct {
	key   Key
	kind  Kind
	audio envelope.Request
	asset frames.Asset
	rng   timerange.Range
}

// Coordinator owns the derivation state of one composition.
type Coordinator struct {
	comp      *composition.Composition
	envelopes EnvelopeGenerator
	frames    FrameGenerator
	repo      Repository
	log       *slog.Logger
	metrics   *metrics.Metrics

	frameSem *semaphore.Weighted
	envSem   *semaphore.Weighted // nil when unbounded

	jobs   []job
	events chan event
	done   chan struct{}
	notify *notifier
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	cancelled bool
	cancel    context.CancelFunc
	passID    string
}

// New registers every segment of comp with repo and returns a Coordinator
// ready for BeginDerivation. Gap segments start complete. Segments sharing a
// structural key on the same track share one derivation. m may be nil.
func New(comp *composition.Composition, env EnvelopeGenerator, fr FrameGenerator, repo Repository, cfg Config, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	cfg = cfg.withDefaults()
	if repo == nil {
		repo = NewInMemoryRepository()
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		comp:      comp,
		envelopes: env,
		frames:    fr,
		repo:      repo,
		log:       log,
		metrics:   m,
		frameSem:  semaphore.NewWeighted(int64(cfg.MaxConcurrentFrameSessions)),
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		notify:    newNotifier(),
	}
	if cfg.MaxConcurrentEnvelopeSessions > 0 {
		c.envSem = semaphore.NewWeighted(int64(cfg.MaxConcurrentEnvelopeSessions))
	}
	c.plan()
	return c
}

func (c *Coordinator) plan() {
	for _, track := range composition.SortForDisplay(c.comp.Tracks) {
		var kind Kind
		switch track.MediaType {
		case composition.MediaAudio:
			kind = KindEnvelope
		case composition.MediaVideo:
			kind = KindFrames
		default:
			c.log.Warn("skipping track with unknown media type",
				slog.Int("track_id", int(track.ID)),
				slog.String("media_type", string(track.MediaType)))
			continue
		}

		for _, seg := range track.Segments {
			key := SegmentKeyFor(track.ID, seg)
			if seg.IsEmpty() {
				c.repo.Register(key, kind, StatusComplete)
				continue
			}
			if !c.repo.Register(key, kind, StatusUnrequested) {
				continue
			}
			src := seg.SourceWithin(c.comp.Duration)
			j := job{key: key, kind: kind, rng: src}
			if kind == KindEnvelope {
				j.audio = envelope.Request{Source: seg.Source, SourceRange: src}
			} else {
				j.asset = frames.Asset{Source: seg.Source}
			}
			c.jobs = append(c.jobs, j)
		}
	}

	whole := timerange.NewRange(timerange.Zero, c.comp.Duration)
	if !c.comp.HasVideo() || timerange.IsEmpty(whole) || whole.Duration.IsInfinite() {
		c.repo.Register(PreviewKey, KindPreview, StatusComplete)
		return
	}
	c.repo.Register(PreviewKey, KindPreview, StatusUnrequested)
	c.jobs = append(c.jobs, job{
		key:   PreviewKey,
		kind:  KindPreview,
		asset: frames.Asset{Composition: c.comp},
		rng:   whole,
	})
}

// BeginDerivation dispatches every pending derivation. It is idempotent:
// later calls, and calls after CancelAll, do nothing. Work stops when ctx
// is done or CancelAll is called.
func (c *Coordinator) BeginDerivation(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		c.log.Debug("derivation already cancelled, ignoring begin")
		return
	}
	if c.started {
		c.log.Debug("derivation already started", slog.String("pass_id", c.passID))
		return
	}
	c.started = true
	c.passID = uuid.NewString()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	log := c.log.With(slog.String("pass_id", c.passID))
	log.Info("derivation started", slog.Int("jobs", len(c.jobs)))

	go c.own(runCtx, log)
	for _, j := range c.jobs {
		c.wg.Add(1)
		if j.kind == KindEnvelope {
			go c.runEnvelope(runCtx, log, j)
		} else {
			go c.runFrames(runCtx, log, j)
		}
	}
	go func() {
		c.wg.Wait()
		close(c.events)
	}()
}

// CancelAll freezes the observed state and stops all in-flight work. No
// event is applied after it returns. It is terminal and idempotent.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return
	}
	c.cancelled = true
	c.repo.Freeze()
	if c.cancel != nil {
		c.cancel()
	} else {
		close(c.done)
	}
	c.log.Info("derivation cancelled", slog.String("pass_id", c.passID))
	c.notify.broadcast()
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	return c.repo.Snapshot()
}

// Subscribe returns a channel signalled after state changes. Signals
// coalesce; read Snapshot on wake-up.
func (c *Coordinator) Subscribe() <-chan struct{} {
	return c.notify.subscribe()
}

// Unsubscribe stops signals to ch.
func (c *Coordinator) Unsubscribe(ch <-chan struct{}) {
	c.notify.unsubscribe(ch)
}

// Done is closed once the pass has drained, or on CancelAll before it began.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// PassID identifies the running pass in logs; empty before BeginDerivation.
func (c *Coordinator) PassID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passID
}

// own is the single writer of the repository.
func (c *Coordinator) own(ctx context.Context, log *slog.Logger) {
	defer func() {
		c.mu.Lock()
		c.cancel()
		c.mu.Unlock()
		close(c.done)
		c.notify.broadcast()
		log.Info("derivation drained")
	}()
	for ev := range c.events {
		c.apply(ctx, log, ev)
	}
}

func (c *Coordinator) apply(ctx context.Context, log *slog.Logger, ev event) {
	if ctx.Err() != nil {
		c.repo.Freeze()
		return
	}

	var err error
	switch ev.kind {
	case evDispatched:
		err = c.repo.Update(ev.key, StatusRequested, func(st *State) {
			st.ExpectedCount = ev.expected
			st.HasSequence = ev.hasSequence
		})
	case evResolution:
		err = c.repo.Update(ev.key, StatusStreaming, func(st *State) {
			st.Envelope = st.Envelope.With(ev.resolution)
		})
	case evFrame:
		err = c.repo.Update(ev.key, StatusStreaming, func(st *State) {
			if len(st.Frames) < st.ExpectedCount {
				st.Frames = append(st.Frames, ev.frame)
			}
		})
	case evComplete:
		err = c.repo.Update(ev.key, StatusComplete, func(st *State) {
			if st.Kind == KindEnvelope {
				st.Envelope = ev.envelope
			}
		})
	case evFailed:
		err = c.repo.Update(ev.key, StatusFailed, func(st *State) {
			st.Err = ev.err.Error()
		})
	}

	if err != nil {
		if !errors.Is(err, ErrFrozen) {
			log.Warn("dropped derivation event", slog.String("error", err.Error()))
		}
		return
	}
	c.notify.broadcast()
}

// send delivers ev to the owner unless ctx is done first.
func (c *Coordinator) send(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) runEnvelope(ctx context.Context, log *slog.Logger, j job) {
	defer c.wg.Done()

	if c.envSem != nil {
		if err := c.envSem.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.envSem.Release(1)
	}
	if !c.send(ctx, event{kind: evDispatched, key: j.key}) {
		return
	}
	c.countStarted(j.kind)

	env, err := c.envelopes.Extract(ctx, j.audio, func(res envelope.Resolution) {
		c.send(ctx, event{kind: evResolution, key: j.key, resolution: res})
	})
	if ctx.Err() != nil {
		return
	}
	failed := joinedCount(err)
	if c.metrics != nil {
		c.metrics.AddEnvelopeResolutions("ok", len(env.Resolutions))
		c.metrics.AddEnvelopeResolutions("failed", failed)
	}

	attrs := []any{
		slog.Int("track_id", int(j.key.TrackID)),
		slog.String("source", j.audio.Source),
	}
	if err != nil && env.IsEmpty() {
		log.Warn("envelope derivation failed", append(attrs, slog.String("error", err.Error()))...)
		c.finish(ctx, j, event{kind: evFailed, key: j.key, err: err})
		return
	}
	if err != nil {
		log.Info("envelope derived with missing resolutions",
			append(attrs, slog.Int("failed", failed), slog.String("error", err.Error()))...)
	}
	c.finish(ctx, j, event{kind: evComplete, key: j.key, envelope: env})
}

func (c *Coordinator) runFrames(ctx context.Context, log *slog.Logger, j job) {
	defer c.wg.Done()

	// The slot is held until the terminal event is queued, so a waiting
	// session is only requested after a running one completes or fails.
	if err := c.frameSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.frameSem.Release(1)
	if c.metrics != nil {
		c.metrics.IncOpenFrameSessions()
		defer c.metrics.DecOpenFrameSessions()
	}

	seq := c.frames.Sample(j.asset, j.rng)
	if seq == nil {
		if c.send(ctx, event{kind: evDispatched, key: j.key}) {
			c.finish(ctx, j, event{kind: evComplete, key: j.key})
		}
		return
	}
	if !c.send(ctx, event{kind: evDispatched, key: j.key, expected: seq.ExpectedCount(), hasSequence: true}) {
		return
	}
	c.countStarted(j.kind)

	ch, err := seq.Frames(ctx)
	if err != nil {
		c.finish(ctx, j, event{kind: evFailed, key: j.key, err: err})
		return
	}
	n := 0
	for f := range ch {
		if c.send(ctx, event{kind: evFrame, key: j.key, frame: f}) {
			n++
			if c.metrics != nil {
				c.metrics.IncFramesDecoded()
			}
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := seq.Err(); err != nil {
		log.Warn("frame derivation failed",
			slog.Int("track_id", int(j.key.TrackID)),
			slog.Bool("preview", j.key.Preview),
			slog.String("source", j.asset.Source),
			slog.Int("frames", n),
			slog.String("error", err.Error()))
		c.finish(ctx, j, event{kind: evFailed, key: j.key, err: err})
		return
	}
	c.finish(ctx, j, event{kind: evComplete, key: j.key})
}

func (c *Coordinator) countStarted(kind Kind) {
	if c.metrics != nil {
		c.metrics.IncDerivationsStarted(string(kind))
	}
}

func (c *Coordinator) finish(ctx context.Context, j job, ev event) {
	if !c.send(ctx, ev) || c.metrics == nil {
		return
	}
	outcome := "complete"
	if ev.kind == evFailed {
		outcome = "failed"
	}
	c.metrics.IncDerivationsFinished(string(j.kind), outcome)
}

// joinedCount returns how many errors err carries.
func joinedCount(err error) int {
	if err == nil {
		return 0
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return len(j.Unwrap())
	}
	return 1
}
