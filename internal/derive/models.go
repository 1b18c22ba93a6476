package derive

import (
	"time"

	"timeline-inspector/internal/composition"
	"timeline-inspector/internal/envelope"
	"timeline-inspector/internal/frames"
)

// Status is the lifecycle stage of one derivation.
type Status string

const (
	StatusUnrequested Status = "unrequested"
	StatusRequested   Status = "requested"
	StatusStreaming   Status = "streaming"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
)

// Kind is the artifact a derivation produces.
type Kind string

const (
	KindEnvelope Kind = "envelope"
	KindFrames   Kind = "frames"
	KindPreview  Kind = "preview"
)

// Key identifies a derivation. Segments are keyed structurally, so rebuilt
// but identical segments on the same track share state. The whole-composition
// preview uses PreviewKey.
type Key struct {
	TrackID composition.TrackID
	Segment composition.SegmentKey
	Preview bool
}

// PreviewKey is the key of the whole-composition frame pass.
var PreviewKey = Key{Preview: true}

// SegmentKeyFor returns the key of seg on track id.
func SegmentKeyFor(id composition.TrackID, seg composition.Segment) Key {
	return Key{TrackID: id, Segment: seg.Key()}
}

// State is the derived data and lifecycle of one key.
type State struct {
	Kind   Kind
	Status Status

	// Envelope is set for KindEnvelope keys and grows one resolution at a time.
	Envelope envelope.Envelope

	// Frames is append-only, in ascending time order.
	Frames []frames.Frame
	// ExpectedCount is the length of a complete frame sequence.
	ExpectedCount int
	// HasSequence is false when the sampled range was empty.
	HasSequence bool

	// Err is the diagnostic of a failed derivation.
	Err       string
	UpdatedAt time.Time
}

// clone returns a copy safe to hand out while the owner keeps appending.
func (s State) clone() State {
	s.Frames = s.Frames[:len(s.Frames):len(s.Frames)]
	return s
}

// Snapshot is a read-only view of every tracked derivation.
type Snapshot struct {
	Segments map[Key]State
	Preview  State
	// Cancelled is true once the pass was cancelled and state frozen.
	Cancelled bool
}

// Segment returns the state of key, reporting false for unknown keys.
func (s Snapshot) Segment(key Key) (State, bool) {
	st, ok := s.Segments[key]
	return st, ok
}

// Counts returns the number of tracked derivations per status, including
// the preview.
func (s Snapshot) Counts() map[Status]int {
	out := map[Status]int{
		StatusUnrequested: 0,
		StatusRequested:   0,
		StatusStreaming:   0,
		StatusComplete:    0,
		StatusFailed:      0,
	}
	for _, st := range s.Segments {
		out[st.Status]++
	}
	if s.Preview.Status != "" {
		out[s.Preview.Status]++
	}
	return out
}
