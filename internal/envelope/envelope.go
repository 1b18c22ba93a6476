package envelope

import (
	"math"
	"sort"
)

// Resolution is one fixed-rate amplitude sequence, values in [0,1].
type Resolution struct {
	SamplesPerSecond int       `json:"samples_per_second"`
	Samples          []float64 `json:"samples"`
}

// Envelope is the multi-resolution amplitude curve of one audio segment.
// Resolutions are kept finest first.
type Envelope struct {
	// ReferenceRate is the rate a scale of 1.0 maps to. Defaults to the
	// finest resolution present.
	ReferenceRate int          `json:"reference_rate"`
	Resolutions   []Resolution `json:"resolutions"`
}

// IsEmpty reports whether the envelope holds no resolutions.
func (e Envelope) IsEmpty() bool {
	return len(e.Resolutions) == 0
}

// With returns a copy of e including r, replacing any resolution of the same rate.
func (e Envelope) With(r Resolution) Envelope {
	out := Envelope{ReferenceRate: e.ReferenceRate, Resolutions: make([]Resolution, 0, len(e.Resolutions)+1)}
	for _, existing := range e.Resolutions {
		if existing.SamplesPerSecond != r.SamplesPerSecond {
			out.Resolutions = append(out.Resolutions, existing)
		}
	}
	out.Resolutions = append(out.Resolutions, r)
	sort.SliceStable(out.Resolutions, func(i, j int) bool {
		return out.Resolutions[i].SamplesPerSecond > out.Resolutions[j].SamplesPerSecond
	})
	return out
}

// SamplesForScale returns the samples of the resolution ResolutionForScale
// picks, or nil for an empty envelope.
func (e Envelope) SamplesForScale(scale float64) []float64 {
	r, ok := e.ResolutionForScale(scale)
	if !ok {
		return nil
	}
	return r.Samples
}

// ResolutionForScale picks the finest resolution whose rate does not exceed
// floor(ReferenceRate * min(1, scale)), falling back to the coarsest.
// NaN and negative scales behave as 0.
func (e Envelope) ResolutionForScale(scale float64) (Resolution, bool) {
	if len(e.Resolutions) == 0 {
		return Resolution{}, false
	}
	if math.IsNaN(scale) || scale < 0 {
		scale = 0
	}
	ref := e.ReferenceRate
	if ref <= 0 {
		ref = e.Resolutions[0].SamplesPerSecond
	}
	target := int(math.Floor(float64(ref) * math.Min(1, scale)))
	for _, r := range e.Resolutions {
		if r.SamplesPerSecond <= target {
			return r, true
		}
	}
	return e.Resolutions[len(e.Resolutions)-1], true
}
