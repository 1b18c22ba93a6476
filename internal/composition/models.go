package composition

import (
	"timeline-inspector/internal/timerange"
)

// MediaType is the kind of media a track carries.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// TrackID is the stable identity of a track inside a composition.
type TrackID int32

// Size is a frame dimension in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the size has no area.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// TimeMapping places a source time range onto a target range of the track.
type TimeMapping struct {
	Source timerange.Range `json:"source"`
	Target timerange.Range `json:"target"`
}

// Segment is a contiguous placement of source material on a track.
// An empty Source marks a gap segment.
type Segment struct {
	Source  string      `json:"source,omitempty"`
	Mapping TimeMapping `json:"mapping"`
}

// IsEmpty reports whether the segment is a gap with no source media.
func (s Segment) IsEmpty() bool {
	return s.Source == ""
}

// SegmentKey is the structural identity of a segment: two segments with the
// same source and mapping share derived results even when rebuilt.
type SegmentKey struct {
	Source  string
	Mapping TimeMapping
}

// Key returns the structural identity of s.
func (s Segment) Key() SegmentKey {
	return SegmentKey{
		Source: s.Source,
		Mapping: TimeMapping{
			Source: timerange.NewRange(s.Mapping.Source.Start, s.Mapping.Source.Duration),
			Target: timerange.NewRange(s.Mapping.Target.Start, s.Mapping.Target.Duration),
		},
	}
}

// SourceTime maps a target instant onto the segment's source timeline.
// Retimed segments scale linearly.
func (s Segment) SourceTime(target timerange.Time) timerange.Time {
	offset := target.Sub(s.Mapping.Target.Start)
	if s.Mapping.Source.Duration != s.Mapping.Target.Duration {
		offset = offset.MulRatio(s.Mapping.Source.Duration, s.Mapping.Target.Duration)
	}
	return s.Mapping.Source.Start.Add(offset)
}

// TargetWithin returns the segment's target range clamped to total.
func (s Segment) TargetWithin(total timerange.Time) timerange.Range {
	return timerange.ClampEndToDuration(s.Mapping.Target, total)
}

// SourceWithin returns the source range with an unbounded duration replaced
// by the length of the target range clamped to total.
func (s Segment) SourceWithin(total timerange.Time) timerange.Range {
	src := s.Mapping.Source
	if !src.Duration.IsInfinite() {
		return src
	}
	return timerange.NewRange(src.Start, s.TargetWithin(total).Duration)
}

// VolumeRamp is one linear volume change over Range.
type VolumeRamp struct {
	StartVolume float64         `json:"start_volume"`
	EndVolume   float64         `json:"end_volume"`
	Range       timerange.Range `json:"range"`
}

// Instruction is one video-composition instruction: a labelled span of the
// timeline over which a single compositing program applies.
type Instruction struct {
	Label string
	Range timerange.Range
}

// Track is an ordered sequence of segments of one media type.
type Track struct {
	ID        TrackID          `json:"id"`
	MediaType MediaType        `json:"media_type"`
	Segments  []Segment        `json:"segments"`
	Volume    VolumeAutomation `json:"-"`
}

// Composition is the read-only description of a multi-track timeline.
// It is resolved once at load time and never mutated afterwards.
type Composition struct {
	Duration    timerange.Time
	NaturalSize Size
	// RenderSize overrides NaturalSize for the rendered composition, when set.
	RenderSize  Size
	VideoEffect string

	// Instructions are drawn as their own row above the tracks.
	Instructions []Instruction
	Tracks       []Track
}

// FrameSize returns the size frames of the whole composition render at.
func (c *Composition) FrameSize() Size {
	if !c.RenderSize.IsZero() {
		return c.RenderSize
	}
	return c.NaturalSize
}

// Track returns the track with the given id.
func (c *Composition) Track(id TrackID) (Track, bool) {
	for _, t := range c.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}

// HasVideo reports whether any track carries video.
func (c *Composition) HasVideo() bool {
	for _, t := range c.Tracks {
		if t.MediaType == MediaVideo {
			return true
		}
	}
	return false
}
