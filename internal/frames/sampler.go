// Package frames decodes evenly spaced preview frames from a media asset and
// streams them as they become available.
package frames

import (
	"context"
	"image"
	"log/slog"

	"timeline-inspector/internal/composition"
	"timeline-inspector/internal/timerange"
)

const (
	// DefaultIntervalSeconds is the spacing between sampled frames.
	DefaultIntervalSeconds = 1.0
	// DefaultMaxWidth bounds decoded frame width.
	DefaultMaxWidth = 200
	// DefaultMaxHeight bounds decoded frame height.
	DefaultMaxHeight = 200

	// intervalScale is the timescale the configured interval is converted to.
	intervalScale = 1000
)

// Asset is the media frames are taken from: either a single source file or
// the whole composition rendered under its effect program.
type Asset struct {
	Source      string
	Composition *composition.Composition
}

// IsComposition reports whether a resolves instants through a composition.
func (a Asset) IsComposition() bool {
	return a.Composition != nil
}

// Request is the read-only description of one decode session.
type Request struct {
	Asset Asset
	Range timerange.Range
	// MaxWidth and MaxHeight bound output frames, preserving aspect ratio.
	MaxWidth  int
	MaxHeight int
	// ApplyOrientation rotates frames by the source's orientation metadata.
	ApplyOrientation bool
}

// Session decodes frames at exact instants of the asset timeline.
type Session interface {
	FrameAt(ctx context.Context, t timerange.Time) (image.Image, error)
	Close() error
}

// Decoder opens frame decode sessions.
type Decoder interface {
	Open(ctx context.Context, req Request) (Session, error)
}

// Options configures a Sampler.
type Options struct {
	IntervalSeconds float64
	MaxWidth        int
	MaxHeight       int
}

// Sampler builds frame sequences over time ranges.
type Sampler struct {
	dec       Decoder
	interval  timerange.Time
	maxWidth  int
	maxHeight int
	log       *slog.Logger
}

// NewSampler returns a Sampler decoding through dec. Zero options take defaults.
func NewSampler(dec Decoder, opts Options, log *slog.Logger) *Sampler {
	interval := timerange.FromSeconds(opts.IntervalSeconds, intervalScale)
	if opts.IntervalSeconds <= 0 || interval.IsZero() || interval.IsInfinite() {
		interval = timerange.FromSeconds(DefaultIntervalSeconds, intervalScale)
	}
	maxW, maxH := opts.MaxWidth, opts.MaxHeight
	if maxW <= 0 {
		maxW = DefaultMaxWidth
	}
	if maxH <= 0 {
		maxH = DefaultMaxHeight
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{dec: dec, interval: interval, maxWidth: maxW, maxHeight: maxH, log: log}
}

// Interval returns the spacing between sampled instants.
func (s *Sampler) Interval() timerange.Time {
	return s.interval
}

// ExpectedCount returns floor(duration / interval) for r.
func (s *Sampler) ExpectedCount(r timerange.Range) int {
	return int(timerange.FloorDiv(timerange.Duration(r), s.interval))
}

// Sample returns a lazy sequence over r, or nil when r is empty. Unbounded
// ranges must be clamped by the caller and also yield nil.
func (s *Sampler) Sample(asset Asset, r timerange.Range) *Sequence {
	if timerange.IsEmpty(r) || r.Duration.IsInfinite() {
		return nil
	}
	req := Request{
		Asset:            asset,
		Range:            r,
		MaxWidth:         s.maxWidth,
		MaxHeight:        s.maxHeight,
		ApplyOrientation: true,
	}
	return newSequence(s.dec, req, s.interval, s.ExpectedCount(r), s.log)
}
