package envelope

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"timeline-inspector/internal/timerange"
)

var (
	// ErrUnsupportedSource is returned when a decoder cannot read the source format.
	ErrUnsupportedSource = errors.New("unsupported audio source")

	// ErrUnboundedRange is returned for a source range without a finite end.
	ErrUnboundedRange = errors.New("source range is unbounded")

	// ErrNoAudioStream is returned when the source carries no audio at all.
	// Extract treats it as an empty envelope rather than a failure.
	ErrNoAudioStream = errors.New("source has no audio stream")
)

// Stream is an open decode session yielding interleaved samples in [-1,1].
type Stream interface {
	SampleRate() int
	Channels() int
	// Read fills dst and returns the number of samples written.
	// It returns io.EOF once the range is exhausted.
	Read(dst []float64) (int, error)
	Close() error
}

// Decoder opens sample-accurate decode sessions over a source time range.
type Decoder interface {
	Open(ctx context.Context, source string, r timerange.Range) (Stream, error)
}

// MultiDecoder routes .wav sources to a native decoder and everything else
// (or WAV variants the native decoder rejects) to the fallback.
type MultiDecoder struct {
	WAV      Decoder
	Fallback Decoder
}

// Open implements Decoder.
func (m MultiDecoder) Open(ctx context.Context, source string, r timerange.Range) (Stream, error) {
	if m.WAV != nil && strings.EqualFold(filepath.Ext(source), ".wav") {
		s, err := m.WAV.Open(ctx, source, r)
		if err == nil || !errors.Is(err, ErrUnsupportedSource) || m.Fallback == nil {
			return s, err
		}
	}
	if m.Fallback == nil {
		return nil, ErrUnsupportedSource
	}
	return m.Fallback.Open(ctx, source, r)
}
