package envelope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"timeline-inspector/internal/timerange"
)

// wavFormatPCM is the fmt chunk tag for integer PCM.
const wavFormatPCM = 1

// WAVDecoder reads PCM WAV files natively, without spawning ffmpeg.
type WAVDecoder struct{}

// Open implements Decoder.
func (WAVDecoder) Open(ctx context.Context, source string, r timerange.Range) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", source, ErrUnsupportedSource)
	}
	// Only integer PCM is read natively; float and compressed variants go
	// to the fallback decoder.
	if dec.WavAudioFormat != wavFormatPCM {
		f.Close()
		return nil, fmt.Errorf("%s: %w: wav format %d", source, ErrUnsupportedSource, dec.WavAudioFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: locate PCM data: %w", source, err)
	}

	format := dec.Format()
	if format == nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", source, ErrUnsupportedSource)
	}
	rate := format.SampleRate
	channels := format.NumChannels
	depth := int(dec.SampleBitDepth())
	if rate <= 0 || channels <= 0 || depth <= 0 || depth > 32 {
		f.Close()
		return nil, fmt.Errorf("%s: %w: rate=%d channels=%d depth=%d", source, ErrUnsupportedSource, rate, channels, depth)
	}

	frame := timerange.New(1, int64(rate))
	remaining := int64(-1)
	if !r.Duration.IsInfinite() {
		remaining = timerange.CeilMul(r.Duration, int64(rate)) * int64(channels)
	}

	return &wavStream{
		f:         f,
		dec:       dec,
		format:    format,
		rate:      rate,
		channels:  channels,
		depth:     depth,
		skip:      timerange.FloorDiv(r.Start, frame) * int64(channels),
		remaining: remaining,
	}, nil
}

type wavStream struct {
	f         *os.File
	dec       *wav.Decoder
	format    *audio.Format
	rate      int
	channels  int
	depth     int
	skip      int64
	remaining int64
	buf       *audio.IntBuffer
}

func (s *wavStream) SampleRate() int { return s.rate }

func (s *wavStream) Channels() int { return s.channels }

func (s *wavStream) Read(dst []float64) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	want := len(dst)
	if s.remaining > 0 && int64(want) > s.remaining {
		want = int(s.remaining)
	}

	for s.skip > 0 {
		n := want
		if int64(n) > s.skip {
			n = int(s.skip)
		}
		got, err := s.pcm(n)
		if err != nil {
			return 0, err
		}
		s.skip -= int64(got)
	}

	got, err := s.pcm(want)
	if err != nil {
		return 0, err
	}
	full := float64(int64(1) << (s.depth - 1))
	for i, v := range s.buf.Data[:got] {
		if s.depth == 8 {
			// 8-bit WAV samples are unsigned.
			v -= 128
		}
		dst[i] = float64(v) / full
	}
	if s.remaining > 0 {
		s.remaining -= int64(got)
	}
	return got, nil
}

// pcm reads up to n samples into s.buf, mapping end of data to io.EOF.
func (s *wavStream) pcm(n int) (int, error) {
	if s.buf == nil || cap(s.buf.Data) < n {
		s.buf = &audio.IntBuffer{Format: s.format, Data: make([]int, n), SourceBitDepth: s.depth}
	}
	s.buf.Data = s.buf.Data[:n]
	got, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decode wav: %w", err)
	}
	if got == 0 {
		return 0, io.EOF
	}
	return got, nil
}

func (s *wavStream) Close() error {
	return s.f.Close()
}
