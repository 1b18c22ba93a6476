package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"timeline-inspector/internal/timerange"
)

// ErrSequenceConsumed is returned when Frames is called a second time.
var ErrSequenceConsumed = errors.New("frame sequence already consumed")

// Frame is one decoded preview image.
type Frame struct {
	Index int
	Time  timerange.Time
	Image image.Image
}

// Sequence is a lazy, finite, non-restartable stream of frames at
// start + i*interval for i in [0, ExpectedCount).
type Sequence struct {
	dec      Decoder
	req      Request
	interval timerange.Time
	expected int
	log      *slog.Logger

	mu       sync.Mutex
	consumed bool
	err      error
}

func newSequence(dec Decoder, req Request, interval timerange.Time, expected int, log *slog.Logger) *Sequence {
	return &Sequence{dec: dec, req: req, interval: interval, expected: expected, log: log}
}

// ExpectedCount is the number of frames a complete stream yields.
func (s *Sequence) ExpectedCount() int {
	return s.expected
}

// Range returns the sampled time range.
func (s *Sequence) Range() timerange.Range {
	return s.req.Range
}

// TimeAt returns the instant frame i is decoded at.
func (s *Sequence) TimeAt(i int) timerange.Time {
	return s.req.Range.Start.Add(s.interval.Mul(int64(i)))
}

// Frames opens the decode session and streams frames in ascending time
// order. The channel is closed when the stream ends, fails or ctx is
// cancelled; Err reports why afterwards. A second call returns a closed
// channel and ErrSequenceConsumed.
func (s *Sequence) Frames(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(chan Frame)
	if s.consumed {
		close(out)
		return out, ErrSequenceConsumed
	}
	s.consumed = true
	go s.run(ctx, out)
	return out, nil
}

// Err returns the error that ended the stream, or nil on a complete stream.
// It is only meaningful once the Frames channel is closed.
func (s *Sequence) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Sequence) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Sequence) run(ctx context.Context, out chan<- Frame) {
	defer close(out)
	if s.expected == 0 {
		return
	}

	sess, err := s.dec.Open(ctx, s.req)
	if err != nil {
		s.setErr(fmt.Errorf("open frame session: %w", err))
		return
	}
	defer sess.Close()

	for i := 0; i < s.expected; i++ {
		if err := ctx.Err(); err != nil {
			s.setErr(err)
			return
		}
		at := s.TimeAt(i)
		img, err := sess.FrameAt(ctx, at)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.setErr(ctxErr)
				return
			}
			s.log.Debug("frame decode failed",
				slog.Int("index", i),
				slog.String("time", at.String()),
				slog.String("error", err.Error()))
			s.setErr(fmt.Errorf("decode frame %d at %s: %w", i, at, err))
			return
		}
		select {
		case out <- Frame{Index: i, Time: at, Image: img}:
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}
	}
}
