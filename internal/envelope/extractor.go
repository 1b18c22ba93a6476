package envelope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"timeline-inspector/internal/timerange"
)

// DefaultRates is the resolution ladder used when Options.Rates is empty.
var DefaultRates = []int{200, 100, 50, 25}

// readBlock is the number of samples pulled from a stream per Read call.
const readBlock = 4096

// Options configures an Extractor.
type Options struct {
	// Rates lists the output resolutions in samples per second.
	Rates []int
	// DBFloor is the level mapped to 0; DefaultDBFloor when zero.
	DBFloor float64
}

// Request identifies the audio to reduce. It is never mutated.
type Request struct {
	Source      string
	SourceRange timerange.Range
}

// Extractor reduces decoded audio to multi-resolution amplitude envelopes.
// It holds no per-request state and may be shared between goroutines.
type Extractor struct {
	dec     Decoder
	rates   []int
	dbFloor float64
	log     *slog.Logger
}

// NewExtractor returns an Extractor reading sources through dec.
func NewExtractor(dec Decoder, opts Options, log *slog.Logger) *Extractor {
	rates := normalizeRates(opts.Rates)
	if len(rates) == 0 {
		rates = normalizeRates(DefaultRates)
	}
	dbFloor := opts.DBFloor
	if dbFloor >= 0 {
		dbFloor = DefaultDBFloor
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{dec: dec, rates: rates, dbFloor: dbFloor, log: log}
}

// Rates returns the configured resolution ladder, finest first.
func (x *Extractor) Rates() []int {
	return append([]int(nil), x.rates...)
}

// Extract computes one resolution per configured rate, calling emit (if
// non-nil) as each resolution completes. A zero-length range, or a source
// without an audio stream, yields an empty envelope and no error.
//
// A resolution that fails does not stop the others. The returned error is
// the join of all resolution failures; it is non-nil together with a
// non-empty envelope when only some resolutions failed. When ctx is
// cancelled Extract returns the resolutions finished so far and ctx.Err().
func (x *Extractor) Extract(ctx context.Context, req Request, emit func(Resolution)) (Envelope, error) {
	env := Envelope{ReferenceRate: x.rates[0]}
	if timerange.IsEmpty(req.SourceRange) {
		return env, nil
	}
	if req.SourceRange.Duration.IsInfinite() {
		return env, ErrUnboundedRange
	}

	var errs []error
	for _, rate := range x.rates {
		res, err := x.resolution(ctx, req, rate)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return env, ctxErr
		}
		if errors.Is(err, ErrNoAudioStream) {
			x.log.Debug("source has no audio", slog.String("source", req.Source))
			return env, nil
		}
		if err != nil {
			x.log.Warn("envelope resolution failed",
				slog.String("source", req.Source),
				slog.Int("rate", rate),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("rate %d: %w", rate, err))
			continue
		}
		env = env.With(res)
		x.log.Debug("envelope resolution ready",
			slog.String("source", req.Source),
			slog.Int("rate", rate),
			slog.Int("samples", len(res.Samples)))
		if emit != nil {
			emit(res)
		}
	}
	return env, errors.Join(errs...)
}

func (x *Extractor) resolution(ctx context.Context, req Request, rate int) (Resolution, error) {
	st, err := x.dec.Open(ctx, req.Source, req.SourceRange)
	if err != nil {
		return Resolution{}, fmt.Errorf("open decode session: %w", err)
	}
	defer st.Close()

	channels := st.Channels()
	if channels < 1 {
		channels = 1
	}
	framesPerChunk := st.SampleRate() / rate
	if framesPerChunk < 1 {
		framesPerChunk = 1
	}
	target := timerange.CeilMul(timerange.Duration(req.SourceRange), int64(rate))
	red := newReducer(framesPerChunk*channels, target, x.dbFloor)

	buf := make([]float64, readBlock)
	for !red.full() {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}
		n, readErr := st.Read(buf)
		for _, s := range buf[:n] {
			if !red.push(s) {
				continue
			}
			if red.full() {
				break
			}
			if err := ctx.Err(); err != nil {
				return Resolution{}, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			red.flush()
			break
		}
		if readErr != nil {
			return Resolution{}, fmt.Errorf("decode: %w", readErr)
		}
	}

	return Resolution{SamplesPerSecond: rate, Samples: Smooth(red.out)}, nil
}

// normalizeRates drops non-positive and duplicate rates and sorts finest first.
func normalizeRates(rates []int) []int {
	seen := make(map[int]bool, len(rates))
	out := make([]int, 0, len(rates))
	for _, r := range rates {
		if r <= 0 || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}
