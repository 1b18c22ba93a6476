package derive

import (
	"log/slog"

	"timeline-inspector/internal/envelope"
	"timeline-inspector/internal/frames"
)

// DefaultMaxConcurrentFrameSessions bounds simultaneous frame decode sessions.
const DefaultMaxConcurrentFrameSessions = 2

// Config tunes a derivation pass. Zero fields take defaults.
type Config struct {
	// ResolutionRates is the envelope ladder in samples per second.
	ResolutionRates []int
	// MaxConcurrentFrameSessions is shared by segment and preview sampling.
	MaxConcurrentFrameSessions int
	// MaxConcurrentEnvelopeSessions bounds envelope extraction; 0 is unbounded.
	MaxConcurrentEnvelopeSessions int
	FrameSampleIntervalSeconds    float64
	DBFloor                       float64
	MaxFrameWidth                 int
	MaxFrameHeight                int
	AudioDecodeSampleRate         int
	FFmpegPath                    string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		ResolutionRates:            append([]int(nil), envelope.DefaultRates...),
		MaxConcurrentFrameSessions: DefaultMaxConcurrentFrameSessions,
		FrameSampleIntervalSeconds: frames.DefaultIntervalSeconds,
		DBFloor:                    envelope.DefaultDBFloor,
		MaxFrameWidth:              frames.DefaultMaxWidth,
		MaxFrameHeight:             frames.DefaultMaxHeight,
		AudioDecodeSampleRate:      envelope.DefaultDecodeSampleRate,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.ResolutionRates) == 0 {
		c.ResolutionRates = d.ResolutionRates
	}
	if c.MaxConcurrentFrameSessions <= 0 {
		c.MaxConcurrentFrameSessions = d.MaxConcurrentFrameSessions
	}
	if c.MaxConcurrentEnvelopeSessions < 0 {
		c.MaxConcurrentEnvelopeSessions = 0
	}
	if c.FrameSampleIntervalSeconds <= 0 {
		c.FrameSampleIntervalSeconds = d.FrameSampleIntervalSeconds
	}
	if c.DBFloor >= 0 {
		c.DBFloor = d.DBFloor
	}
	if c.MaxFrameWidth <= 0 {
		c.MaxFrameWidth = d.MaxFrameWidth
	}
	if c.MaxFrameHeight <= 0 {
		c.MaxFrameHeight = d.MaxFrameHeight
	}
	if c.AudioDecodeSampleRate <= 0 {
		c.AudioDecodeSampleRate = d.AudioDecodeSampleRate
	}
	return c
}

// NewGenerators builds the ffmpeg-backed envelope extractor and frame
// sampler described by cfg. WAV sources are decoded natively.
func NewGenerators(cfg Config, log *slog.Logger) (*envelope.Extractor, *frames.Sampler) {
	cfg = cfg.withDefaults()
	audio := envelope.MultiDecoder{
		WAV:      envelope.WAVDecoder{},
		Fallback: envelope.FFmpegDecoder{Path: cfg.FFmpegPath, SampleRate: cfg.AudioDecodeSampleRate},
	}
	ex := envelope.NewExtractor(audio, envelope.Options{
		Rates:   cfg.ResolutionRates,
		DBFloor: cfg.DBFloor,
	}, log)
	sm := frames.NewSampler(frames.FFmpegDecoder{Path: cfg.FFmpegPath}, frames.Options{
		IntervalSeconds: cfg.FrameSampleIntervalSeconds,
		MaxWidth:        cfg.MaxFrameWidth,
		MaxHeight:       cfg.MaxFrameHeight,
	}, log)
	return ex, sm
}
