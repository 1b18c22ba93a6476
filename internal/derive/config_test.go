package derive

import (
	"testing"

	"timeline-inspector/internal/envelope"
	"timeline-inspector/internal/frames"
)

func TestConfig_withDefaults(t *testing.T) {
	got := Config{MaxConcurrentEnvelopeSessions: -3, DBFloor: 6}.withDefaults()
	if got.MaxConcurrentFrameSessions != DefaultMaxConcurrentFrameSessions {
		t.Errorf("MaxConcurrentFrameSessions = %d", got.MaxConcurrentFrameSessions)
	}
	if got.MaxConcurrentEnvelopeSessions != 0 {
		t.Errorf("negative envelope bound should mean unbounded, got %d", got.MaxConcurrentEnvelopeSessions)
	}
	if got.DBFloor != envelope.DefaultDBFloor {
		t.Errorf("non-negative floor should fall back, got %v", got.DBFloor)
	}
	if got.FrameSampleIntervalSeconds != frames.DefaultIntervalSeconds || got.MaxFrameWidth != frames.DefaultMaxWidth {
		t.Errorf("frame defaults not applied: %+v", got)
	}
	if len(got.ResolutionRates) != len(envelope.DefaultRates) {
		t.Errorf("ResolutionRates = %v", got.ResolutionRates)
	}

	custom := Config{ResolutionRates: []int{10}, MaxConcurrentFrameSessions: 4, DBFloor: -40}.withDefaults()
	if custom.ResolutionRates[0] != 10 || custom.MaxConcurrentFrameSessions != 4 || custom.DBFloor != -40 {
		t.Errorf("overrides lost: %+v", custom)
	}
}

func TestDefaultConfig_rates_are_copied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResolutionRates[0] = 1
	if envelope.DefaultRates[0] == 1 {
		t.Error("DefaultConfig should not alias the package default ladder")
	}
}

func TestNewGenerators(t *testing.T) {
	ex, sm := NewGenerators(Config{ResolutionRates: []int{25, 100}, FrameSampleIntervalSeconds: 0.5}, testLogger())
	if rates := ex.Rates(); len(rates) != 2 || rates[0] != 100 {
		t.Errorf("Rates = %v", rates)
	}
	if got := sm.Interval().Seconds(); got != 0.5 {
		t.Errorf("Interval = %v", got)
	}
}
