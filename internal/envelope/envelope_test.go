package envelope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"timeline-inspector/internal/timerange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func secRange(start, dur int64) timerange.Range {
	return timerange.NewRange(timerange.Seconds(start), timerange.Seconds(dur))
}

type fakeStream struct {
	rate     int
	channels int
	samples  []float64
	pos      int
	failAt   int // fail reads once pos reaches failAt; 0 disables
	onRead   func()
	closed   bool
}

func (s *fakeStream) SampleRate() int { return s.rate }
func (s *fakeStream) Channels() int   { return s.channels }

func (s *fakeStream) Read(dst []float64) (int, error) {
	if s.onRead != nil {
		s.onRead()
	}
	if s.failAt > 0 && s.pos >= s.failAt {
		return 0, errors.New("corrupt packet")
	}
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeDecoder hands out a fresh stream over the same samples on every Open.
type fakeDecoder struct {
	mu       sync.Mutex
	rate     int
	channels int
	samples  []float64
	openErr  map[int]error // by 0-based Open call
	failAt   int
	onRead   func()
	opens    int
	streams  []*fakeStream
}

func (d *fakeDecoder) Open(ctx context.Context, source string, r timerange.Range) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call := d.opens
	d.opens++
	if err := d.openErr[call]; err != nil {
		return nil, err
	}
	ch := d.channels
	if ch == 0 {
		ch = 1
	}
	s := &fakeStream{rate: d.rate, channels: ch, samples: d.samples, failAt: d.failAt, onRead: d.onRead}
	d.streams = append(d.streams, s)
	return s, nil
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		rms  float64
		want float64
	}{
		{"silence", 0, 0},
		{"full_scale", 1, 1},
		{"floor", 0.001, 0},
		{"below_floor", 0.0001, 0},
		{"minus_20db", 0.1, 2.0 / 3.0},
		{"nan", math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.rms, DefaultDBFloor)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Normalize(%v) = %v, want %v", tt.rms, got, tt.want)
			}
		})
	}
}

func TestSmooth(t *testing.T) {
	t.Run("short_inputs_unchanged", func(t *testing.T) {
		in := []float64{0.2, 0.8}
		out := Smooth(in)
		if len(out) != 2 || out[0] != 0.2 || out[1] != 0.8 {
			t.Errorf("Smooth(%v) = %v", in, out)
		}
	})
	t.Run("interior_weighted_ends_raw", func(t *testing.T) {
		out := Smooth([]float64{1, 0, 1, 0})
		want := []float64{1, 0.5, 0.5, 0}
		for i := range want {
			if out[i] != want[i] {
				t.Fatalf("Smooth = %v, want %v", out, want)
			}
		}
	})
}

func TestSamplesForScale(t *testing.T) {
	env := Envelope{ReferenceRate: 200}
	for _, rate := range []int{25, 100, 200, 50} {
		env = env.With(Resolution{SamplesPerSecond: rate, Samples: []float64{float64(rate)}})
	}

	tests := []struct {
		name  string
		scale float64
		want  int
	}{
		{"full", 1, 200},
		{"above_one", 3, 200},
		{"infinite", math.Inf(1), 200},
		{"half", 0.5, 100},
		{"between", 0.3, 50},
		{"below_coarsest", 0.1, 25},
		{"zero", 0, 25},
		{"negative", -1, 25},
		{"nan", math.NaN(), 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := env.SamplesForScale(tt.scale)
			if len(got) != 1 || int(got[0]) != tt.want {
				t.Errorf("SamplesForScale(%v) = %v, want rate %d", tt.scale, got, tt.want)
			}
			if res, ok := env.ResolutionForScale(tt.scale); !ok || res.SamplesPerSecond != tt.want {
				t.Errorf("ResolutionForScale(%v) = %d, want %d", tt.scale, res.SamplesPerSecond, tt.want)
			}
		})
	}

	t.Run("empty_envelope", func(t *testing.T) {
		if got := (Envelope{}).SamplesForScale(1); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
		if _, ok := (Envelope{}).ResolutionForScale(1); ok {
			t.Error("empty envelope should report no resolution")
		}
	})
}

func TestEnvelope_With_replaces_rate(t *testing.T) {
	env := Envelope{}.With(Resolution{SamplesPerSecond: 50, Samples: []float64{0}})
	env = env.With(Resolution{SamplesPerSecond: 50, Samples: []float64{1}})
	if len(env.Resolutions) != 1 || env.Resolutions[0].Samples[0] != 1 {
		t.Errorf("expected replaced resolution, got %+v", env.Resolutions)
	}
}

func TestExtract_ten_seconds_at_50(t *testing.T) {
	const sr = 1000
	// Each 20-frame chunk has a constant amplitude cycling through five levels.
	samples := make([]float64, 10*sr)
	for i := range samples {
		chunk := i / (sr / 50)
		samples[i] = float64(chunk%5+1) / 5
	}
	dec := &fakeDecoder{rate: sr, samples: samples}
	x := NewExtractor(dec, Options{Rates: []int{50}}, testLogger())

	env, err := x.Extract(context.Background(), Request{Source: "a.wav", SourceRange: secRange(0, 10)}, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(env.Resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(env.Resolutions))
	}
	got := env.Resolutions[0].Samples
	if len(got) != 500 {
		t.Fatalf("expected 500 samples, got %d", len(got))
	}

	raw := make([]float64, 500)
	for i := range raw {
		raw[i] = Normalize(float64(i%5+1)/5, DefaultDBFloor)
	}
	for i, v := range got {
		if v < 0 || v > 1 {
			t.Fatalf("sample %d = %v out of [0,1]", i, v)
		}
	}
	if math.Abs(got[0]-raw[0]) > 1e-9 || math.Abs(got[499]-raw[499]) > 1e-9 {
		t.Errorf("end samples should be raw: got %v,%v want %v,%v", got[0], got[499], raw[0], raw[499])
	}
	for _, i := range []int{1, 250, 498} {
		want := (raw[i-1] + 2*raw[i] + raw[i+1]) / 4
		if math.Abs(got[i]-want) > 1e-9 {
			t.Errorf("sample %d = %v, want smoothed %v", i, got[i], want)
		}
	}
	for _, s := range dec.streams {
		if !s.closed {
			t.Error("decode session not closed")
		}
	}
}

func TestExtract_sample_count(t *testing.T) {
	tests := []struct {
		name     string
		samples  int
		channels int
		want     int
	}{
		{"extra_data_discarded", 12000, 1, 500},
		{"short_stream_flushes_partial_chunk", 9990, 1, 500},
		{"much_shorter_stream", 5000, 1, 250},
		{"stereo_frames", 20000, 2, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := &fakeDecoder{rate: 1000, channels: tt.channels, samples: constant(tt.samples, 0.5)}
			x := NewExtractor(dec, Options{Rates: []int{50}}, testLogger())
			env, err := x.Extract(context.Background(), Request{Source: "a", SourceRange: secRange(0, 10)}, nil)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if n := len(env.Resolutions[0].Samples); n != tt.want {
				t.Errorf("expected %d samples, got %d", tt.want, n)
			}
		})
	}
}

func TestExtract_fractional_duration_rounds_up(t *testing.T) {
	dec := &fakeDecoder{rate: 1000, samples: constant(2000, 0.5)}
	x := NewExtractor(dec, Options{Rates: []int{25}}, testLogger())
	// 1.001s at 25/s needs ceil(25.025) = 26 samples.
	r := timerange.NewRange(timerange.Zero, timerange.New(1001, 1000))
	env, err := x.Extract(context.Background(), Request{Source: "a", SourceRange: r}, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n := len(env.Resolutions[0].Samples); n != 26 {
		t.Errorf("expected 26 samples, got %d", n)
	}
}

func TestExtract_zero_length(t *testing.T) {
	dec := &fakeDecoder{rate: 1000}
	x := NewExtractor(dec, Options{}, testLogger())
	env, err := x.Extract(context.Background(), Request{Source: "a", SourceRange: secRange(3, 0)}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !env.IsEmpty() {
		t.Errorf("expected empty envelope, got %+v", env)
	}
	if dec.opens != 0 {
		t.Errorf("decoder should not be opened, got %d opens", dec.opens)
	}
}

func TestExtract_unbounded(t *testing.T) {
	x := NewExtractor(&fakeDecoder{rate: 1000}, Options{}, testLogger())
	r := timerange.NewRange(timerange.Zero, timerange.Infinity)
	if _, err := x.Extract(context.Background(), Request{SourceRange: r}, nil); !errors.Is(err, ErrUnboundedRange) {
		t.Errorf("expected ErrUnboundedRange, got %v", err)
	}
}

func TestExtract_resolution_failure_isolated(t *testing.T) {
	dec := &fakeDecoder{
		rate:    1000,
		samples: constant(1000, 0.25),
		openErr: map[int]error{1: ErrUnsupportedSource},
	}
	x := NewExtractor(dec, Options{Rates: []int{100, 50, 25}}, testLogger())

	var emitted []int
	env, err := x.Extract(context.Background(), Request{Source: "a", SourceRange: secRange(0, 1)}, func(r Resolution) {
		emitted = append(emitted, r.SamplesPerSecond)
	})
	if !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("expected joined ErrUnsupportedSource, got %v", err)
	}
	if len(env.Resolutions) != 2 {
		t.Fatalf("expected 2 resolutions, got %d", len(env.Resolutions))
	}
	if env.Resolutions[0].SamplesPerSecond != 100 || env.Resolutions[1].SamplesPerSecond != 25 {
		t.Errorf("unexpected resolutions %+v", env.Resolutions)
	}
	if len(emitted) != 2 || emitted[0] != 100 || emitted[1] != 25 {
		t.Errorf("emitted = %v, want [100 25]", emitted)
	}
}

func TestExtract_all_resolutions_fail(t *testing.T) {
	// The first read succeeds, the second fails mid-stream.
	dec := &fakeDecoder{rate: 1000, samples: constant(10000, 0.25), failAt: 1}
	x := NewExtractor(dec, Options{Rates: []int{50, 25}}, testLogger())
	env, err := x.Extract(context.Background(), Request{Source: "a", SourceRange: secRange(0, 10)}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !env.IsEmpty() {
		t.Errorf("expected empty envelope, got %+v", env)
	}
}

func TestExtract_cancelled(t *testing.T) {
	t.Run("before_start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		x := NewExtractor(&fakeDecoder{rate: 1000, samples: constant(10000, 0.5)}, Options{}, testLogger())
		if _, err := x.Extract(ctx, Request{Source: "a", SourceRange: secRange(0, 10)}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("mid_stream", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		reads := 0
		dec := &fakeDecoder{rate: 1000, samples: constant(100000, 0.5), onRead: func() {
			reads++
			if reads == 2 {
				cancel()
			}
		}}
		x := NewExtractor(dec, Options{Rates: []int{50}}, testLogger())
		var emitted int
		env, err := x.Extract(ctx, Request{Source: "a", SourceRange: secRange(0, 100)}, func(Resolution) { emitted++ })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if !env.IsEmpty() || emitted != 0 {
			t.Errorf("expected nothing produced, got %d resolutions, %d emitted", len(env.Resolutions), emitted)
		}
	})
}

func TestNewExtractor_defaults(t *testing.T) {
	x := NewExtractor(&fakeDecoder{}, Options{Rates: []int{25, 0, 200, 25, -1}}, nil)
	got := x.Rates()
	if len(got) != 2 || got[0] != 200 || got[1] != 25 {
		t.Errorf("Rates() = %v, want [200 25]", got)
	}
	x = NewExtractor(&fakeDecoder{}, Options{}, nil)
	if len(x.Rates()) != len(DefaultRates) {
		t.Errorf("expected default ladder, got %v", x.Rates())
	}
}

// writeWAV writes a 16-bit mono file where each second holds a constant level.
func writeWAV(t *testing.T, sr int, levels []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, sr, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sr},
		Data:           make([]int, 0, sr*len(levels)),
		SourceBitDepth: 16,
	}
	for _, lvl := range levels {
		for i := 0; i < sr; i++ {
			buf.Data = append(buf.Data, lvl)
		}
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVDecoder(t *testing.T) {
	path := writeWAV(t, 8000, []int{0, 16384, 0})

	st, err := WAVDecoder{}.Open(context.Background(), path, secRange(1, 1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if st.SampleRate() != 8000 || st.Channels() != 1 {
		t.Fatalf("format = %d Hz x %d", st.SampleRate(), st.Channels())
	}

	buf := make([]float64, 3000)
	total := 0
	for {
		n, err := st.Read(buf)
		for _, v := range buf[:n] {
			if v != 0.5 {
				t.Fatalf("sample %d = %v, want 0.5", total, v)
			}
			total++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if total != 8000 {
		t.Errorf("expected 8000 samples, got %d", total)
	}
}

func TestWAVDecoder_errors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := WAVDecoder{}.Open(context.Background(), filepath.Join(t.TempDir(), "none.wav"), secRange(0, 1))
		if err == nil {
			t.Error("expected error")
		}
	})
	t.Run("not_a_wav", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bogus.wav")
		if err := os.WriteFile(path, []byte("definitely not riff data"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := WAVDecoder{}.Open(context.Background(), path, secRange(0, 1))
		if !errors.Is(err, ErrUnsupportedSource) {
			t.Errorf("expected ErrUnsupportedSource, got %v", err)
		}
	})
}

// writeFloatWAV writes an IEEE-float (format 3) mono file holding v throughout.
func writeFloatWAV(t *testing.T, sr int, seconds int, v float32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "float.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, sr, 32, 1, 3)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sr},
		Data:           make([]int, sr*seconds),
		SourceBitDepth: 32,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int32(math.Float32bits(v)))
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVDecoder_float_format(t *testing.T) {
	path := writeFloatWAV(t, 8000, 1, 0.001)

	t.Run("rejected_natively", func(t *testing.T) {
		st, err := WAVDecoder{}.Open(context.Background(), path, secRange(0, 1))
		if err == nil {
			st.Close()
		}
		if !errors.Is(err, ErrUnsupportedSource) {
			t.Errorf("expected ErrUnsupportedSource, got %v", err)
		}
	})

	t.Run("routed_to_fallback", func(t *testing.T) {
		var calls []string
		m := MultiDecoder{
			WAV:      WAVDecoder{},
			Fallback: recordingDecoder{name: "ffmpeg", calls: &calls},
		}
		if _, err := m.Open(context.Background(), path, secRange(0, 1)); err != nil {
			t.Fatalf("Open: %v", err)
		}
		if len(calls) != 1 || calls[0] != "ffmpeg" {
			t.Errorf("calls = %v, want [ffmpeg]", calls)
		}
	})
}

func TestExtract_no_audio_stream(t *testing.T) {
	tests := []struct {
		name string
		dec  *fakeDecoder
	}{
		{"on_open", &fakeDecoder{rate: 1000, openErr: map[int]error{0: ErrNoAudioStream}}},
		{"wrapped", &fakeDecoder{rate: 1000, openErr: map[int]error{0: fmt.Errorf("ffmpeg decode: %w", ErrNoAudioStream)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewExtractor(tt.dec, Options{Rates: []int{50, 25}}, testLogger())
			emitted := 0
			env, err := x.Extract(context.Background(), Request{Source: "clip.mp4", SourceRange: secRange(0, 4)}, func(Resolution) { emitted++ })
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !env.IsEmpty() || emitted != 0 {
				t.Errorf("expected empty envelope, got %d resolutions", len(env.Resolutions))
			}
			if tt.dec.opens != 1 {
				t.Errorf("opens = %d, want 1", tt.dec.opens)
			}
		})
	}
}

func TestNoAudioStream(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"Output file #0 does not contain any stream", true},
		{"Output file does not contain any stream", true},
		{"Stream map '0:a' matches no streams.", true},
		{"clip.mp4: Invalid data found when processing input", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := noAudioStream(tt.stderr); got != tt.want {
			t.Errorf("noAudioStream(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestExtract_with_wav_file(t *testing.T) {
	path := writeWAV(t, 8000, []int{32767, 0})
	x := NewExtractor(WAVDecoder{}, Options{Rates: []int{25}}, testLogger())
	env, err := x.Extract(context.Background(), Request{Source: path, SourceRange: secRange(0, 2)}, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got := env.Resolutions[0].Samples
	if len(got) != 50 {
		t.Fatalf("expected 50 samples, got %d", len(got))
	}
	if got[10] < 0.99 {
		t.Errorf("loud second should be near 1, got %v", got[10])
	}
	if got[40] != 0 {
		t.Errorf("silent second should be 0, got %v", got[40])
	}
}

type recordingDecoder struct {
	name  string
	err   error
	calls *[]string
}

func (d recordingDecoder) Open(ctx context.Context, source string, r timerange.Range) (Stream, error) {
	*d.calls = append(*d.calls, d.name)
	if d.err != nil {
		return nil, d.err
	}
	return &fakeStream{rate: 1000, channels: 1}, nil
}

func TestMultiDecoder(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wavErr  error
		want    []string
		wantErr bool
	}{
		{"wav_native", "a.WAV", nil, []string{"wav"}, false},
		{"other_format", "a.mp3", nil, []string{"ffmpeg"}, false},
		{"unsupported_wav_falls_back", "a.wav", ErrUnsupportedSource, []string{"wav", "ffmpeg"}, false},
		{"wav_open_error_returned", "a.wav", os.ErrNotExist, []string{"wav"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			m := MultiDecoder{
				WAV:      recordingDecoder{name: "wav", err: tt.wavErr, calls: &calls},
				Fallback: recordingDecoder{name: "ffmpeg", calls: &calls},
			}
			_, err := m.Open(context.Background(), tt.source, secRange(0, 1))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(calls) != len(tt.want) {
				t.Fatalf("calls = %v, want %v", calls, tt.want)
			}
			for i := range calls {
				if calls[i] != tt.want[i] {
					t.Errorf("calls = %v, want %v", calls, tt.want)
				}
			}
		})
	}
}

func TestFFmpegDecoder_rejects_before_spawning(t *testing.T) {
	d := FFmpegDecoder{Path: "/nonexistent/ffmpeg"}
	t.Run("unbounded", func(t *testing.T) {
		_, err := d.Open(context.Background(), "a.mp3", timerange.NewRange(timerange.Zero, timerange.Infinity))
		if !errors.Is(err, ErrUnboundedRange) {
			t.Errorf("expected ErrUnboundedRange, got %v", err)
		}
	})
	t.Run("missing_file", func(t *testing.T) {
		_, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "none.mp3"), secRange(0, 1))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected os.ErrNotExist, got %v", err)
		}
	})
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(timerange.New(3, 2)); got != "1.500000" {
		t.Errorf("formatSeconds = %q", got)
	}
}
