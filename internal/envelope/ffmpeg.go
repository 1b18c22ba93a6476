package envelope

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"timeline-inspector/internal/timerange"
)

// DefaultDecodeSampleRate is the rate ffmpeg resamples sources to.
const DefaultDecodeSampleRate = 44100

// FFmpegDecoder decodes any ffmpeg-readable source to mono s16le PCM,
// streamed from the subprocess stdout.
type FFmpegDecoder struct {
	// Path is the ffmpeg binary; "ffmpeg" when empty.
	Path string
	// SampleRate is the decode rate; DefaultDecodeSampleRate when zero.
	SampleRate int
}

// Open implements Decoder.
func (d FFmpegDecoder) Open(ctx context.Context, source string, r timerange.Range) (Stream, error) {
	if r.Duration.IsInfinite() {
		return nil, ErrUnboundedRange
	}
	if !strings.Contains(source, "://") {
		if _, err := os.Stat(source); err != nil {
			return nil, fmt.Errorf("open audio source: %w", err)
		}
	}

	rate := d.SampleRate
	if rate <= 0 {
		rate = DefaultDecodeSampleRate
	}
	bin := d.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin,
		"-nostdin",
		"-ss", formatSeconds(r.Start),
		"-t", formatSeconds(r.Duration),
		"-i", source,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-loglevel", "error",
		"pipe:1",
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	return &ffmpegStream{
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
		r:      bufio.NewReaderSize(stdout, 64<<10),
		rate:   rate,
	}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer
	r      *bufio.Reader
	rate   int
	buf    []byte

	waitOnce sync.Once
	waitErr  error
}

func (s *ffmpegStream) SampleRate() int { return s.rate }

func (s *ffmpegStream) Channels() int { return 1 }

func (s *ffmpegStream) Read(dst []float64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if cap(s.buf) < 2*len(dst) {
		s.buf = make([]byte, 2*len(dst))
	}
	buf := s.buf[:2*len(dst)]

	n, err := io.ReadFull(s.r, buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
		dst[i] = float64(v) / 32768
	}

	switch {
	case err == nil:
		return samples, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// ffmpeg exits non-zero when the source cannot be decoded.
		if werr := s.wait(); werr != nil {
			return samples, werr
		}
		if samples > 0 {
			return samples, nil
		}
		return 0, io.EOF
	default:
		return samples, fmt.Errorf("read ffmpeg output: %w", err)
	}
}

// Close kills the subprocess. Its exit status is ignored since readers
// routinely stop before ffmpeg reaches the end of the range.
func (s *ffmpegStream) Close() error {
	s.cancel()
	_ = s.wait()
	return nil
}

func (s *ffmpegStream) wait() error {
	s.waitOnce.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(s.stderr.String())
			switch {
			case noAudioStream(msg):
				s.waitErr = fmt.Errorf("ffmpeg decode: %w", ErrNoAudioStream)
			case msg != "":
				s.waitErr = fmt.Errorf("ffmpeg decode: %w: %s", err, msg)
			default:
				s.waitErr = fmt.Errorf("ffmpeg decode: %w", err)
			}
		}
	})
	return s.waitErr
}

// noAudioStream reports whether ffmpeg's stderr says the input had nothing
// left to map after -vn, i.e. no audio stream.
func noAudioStream(stderr string) bool {
	return strings.Contains(stderr, "does not contain any stream") ||
		strings.Contains(stderr, "matches no streams")
}

// formatSeconds renders t for ffmpeg's -ss/-t options.
func formatSeconds(t timerange.Time) string {
	return strconv.FormatFloat(t.Seconds(), 'f', 6, 64)
}
