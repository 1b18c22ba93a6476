package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"timeline-inspector/internal/timerange"
)

// ErrNoFrame is returned when ffmpeg produced no image for an instant,
// typically because it lies past the end of the source.
var ErrNoFrame = errors.New("no frame decoded")

// FFmpegDecoder extracts single exact frames as PNG through ffmpeg.
type FFmpegDecoder struct {
	// Path is the ffmpeg binary; "ffmpeg" when empty.
	Path string
}

// Open implements Decoder. Source files are checked up front so a missing
// asset fails the session rather than every frame.
func (d FFmpegDecoder) Open(ctx context.Context, req Request) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Asset.IsComposition() {
		if req.Asset.Source == "" {
			return nil, errors.New("frame asset has no source")
		}
		if !strings.Contains(req.Asset.Source, "://") {
			if _, err := os.Stat(req.Asset.Source); err != nil {
				return nil, fmt.Errorf("open video source: %w", err)
			}
		}
	}
	bin := d.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	return &ffmpegSession{bin: bin, req: req}, nil
}

type ffmpegSession struct {
	bin string
	req Request
}

func (s *ffmpegSession) FrameAt(ctx context.Context, t timerange.Time) (image.Image, error) {
	if !s.req.Asset.IsComposition() {
		return s.extract(ctx, s.req.Asset.Source, t, s.boundedScale())
	}

	comp := s.req.Asset.Composition
	fs := comp.FrameSize()
	w, h := FitSize(fs.Width, fs.Height, s.req.MaxWidth, s.req.MaxHeight)
	if w == 0 || h == 0 {
		w, h = s.req.MaxWidth, s.req.MaxHeight
	}

	seg, srcTime, ok := comp.VideoAt(t)
	if !ok {
		return blankFrame(w, h), nil
	}
	filter := fmt.Sprintf("scale=%d:%d", w, h)
	if comp.VideoEffect != "" {
		filter += "," + comp.VideoEffect
	}
	return s.extract(ctx, seg.Source, srcTime, filter)
}

func (s *ffmpegSession) Close() error { return nil }

// boundedScale shrinks frames larger than the bounds and leaves smaller ones.
func (s *ffmpegSession) boundedScale() string {
	return fmt.Sprintf(`scale=w=min(%d\,iw):h=min(%d\,ih):force_original_aspect_ratio=decrease`,
		s.req.MaxWidth, s.req.MaxHeight)
}

func (s *ffmpegSession) extract(ctx context.Context, source string, at timerange.Time, filter string) (image.Image, error) {
	args := []string{"-nostdin", "-loglevel", "error"}
	if !s.req.ApplyOrientation {
		args = append(args, "-noautorotate")
	}
	args = append(args,
		"-accurate_seek",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 6, 64),
		"-i", source,
		"-frames:v", "1",
		"-an",
		"-vf", filter,
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg frame: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg frame: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s at %s: %w", source, at, ErrNoFrame)
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode png frame: %w", err)
	}
	return img, nil
}

// blankFrame fills composition gaps.
func blankFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
	return img
}
