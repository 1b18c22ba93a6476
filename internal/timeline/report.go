package timeline

import (
	"fmt"
	"strings"

	"timeline-inspector/internal/composition"
	"timeline-inspector/internal/derive"
)

// BuildStatusReport renders v as a plain-text report: a header, the
// instruction row, one line per segment in display order with the volume
// curve of audio tracks, and the preview pass last.
func BuildStatusReport(v View) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("#TIMELINE duration=%.3fs size=%dx%d\n", v.Duration, v.NaturalSize.Width, v.NaturalSize.Height))
	if v.PassID != "" {
		b.WriteString(fmt.Sprintf("#PASS %s\n", v.PassID))
	}
	if v.Cancelled {
		b.WriteString("#CANCELLED\n")
	}
	if len(v.Instructions) > 0 {
		b.WriteString("\ninstructions\n")
		for _, in := range v.Instructions {
			b.WriteString(fmt.Sprintf("  %8.3f +%.3f %s\n", in.Range.Start, in.Range.Duration, in.Label))
		}
	}

	for _, t := range v.Tracks {
		b.WriteString(fmt.Sprintf("\n%s track %d\n", t.MediaType, t.ID))
		for _, s := range t.Segments {
			b.WriteString(fmt.Sprintf("  [%d] %8.3f +%.3f ", s.Index, s.TargetRange.Start, s.TargetRange.Duration))
			if s.Empty {
				b.WriteString("gap\n")
				continue
			}
			b.WriteString(s.Source)
			b.WriteString(" ")
			b.WriteString(derivationSummary(t.MediaType, s.Derivation))
			b.WriteString("\n")
		}
		if len(t.VolumePoints) > 0 {
			b.WriteString("  volume")
			for _, p := range t.VolumePoints {
				b.WriteString(fmt.Sprintf(" %.3f:%.2f", p.Time, p.Volume))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\npreview ")
	b.WriteString(derivationSummary(composition.MediaVideo, v.Preview))
	b.WriteString("\n")
	return b.String()
}

func derivationSummary(mt composition.MediaType, d DerivationView) string {
	switch {
	case d.Status == derive.StatusFailed && d.FramesReady > 0:
		return fmt.Sprintf("failed at %d/%d frames (%s)", d.FramesReady, d.ExpectedCount, d.Error)
	case d.Status == derive.StatusFailed:
		return fmt.Sprintf("failed (%s)", d.Error)
	case mt == composition.MediaAudio:
		return fmt.Sprintf("%s %d resolutions", d.Status, len(d.Resolutions))
	case d.Status == derive.StatusComplete && !d.HasSequence:
		return fmt.Sprintf("%s no frames", d.Status)
	default:
		return fmt.Sprintf("%s %d/%d frames", d.Status, d.FramesReady, d.ExpectedCount)
	}
}
