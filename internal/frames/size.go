package frames

import "math"

// FitSize scales w×h down to fit within maxW×maxH, preserving aspect ratio.
// Sizes already within bounds are returned unchanged; a non-positive bound
// does not constrain that axis.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale == 1 {
		return w, h
	}
	fw := int(math.Max(1, math.Round(float64(w)*scale)))
	fh := int(math.Max(1, math.Round(float64(h)*scale)))
	return fw, fh
}
