package timerange

// Range is a half-open interval [Start, Start+Duration).
// A Duration of Infinity means the range is unbounded at the end.
type Range struct {
	Start    Time `json:"start"`
	Duration Time `json:"duration"`
}

// NewRange returns the normalized range starting at start lasting duration.
func NewRange(start, duration Time) Range {
	return Range{Start: start.Normalize(), Duration: duration.Normalize()}
}

// Span returns the range [start, end). An end before start yields an empty range.
func Span(start, end Time) Range {
	if end.Before(start) {
		return NewRange(start, Zero)
	}
	return NewRange(start, end.Sub(start))
}

// End returns Start+Duration, or Infinity for an unbounded range.
func (r Range) End() Time {
	return r.Start.Add(r.Duration)
}

// Duration returns the length of r.
func Duration(r Range) Time {
	return r.Duration
}

// IsEmpty reports whether r covers no time. Negative durations count as empty.
func IsEmpty(r Range) bool {
	return r.Duration.Cmp(Zero) <= 0
}

// Contains reports whether t lies in [Start, End).
func (r Range) Contains(t Time) bool {
	return !t.Before(r.Start) && t.Before(r.End())
}

// Intersect returns the overlap of a and b. Disjoint ranges yield an empty
// range positioned at the later start.
func Intersect(a, b Range) Range {
	start := Max(a.Start, b.Start)
	end := Min(a.End(), b.End())
	return Span(start, end)
}

// ClampEndToDuration bounds r so it ends no later than total. Unbounded
// ranges become finite; ranges starting at or after total become empty.
func ClampEndToDuration(r Range, total Time) Range {
	if !r.Start.Before(total) {
		return NewRange(r.Start, Zero)
	}
	return Span(r.Start, Min(r.End(), total))
}
