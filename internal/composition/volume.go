package composition

import (
	"sort"

	"timeline-inspector/internal/timerange"
)

// VolumeAutomation is the ordered set of volume ramps on an audio track.
type VolumeAutomation []VolumeRamp

// VolumePoint is one vertex of a track's volume curve.
type VolumePoint struct {
	Time   float64 `json:"time"`
	Volume float64 `json:"volume"`
}

// RampFrom returns the first ramp in effect at or after t. The enumeration
// terminates because every returned ramp ends strictly after t.
func (v VolumeAutomation) RampFrom(t timerange.Time) (VolumeRamp, bool) {
	best := -1
	for i, r := range v {
		if !r.Range.End().After(t) || timerange.IsEmpty(r.Range) {
			continue
		}
		if best < 0 || r.Range.Start.Before(v[best].Range.Start) {
			best = i
		}
	}
	if best < 0 {
		return VolumeRamp{}, false
	}
	return v[best], true
}

// VolumePoints returns the piecewise-linear volume curve over [0, trackEnd].
//
// A flat point is synthesized at 0 when the first ramp starts later and at
// trackEnd when the last ramp ends earlier. Unbounded ramps end at trackEnd.
// With no ramps the curve is a constant 1.0.
func VolumePoints(v VolumeAutomation, trackEnd timerange.Time) []VolumePoint {
	end := trackEnd.Seconds()
	var points []VolumePoint

	cursor := timerange.Zero
	for cursor.Before(trackEnd) {
		ramp, ok := v.RampFrom(cursor)
		if !ok {
			break
		}
		r := timerange.Span(timerange.Max(ramp.Range.Start, cursor), ramp.Range.End())
		r = timerange.ClampEndToDuration(r, trackEnd)
		if timerange.IsEmpty(r) {
			break
		}
		if len(points) == 0 && r.Start.After(timerange.Zero) {
			points = append(points, VolumePoint{Time: 0, Volume: ramp.StartVolume})
		}
		points = append(points,
			VolumePoint{Time: r.Start.Seconds(), Volume: ramp.StartVolume},
			VolumePoint{Time: r.End().Seconds(), Volume: ramp.EndVolume},
		)
		cursor = r.End()
	}

	if len(points) == 0 {
		return []VolumePoint{{Time: 0, Volume: 1}, {Time: end, Volume: 1}}
	}
	if last := points[len(points)-1]; last.Time < end {
		points = append(points, VolumePoint{Time: end, Volume: last.Volume})
	}
	return points
}

// VolumeAt evaluates the curve at t seconds, clamping outside its extent.
func VolumeAt(points []VolumePoint, t float64) float64 {
	if len(points) == 0 {
		return 1
	}
	if t <= points[0].Time {
		return points[0].Volume
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].Time > t })
	if i == len(points) {
		return points[len(points)-1].Volume
	}
	a, b := points[i-1], points[i]
	if b.Time == a.Time {
		return b.Volume
	}
	frac := (t - a.Time) / (b.Time - a.Time)
	return a.Volume + (b.Volume-a.Volume)*frac
}
