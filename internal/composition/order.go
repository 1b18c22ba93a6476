package composition

import (
	"sort"

	"timeline-inspector/internal/timerange"
)

// SortForDisplay returns a copy of tracks ordered video first, then audio,
// each group by ascending id.
func SortForDisplay(tracks []Track) []Track {
	out := make([]Track, len(tracks))
	copy(out, tracks)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := mediaRank(out[i].MediaType), mediaRank(out[j].MediaType)
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func mediaRank(m MediaType) int {
	switch m {
	case MediaVideo:
		return 0
	case MediaAudio:
		return 1
	default:
		return 2
	}
}

// VideoAt resolves the composition instant t to the topmost video segment
// covering it, in display order. ok is false over gaps.
func (c *Composition) VideoAt(t timerange.Time) (seg Segment, sourceTime timerange.Time, ok bool) {
	for _, track := range SortForDisplay(c.Tracks) {
		if track.MediaType != MediaVideo {
			continue
		}
		for _, s := range track.Segments {
			target := s.TargetWithin(c.Duration)
			if s.IsEmpty() || !target.Contains(t) {
				continue
			}
			return s, s.SourceTime(t), true
		}
	}
	return Segment{}, timerange.Zero, false
}
