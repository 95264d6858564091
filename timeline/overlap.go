package timeline

import (
	"github.com/riffline/riffline"
)

// Resolution is the outcome of ResolveOverlaps: the new state of the items
// that were trimmed and the ids of the items that were removed.
type Resolution struct {
	Trimmed []riffline.Item
	Deleted []string
}

// ResolveOverlaps trims or deletes the items on a track that overlap the
// interval [start, start+duration) that the item movedID is about to occupy.
// The moved item always wins:
//
//   - an item that contains start is cut to end at start,
//   - an item that contains the end of the interval starts at the end of the
//     interval instead, with its offset advanced by the same amount so that it
//     keeps playing the same part of its source,
//   - an item that the interval covers completely is deleted,
//
// and an item that would become shorter than riffline.MinClipDuration is
// deleted as well. items are the items of the track; the moved item itself
// and items that do not overlap are left out of the result.
func ResolveOverlaps(items []riffline.Item, movedID string, start, duration float64) Resolution {
	var r Resolution
	end := start + duration
	for _, it := range items {
		if it.ID == movedID {
			continue
		}
		s, e := it.StartTime, it.End()
		switch {
		case end <= s || start >= e:
			// no overlap
		case start > s && start < e:
			it.Duration = start - s
			r.add(it)
		case end > s && end < e:
			cut := end - s
			it.StartTime = end
			it.Offset += cut
			it.Duration -= cut
			r.add(it)
		default:
			r.Deleted = append(r.Deleted, it.ID)
		}
	}
	return r
}

func (r *Resolution) add(it riffline.Item) {
	if it.Duration < riffline.MinClipDuration {
		r.Deleted = append(r.Deleted, it.ID)
		return
	}
	r.Trimmed = append(r.Trimmed, it)
}
