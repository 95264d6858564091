package timeline

import (
	"math"

	"gioui.org/io/pointer"
	"github.com/golang/glog"
	"github.com/riffline/riffline"
)

type (
	// Edge is the edge of an item that is grabbed for resizing.
	Edge int

	// ResizeController changes the length of items by dragging their left or
	// right edge. Like DragController, it only updates the ghost of the item
	// while the pointer moves and commits once on release.
	//
	// The right edge changes only the duration, bounded by the source that is
	// left after the item. The left edge moves the start time and the offset
	// together, so the rest of the item stays in place on the timeline and
	// keeps playing the same part of its source.
	ResizeController struct {
		Model    *Model
		Viewport Viewport

		resizing  bool
		pointerID pointer.ID
		edge      Edge
		item      riffline.Item // state at press
		originX   float32
		ghost     Ghost
	}
)

const (
	LeftEdge Edge = iota
	RightEdge
)

// NewResizeController returns a resize controller for the model.
func NewResizeController(m *Model, v Viewport) *ResizeController {
	return &ResizeController{Model: m, Viewport: v}
}

// Resizing reports whether a resize is in progress, and of which item.
func (r *ResizeController) Resizing() (string, bool) { return r.item.ID, r.resizing }

// Event feeds a pointer event to the controller. itemID and edge tell what
// was grabbed; they are only used by pointer.Press. Items with a fixed
// duration cannot be resized and their presses are not consumed.
func (r *ResizeController) Event(itemID string, edge Edge, e pointer.Event) bool {
	switch e.Kind {
	case pointer.Press:
		return r.press(itemID, edge, e)
	case pointer.Drag:
		if !r.resizing || e.PointerID != r.pointerID {
			return false
		}
		r.ghost = r.resized(e.Position.X)
		r.Model.setGhost(r.item.ID, r.ghost)
		return true
	case pointer.Release, pointer.Cancel:
		if !r.resizing || e.PointerID != r.pointerID {
			return false
		}
		r.release(e)
		return true
	}
	return false
}

func (r *ResizeController) press(itemID string, edge Edge, e pointer.Event) bool {
	if r.resizing {
		return false
	}
	it, ok := r.Model.FindItem(itemID)
	if !ok || it.FixedDuration() || !r.Model.beginGesture(itemID) {
		return false
	}
	r.resizing = true
	r.pointerID = e.PointerID
	r.edge = edge
	r.item = it
	r.originX = e.Position.X
	r.ghost = Ghost{StartTime: it.StartTime, Duration: it.Duration, Offset: it.Offset}
	r.Model.Select(itemID)
	return true
}

// resized returns the geometry of the item with the grabbed edge at x.
func (r *ResizeController) resized(x float32) Ghost {
	it := r.item
	delta := float64(x-r.originX) / float64(r.Viewport.PixelsPerSecond)
	if r.Viewport.PixelsPerSecond <= 0 || math.IsNaN(delta) {
		delta = 0
	}
	g := Ghost{StartTime: it.StartTime, Duration: it.Duration, Offset: it.Offset}
	switch r.edge {
	case RightEdge:
		maxDuration := it.Duration + it.Remaining()
		g.Duration = math.Min(math.Max(it.Duration+delta, riffline.MinClipDuration), maxDuration)
	case LeftEdge:
		// negative delta extends to the left, revealing source before the
		// offset; it can not go past the start of the source or of the
		// timeline
		lo := -math.Min(it.Offset, it.StartTime)
		hi := math.Max(it.Duration-riffline.MinClipDuration, 0)
		delta = math.Min(math.Max(delta, lo), hi)
		g.StartTime = it.StartTime + delta
		g.Offset = it.Offset + delta
		g.Duration = it.Duration - delta
	}
	return g
}

func (r *ResizeController) release(e pointer.Event) {
	r.resizing = false
	defer r.Model.endGesture()
	g := r.resized(e.Position.X)
	orig := r.item
	if g.StartTime == orig.StartTime && g.Duration == orig.Duration && g.Offset == orig.Offset {
		return
	}
	it, ok := r.Model.FindItem(orig.ID)
	if !ok {
		return
	}
	glog.V(1).Infof("[resize]%s [%.3f,%.3f)->[%.3f,%.3f)", it.ID, it.StartTime, it.End(), g.StartTime, g.StartTime+g.Duration)
	r.Model.History().Push()
	res := ResolveOverlaps(r.Model.ItemsOnTrack(it.TrackID), it.ID, g.StartTime, g.Duration)
	it.StartTime, it.Duration, it.Offset = g.StartTime, g.Duration, g.Offset
	r.Model.CommitItems(append(res.Trimmed, it), res.Deleted, Local)
}
