package timeline

import (
	"math"

	"gioui.org/io/key"
	"gioui.org/io/pointer"
	"github.com/golang/glog"
	"github.com/riffline/riffline"
)

type (
	// Viewport maps between timeline seconds and pointer x coordinates.
	Viewport struct {
		PixelsPerSecond float32
		// ScrollX is the x coordinate of time 0; negative when scrolled.
		ScrollX float32
	}

	// DragController moves items along their track with the pointer. It is a
	// two state machine: idle and dragging. While dragging, pointer moves only
	// update the ghost of the item; the model is written once, on release.
	DragController struct {
		Model    *Model
		Viewport Viewport
		// ThresholdBeats is passed on to the Snapper.
		ThresholdBeats float64
		// Overlay supplies the chord overlay edges for the backing track. If
		// nil, the chord progression of the model is used.
		Overlay Overlay
		// NoSnapModifier, if held at release, places the item exactly where
		// it was dropped.
		NoSnapModifier key.Modifiers

		dragging   bool
		pointerID  pointer.ID
		itemID     string
		origin     float64 // start time of the item when the drag started
		originX    float32
		grabOffset float32 // from the left edge of the item to the pointer
		candidate  float64
	}
)

// DefaultNoSnapModifier is the modifier that disables snapping by default.
const DefaultNoSnapModifier = key.ModShift

// TimeAt returns the timeline time at x.
func (v Viewport) TimeAt(x float32) float64 {
	if v.PixelsPerSecond <= 0 {
		return 0
	}
	return float64((x - v.ScrollX) / v.PixelsPerSecond)
}

// XAt returns the x coordinate of time t.
func (v Viewport) XAt(t float64) float32 {
	return float32(t)*v.PixelsPerSecond + v.ScrollX
}

// NewDragController returns a drag controller for the model.
func NewDragController(m *Model, v Viewport) *DragController {
	return &DragController{Model: m, Viewport: v, NoSnapModifier: DefaultNoSnapModifier}
}

// Dragging reports whether a drag is in progress, and of which item.
func (d *DragController) Dragging() (string, bool) { return d.itemID, d.dragging }

// Event feeds a pointer event to the controller. itemID is the item under
// the pointer; it is only used by pointer.Press. Returns true if the event
// was consumed.
func (d *DragController) Event(itemID string, e pointer.Event) bool {
	switch e.Kind {
	case pointer.Press:
		return d.press(itemID, e)
	case pointer.Drag:
		if !d.dragging || e.PointerID != d.pointerID {
			return false
		}
		d.move(e)
		return true
	case pointer.Release, pointer.Cancel:
		if !d.dragging || e.PointerID != d.pointerID {
			return false
		}
		d.release(e)
		return true
	}
	return false
}

func (d *DragController) press(itemID string, e pointer.Event) bool {
	if d.dragging {
		return false
	}
	it, ok := d.Model.FindItem(itemID)
	if !ok || !d.Model.beginGesture(itemID) {
		return false
	}
	d.dragging = true
	d.pointerID = e.PointerID
	d.itemID = itemID
	d.origin = it.StartTime
	d.originX = e.Position.X
	d.grabOffset = e.Position.X - d.Viewport.XAt(it.StartTime)
	d.candidate = it.StartTime
	d.Model.Select(itemID)
	return true
}

func (d *DragController) move(e pointer.Event) {
	it, ok := d.Model.FindItem(d.itemID)
	if !ok {
		return
	}
	d.candidate = d.candidateAt(e.Position.X)
	d.Model.setGhost(d.itemID, Ghost{StartTime: d.candidate, Duration: it.Duration, Offset: it.Offset})
}

// candidateAt keeps the point of the item that was grabbed under the pointer.
func (d *DragController) candidateAt(x float32) float64 {
	return math.Max(0, d.Viewport.TimeAt(x-d.grabOffset))
}

func (d *DragController) release(e pointer.Event) {
	id := d.itemID
	d.dragging = false
	d.itemID = ""
	defer d.Model.endGesture()
	if e.Position.X == d.originX {
		return // zero-length drag
	}
	it, ok := d.Model.FindItem(id)
	if !ok {
		return // deleted by a collaborator while dragging
	}
	final := d.candidateAt(e.Position.X)
	if !e.Modifiers.Contain(d.NoSnapModifier) {
		final = d.snapper().Snap(final, d.track(it.TrackID), d.Model.ItemsOnTrack(it.TrackID), id)
	}
	if final == d.origin {
		return
	}
	glog.V(1).Infof("[drag]%s %.3f->%.3f", id, d.origin, final)
	d.Model.History().Push()
	r := ResolveOverlaps(d.Model.ItemsOnTrack(it.TrackID), id, final, it.Duration)
	it.StartTime = final
	d.Model.CommitItems(append(r.Trimmed, it), r.Deleted, Local)
}

func (d *DragController) snapper() Snapper {
	overlay := d.Overlay
	if overlay == nil {
		overlay = d.Model.ChordOverlay()
	}
	return Snapper{SecondsPerBeat: d.Model.Settings().SecondsPerBeat(), ThresholdBeats: d.ThresholdBeats, Overlay: overlay}
}

func (d *DragController) track(id string) riffline.Track {
	t, _ := d.Model.Track(id)
	return t
}
