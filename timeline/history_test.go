package timeline_test

import (
	"testing"

	"gioui.org/io/pointer"

	"github.com/go-playground/assert/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/timeline"
)

func TestUndoRedoRestoresExactState(t *testing.T) {
	m := timeline.NewModel(testProject(riffline.Item{ID: "a", Duration: 1}))
	m.SetChords(riffline.ChordProgression{{Name: "C", Beats: 4}}, timeline.Local)
	before := m.Project()

	m.History().Push()
	it, _ := m.FindItem("a")
	it.StartTime = 3
	m.UpdateItem(it, timeline.Local)
	m.AddTrack(riffline.Track{ID: "t2", Order: 1}, timeline.Local)
	m.SetChords(riffline.ChordProgression{{Name: "G", Beats: 2}}, timeline.Local)
	after := m.Project()

	m.History().Undo().Do()
	assert.Equal(t, m.Project(), before)
	m.History().Redo().Do()
	assert.Equal(t, m.Project(), after)
}

func TestPushClearsRedo(t *testing.T) {
	m := timeline.NewModel(testProject(riffline.Item{ID: "a", Duration: 1}))
	m.History().Push()
	m.RemoveItem("a", timeline.Local)
	m.History().Undo().Do()
	if !m.History().Redo().Enabled() {
		t.Fatalf("redo should be enabled after undo")
	}
	m.History().Push()
	if m.History().Redo().Enabled() {
		t.Fatalf("push should invalidate redo")
	}
}

func TestUndoClearsSelection(t *testing.T) {
	m := timeline.NewModel(testProject(riffline.Item{ID: "a", Duration: 1}))
	m.Select("a")
	m.History().Push()
	m.History().Undo().Do()
	assert.Equal(t, m.Selection(), "")
}

func TestHistoryDepthIsCapped(t *testing.T) {
	m := timeline.NewModel(testProject(riffline.Item{ID: "a", Duration: 1}))
	m.SetMaxUndo(5)
	for i := 0; i < 20; i++ {
		m.History().Push()
		it, _ := m.FindItem("a")
		it.StartTime = float64(i + 1)
		m.UpdateItem(it, timeline.Local)
		if undo, _ := m.History().Depth(); undo > 5 {
			t.Fatalf("undo depth %d exceeds cap", undo)
		}
	}
	for m.History().Undo().Enabled() {
		m.History().Undo().Do()
		if _, redo := m.History().Depth(); redo > 5 {
			t.Fatalf("redo depth %d exceeds cap", redo)
		}
	}
	// the oldest snapshots were dropped: five undos go back to 15
	it, _ := m.FindItem("a")
	assert.Equal(t, it.StartTime, 15.0)
}

func TestUndoAnnouncesDifference(t *testing.T) {
	m := timeline.NewModel(testProject(riffline.Item{ID: "a", Duration: 1}, riffline.Item{ID: "b", StartTime: 2, Duration: 1}))
	m.History().Push()
	m.RemoveItem("a", timeline.Local)
	it, _ := m.FindItem("b")
	it.StartTime = 4
	m.UpdateItem(it, timeline.Local)
	m.AddItem(riffline.Item{ID: "c", TrackID: "t1", StartTime: 8, Duration: 1}, timeline.Local)

	rec := &changeRecorder{}
	m.Listen(rec)
	m.History().Undo().Do()
	assert.Equal(t, rec.kinds(), []timeline.ChangeKind{timeline.HistoryRestored})
	c := rec.changes[0]
	assert.Equal(t, len(c.Added), 1)
	assert.Equal(t, c.Added[0].ID, "a")
	assert.Equal(t, len(c.Items), 1)
	assert.Equal(t, c.Items[0].StartTime, 2.0)
	assert.Equal(t, c.Deleted, []string{"c"})
}

func TestUndoDisabledDuringGesture(t *testing.T) {
	m := timeline.NewModel(testProject(riffline.Item{ID: "a", Duration: 1}))
	m.History().Push()
	d := timeline.NewDragController(m, timeline.Viewport{PixelsPerSecond: 100})
	d.Event("a", ev(pointer.Press, 10))
	if m.History().Undo().Enabled() {
		t.Fatalf("undo should be disabled while dragging")
	}
	d.Event("", ev(pointer.Release, 10))
	if !m.History().Undo().Enabled() {
		t.Fatalf("undo should be enabled after the gesture ends")
	}
}
