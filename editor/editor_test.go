package editor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gioui.org/f32"
	"gioui.org/io/pointer"
	"github.com/go-playground/assert/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/collab"
	"github.com/riffline/riffline/editor"
	"github.com/riffline/riffline/persist"
	"github.com/riffline/riffline/timeline"
)

func testProject() riffline.Project {
	return riffline.Project{
		ID:       "p",
		Settings: riffline.DefaultSettings(),
		Tracks:   []riffline.Track{{ID: "t1", Kind: riffline.MidiTrack, Volume: 1}},
		Items: []riffline.Item{
			{ID: "a", TrackID: "t1", Kind: riffline.MidiItem, StartTime: 0, Duration: 2},
			{ID: "b", TrackID: "t1", Kind: riffline.MidiItem, StartTime: 5, Duration: 1},
		},
	}
}

func newEditor(t *testing.T, mem *persist.Memory, bus collab.Bus, debounce time.Duration) *editor.Editor {
	t.Helper()
	e := editor.New(editor.Options{
		Project:     testProject(),
		Persister:   mem,
		Bus:         bus,
		Debounce:    debounce,
		ResyncGrace: 10 * time.Millisecond,
		RetryDelay:  10 * time.Millisecond,
		Viewport:    timeline.Viewport{PixelsPerSecond: 100},
	})
	e.Start(context.Background())
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ev(kind pointer.Kind, x float32) pointer.Event {
	return pointer.Event{Kind: kind, Position: f32.Pt(x, 0)}
}

// dragB drags item b so that it would land at 1.9s.
func dragB(e *editor.Editor) {
	e.PointerDrag("b", ev(pointer.Press, 550))
	e.PointerDrag("", ev(pointer.Drag, 300))
	e.PointerDrag("", ev(pointer.Release, 240))
}

func item(e *editor.Editor, id string) (ret riffline.Item, ok bool) {
	e.View(func(m *timeline.Model) { ret, ok = m.FindItem(id) })
	return
}

func TestDragIsPersistedInOneBatch(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, 20*time.Millisecond)
	dragB(e)
	b, _ := item(e, "b")
	assert.Equal(t, b.StartTime, 2.0)
	eventually(t, "the flush", func() bool { return len(mem.Bulks()) == 1 })
	bulk := mem.Bulks()[0]
	assert.Equal(t, len(bulk), 1)
	assert.Equal(t, bulk[0].ID, "b")
	assert.Equal(t, bulk[0].StartTime, 2.0)
	p, _ := mem.LoadProject(context.Background(), "p")
	assert.Equal(t, p.Items[1].StartTime, 2.0)
}

func TestUndoIsPersisted(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	dragB(e)
	if !e.Undo() {
		t.Fatalf("undo was not enabled")
	}
	b, _ := item(e, "b")
	assert.Equal(t, b.StartTime, 5.0)
	if err := e.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}
	bulk := mem.Bulks()[0]
	assert.Equal(t, bulk[0].StartTime, 5.0)
	if !e.Redo() {
		t.Fatalf("redo was not enabled")
	}
	b, _ = item(e, "b")
	assert.Equal(t, b.StartTime, 2.0)
}

func TestFailedFlushIsRetried(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	dragB(e)
	mem.SetFailure(errors.New("server down"))
	if err := e.FlushNow(context.Background()); err == nil {
		t.Fatalf("FlushNow succeeded while the server is down")
	}
	dirty, _ := e.Dirty()
	assert.Equal(t, dirty, []string{"b"})
	mem.SetFailure(nil)
	if err := e.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}
	dirty, _ = e.Dirty()
	assert.Equal(t, len(dirty), 0)
}

func TestOverlapDeletionIsPersisted(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	// a new four second item at 0 covers a completely
	it, ok := e.AddItem(riffline.Item{TrackID: "t1", Kind: riffline.LickItem, LickID: "l", Duration: 4})
	if !ok {
		t.Fatalf("AddItem failed")
	}
	if _, ok := item(e, "a"); ok {
		t.Fatalf("covered item was not deleted")
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p, _ := mem.LoadProject(context.Background(), "p")
	ids := map[string]bool{}
	for _, it := range p.Items {
		ids[it.ID] = true
	}
	assert.Equal(t, ids, map[string]bool{it.ID: true, "b": true})
}

func TestUndoneDeletionIsNotPersisted(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	if !e.DeleteItem("b") {
		t.Fatalf("DeleteItem failed")
	}
	if !e.Undo() {
		t.Fatalf("undo was not enabled")
	}
	_, deleted := e.Dirty()
	assert.Equal(t, len(deleted), 0)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p, _ := mem.LoadProject(context.Background(), "p")
	assert.Equal(t, len(p.Items), 2)
	assert.Equal(t, p.Items[1].ID, "b")
	assert.Equal(t, mem.Calls("DeleteItem"), 0)
}

func TestUndoOfFlushedDeletionRestoresItem(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	e.DeleteItem("b")
	if err := e.FlushNow(context.Background()); err != nil {
		t.Fatalf("FlushNow: %v", err)
	}
	p, _ := mem.LoadProject(context.Background(), "p")
	assert.Equal(t, len(p.Items), 1)
	e.Undo()
	e.Redo()
	e.Undo()
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p, _ = mem.LoadProject(context.Background(), "p")
	assert.Equal(t, len(p.Items), 2)
	assert.Equal(t, p.Items[1].StartTime, 5.0)
}

func TestUpdateItemTrimsOverlaps(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	b, _ := item(e, "b")
	b.StartTime = 1
	got, ok := e.UpdateItem(b)
	if !ok {
		t.Fatalf("UpdateItem failed")
	}
	assert.Equal(t, got.StartTime, 1.0)
	a, _ := item(e, "a")
	assert.Equal(t, a.StartTime, 0.0)
	assert.Equal(t, a.Duration, 1.0)

	// the item now covers a completely
	got.StartTime, got.Duration = 0, 3
	if _, ok := e.UpdateItem(got); !ok {
		t.Fatalf("UpdateItem failed")
	}
	if _, ok := item(e, "a"); ok {
		t.Fatalf("covered item was not deleted")
	}
	e.Undo()
	a, _ = item(e, "a")
	assert.Equal(t, a.Duration, 1.0)
	e.Undo()
	a, _ = item(e, "a")
	b, _ = item(e, "b")
	assert.Equal(t, a.Duration, 2.0)
	assert.Equal(t, b.StartTime, 5.0)

	if _, ok := e.UpdateItem(riffline.Item{ID: "b", TrackID: "nope", Duration: 1}); ok {
		t.Fatalf("UpdateItem accepted a missing track")
	}
}

func TestUpdateItemOverlapIsPersisted(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	b, _ := item(e, "b")
	b.StartTime = 1
	e.UpdateItem(b)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p, _ := mem.LoadProject(context.Background(), "p")
	assert.Equal(t, len(p.Items), 2)
	for _, it := range p.Items {
		switch it.ID {
		case "a":
			assert.Equal(t, it.End(), 1.0)
		case "b":
			assert.Equal(t, it.StartTime, 1.0)
		}
	}
}

func TestFailedAddIsRetried(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	mem.SetFailure(errors.New("server down"))
	added, ok := e.AddItem(riffline.Item{TrackID: "t1", Kind: riffline.ChordItem, ChordName: "C", StartTime: 8, Duration: 1})
	if !ok {
		t.Fatalf("AddItem failed")
	}
	eventually(t, "a retry", func() bool { return mem.Calls("AddItem") >= 2 })
	mem.SetFailure(nil)
	eventually(t, "the item to be stored", func() bool {
		p, _ := mem.LoadProject(context.Background(), "p")
		for _, it := range p.Items {
			if it.ID == added.ID {
				return true
			}
		}
		return false
	})
}

func TestMissingTrackDoesNotBlockQueue(t *testing.T) {
	mem := persist.NewMemory()
	// the server of record has lost track t1
	mem.Seed(riffline.Project{ID: "p", Settings: riffline.DefaultSettings()})
	e := newEditor(t, mem, nil, time.Hour)
	e.AddItem(riffline.Item{TrackID: "t1", Kind: riffline.ChordItem, ChordName: "C", StartTime: 8, Duration: 1})
	tr, _ := e.AddTrack(riffline.Track{Kind: riffline.BackingTrack, Order: 1, Volume: 1})
	eventually(t, "the track to be stored", func() bool {
		p, _ := mem.LoadProject(context.Background(), "p")
		return len(p.Tracks) == 1 && p.Tracks[0].ID == tr.ID
	})
	assert.Equal(t, mem.Calls("AddItem"), 1)
}

func TestTrackOperations(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	e := newEditor(t, mem, nil, time.Hour)
	tr, ok := e.AddTrack(riffline.Track{Kind: riffline.BackingTrack, Order: 1, Volume: 0.5})
	if !ok || tr.ID == "" {
		t.Fatalf("AddTrack failed")
	}
	tr.Muted = true
	e.UpdateTrack(tr)
	e.DeleteTrack("t1")
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p, _ := mem.LoadProject(context.Background(), "p")
	assert.Equal(t, len(p.Tracks), 1)
	assert.Equal(t, p.Tracks[0].Muted, true)
	assert.Equal(t, len(p.Items), 0)
	assert.Equal(t, mem.Calls("AddTrack"), 1)
	assert.Equal(t, mem.Calls("UpdateTrack"), 1)
	assert.Equal(t, mem.Calls("DeleteTrack"), 1)
}

func TestCloseWithoutStart(t *testing.T) {
	e := editor.New(editor.Options{Project: testProject(), Persister: persist.NewMemory()})
	if err := e.Close(context.Background()); !errors.Is(err, editor.ErrNotStarted) {
		t.Fatalf("Close: got %v, want ErrNotStarted", err)
	}
}

func TestTwoEditorsStayInSync(t *testing.T) {
	mem := persist.NewMemory()
	mem.Seed(testProject())
	bus := collab.NewLocalBus()
	alice := newEditor(t, mem, bus, 20*time.Millisecond)
	bob := newEditor(t, mem, bus, 20*time.Millisecond)
	// let the initial state requests settle
	time.Sleep(100 * time.Millisecond)

	dragB(alice)
	eventually(t, "bob to see the drag", func() bool {
		b, _ := item(bob, "b")
		return b.StartTime == 2.0
	})

	added, _ := bob.AddItem(riffline.Item{TrackID: "t1", Kind: riffline.ChordItem, ChordName: "Am", StartTime: 8, Duration: 2})
	eventually(t, "alice to see bob's item", func() bool {
		_, ok := item(alice, added.ID)
		return ok
	})

	alice.SetChords(riffline.ChordProgression{{Name: "Am", Beats: 4}, {Name: "F", Beats: 4}})
	tempo := 96.0
	alice.PatchSettings(timeline.SettingsPatch{Tempo: &tempo})
	eventually(t, "bob to see the settings", func() bool {
		p := bob.Project()
		return p.Settings.Tempo == 96 && len(p.Chords) == 2
	})

	eventually(t, "the flush", func() bool { return len(mem.Bulks()) > 0 })
	// only the editor that made a change persists it
	assert.Equal(t, mem.Calls("AddItem"), 1)
	for _, bulk := range mem.Bulks() {
		for _, r := range bulk {
			if r.ID != "b" {
				t.Errorf("unexpected record %s", r.ID)
			}
		}
	}
	assert.Equal(t, alice.Project(), bob.Project())
}
