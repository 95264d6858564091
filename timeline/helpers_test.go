package timeline_test

import (
	"gioui.org/f32"
	"gioui.org/io/key"
	"gioui.org/io/pointer"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/timeline"
)

type changeRecorder struct {
	changes []timeline.Change
}

func (r *changeRecorder) ModelChanged(c timeline.Change) {
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) kinds() []timeline.ChangeKind {
	var ret []timeline.ChangeKind
	for _, c := range r.changes {
		ret = append(ret, c.Kind)
	}
	return ret
}

func ev(kind pointer.Kind, x float32) pointer.Event {
	return pointer.Event{Kind: kind, Position: f32.Pt(x, 10)}
}

func evMod(kind pointer.Kind, x float32, mod key.Modifiers) pointer.Event {
	e := ev(kind, x)
	e.Modifiers = mod
	return e
}

// testProject is 120 BPM with one midi track and the given items on it.
func testProject(items ...riffline.Item) riffline.Project {
	for i := range items {
		items[i].TrackID = "t1"
		if items[i].Kind == "" {
			items[i].Kind = riffline.MidiItem
		}
	}
	return riffline.Project{
		ID:       "p",
		Settings: riffline.DefaultSettings(),
		Tracks:   []riffline.Track{{ID: "t1", Kind: riffline.MidiTrack, Volume: 1}},
		Items:    items,
	}
}

func assertNoOverlaps(t interface{ Fatalf(string, ...any) }, items []riffline.Item) {
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if items[i].Overlaps(items[j]) {
				t.Fatalf("items %s [%v,%v) and %s [%v,%v) overlap", items[i].ID, items[i].StartTime, items[i].End(), items[j].ID, items[j].StartTime, items[j].End())
			}
		}
	}
}
