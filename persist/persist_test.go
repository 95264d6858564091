package persist_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/persist"
)

func TestRecordOfChordFieldsOnlyForChords(t *testing.T) {
	events := []riffline.MidiEvent{{Pitch: 60, Duration: 1, Velocity: 0.8}}
	midi := riffline.Item{ID: "m", Kind: riffline.MidiItem, StartTime: 1, Duration: 2, ChordName: "C", CustomMidiEvents: events}
	r := persist.RecordOf(midi)
	assert.Equal(t, r.StartTime, 1.0)
	assert.Equal(t, r.ChordName, "")
	assert.Equal(t, len(r.CustomMidiEvents), 0)

	chord := riffline.Item{ID: "c", Kind: riffline.ChordItem, Duration: 2, ChordName: "Am7", RhythmPatternID: "r1", IsCustomized: true, CustomMidiEvents: events}
	r = persist.RecordOf(chord)
	assert.Equal(t, r.ChordName, "Am7")
	assert.Equal(t, r.RhythmPatternID, "r1")
	assert.Equal(t, r.IsCustomized, true)
	assert.Equal(t, r.CustomMidiEvents, events)
	r.CustomMidiEvents[0].Pitch = 1
	assert.Equal(t, events[0].Pitch, 60)
}

func TestMemoryPersister(t *testing.T) {
	ctx := context.Background()
	m := persist.NewMemory()
	m.Seed(riffline.Project{ID: "p", Tracks: []riffline.Track{{ID: "t1"}}})
	if err := m.AddItem(ctx, "p", riffline.Item{ID: "a", TrackID: "t1", Duration: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := m.AddItem(ctx, "p", riffline.Item{ID: "b", TrackID: "nope", Duration: 1}); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("AddItem on missing track: got %v, want ErrNotFound", err)
	}
	rec := persist.RecordOf(riffline.Item{ID: "a", Kind: riffline.MidiItem, StartTime: 3, Duration: 2, PlaybackRate: 1, SourceDuration: 2})
	if err := m.BulkUpdateItems(ctx, "p", []persist.ItemRecord{rec, {ID: "ghost"}}); err != nil {
		t.Fatalf("BulkUpdateItems: %v", err)
	}
	p, err := m.LoadProject(ctx, "p")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	assert.Equal(t, len(p.Items), 1)
	assert.Equal(t, p.Items[0].StartTime, 3.0)
	assert.Equal(t, p.Items[0].TrackID, "t1")

	if err := m.DeleteTrack(ctx, "p", "t1"); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}
	p, _ = m.LoadProject(ctx, "p")
	assert.Equal(t, len(p.Items), 0)
	if err := m.DeleteItem(ctx, "p", "a"); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("DeleteItem of deleted item: got %v, want ErrNotFound", err)
	}
	if _, err := m.LoadProject(ctx, "other"); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("LoadProject of unknown project: got %v, want ErrNotFound", err)
	}
}

func TestMemoryFailure(t *testing.T) {
	ctx := context.Background()
	m := persist.NewMemory()
	boom := errors.New("boom")
	m.SetFailure(boom)
	if err := m.BulkUpdateItems(ctx, "p", []persist.ItemRecord{{ID: "a"}}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	assert.Equal(t, m.Calls("BulkUpdateItems"), 1)
	assert.Equal(t, len(m.Bulks()), 0)
	m.SetFailure(nil)
	if err := m.BulkUpdateItems(ctx, "p", nil); err != nil {
		t.Fatalf("BulkUpdateItems: %v", err)
	}
	assert.Equal(t, m.Calls("BulkUpdateItems"), 2)
	assert.Equal(t, len(m.Bulks()), 1)
}
