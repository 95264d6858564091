package sqlite_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/persist"
	"github.com/riffline/riffline/persist/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "riffline.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProject() riffline.Project {
	return riffline.Project{
		ID:       "p",
		Settings: riffline.DefaultSettings(),
		Tracks: []riffline.Track{
			{ID: "t1", Order: 0, Kind: riffline.MidiTrack, Volume: 0.8},
			{ID: "t2", Order: 1, Kind: riffline.BackingTrack, Volume: 1, Muted: true},
		},
		Items: []riffline.Item{
			{ID: "a", TrackID: "t1", Kind: riffline.MidiItem, StartTime: 0, Duration: 2, SourceDuration: 2, PlaybackRate: 1,
				CustomMidiEvents: []riffline.MidiEvent{{Pitch: 64, StartTime: 0.5, Duration: 0.25, Velocity: 0.9}}},
			{ID: "c", TrackID: "t2", Kind: riffline.ChordItem, StartTime: 0, Duration: 2, SourceDuration: 2, PlaybackRate: 1, ChordName: "Am"},
		},
		Chords: riffline.ChordProgression{{Name: "Am", Beats: 4}},
	}
}

func TestSaveLoadProject(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := testProject()
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	got, err := s.LoadProject(ctx, "p")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	assert.Equal(t, got, p)
	if _, err := s.LoadProject(ctx, "missing"); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("LoadProject(missing): got %v, want ErrNotFound", err)
	}
}

func TestBulkUpdateItems(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if err := s.SaveProject(ctx, testProject()); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	a := riffline.Item{ID: "a", Kind: riffline.MidiItem, StartTime: 4, Duration: 1, Offset: 0.5, SourceDuration: 2, PlaybackRate: 2, LoopEnabled: true}
	c := riffline.Item{ID: "c", Kind: riffline.ChordItem, StartTime: 2, Duration: 2, SourceDuration: 2, PlaybackRate: 1, ChordName: "F", IsCustomized: true}
	recs := []persist.ItemRecord{persist.RecordOf(a), persist.RecordOf(c), {ID: "unknown"}}
	if err := s.BulkUpdateItems(ctx, "p", recs); err != nil {
		t.Fatalf("BulkUpdateItems: %v", err)
	}
	got, _ := s.LoadProject(ctx, "p")
	byID := map[string]riffline.Item{}
	for _, it := range got.Items {
		byID[it.ID] = it
	}
	assert.Equal(t, byID["a"].StartTime, 4.0)
	assert.Equal(t, byID["a"].Offset, 0.5)
	assert.Equal(t, byID["a"].LoopEnabled, true)
	assert.Equal(t, byID["a"].PlaybackRate, 2.0)
	assert.Equal(t, len(byID["a"].CustomMidiEvents), 1)
	assert.Equal(t, byID["c"].ChordName, "F")
	assert.Equal(t, byID["c"].IsCustomized, true)
}

func TestItemAndTrackCalls(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if err := s.AddTrack(ctx, "p", riffline.Track{ID: "t1", Kind: riffline.AudioTrack, Volume: 1}); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if err := s.AddItem(ctx, "p", riffline.Item{ID: "a", TrackID: "t1", Kind: riffline.LickItem, LickID: "l1", Duration: 1, SourceDuration: 1, PlaybackRate: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := s.AddItem(ctx, "p", riffline.Item{ID: "b", TrackID: "t9", Duration: 1}); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("AddItem on missing track: got %v, want ErrNotFound", err)
	}
	if err := s.UpdateItem(ctx, "p", riffline.Item{ID: "a", TrackID: "t1", Kind: riffline.LickItem, LickID: "l2", StartTime: 3, Duration: 1, SourceDuration: 1, PlaybackRate: 1}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if err := s.UpdateTrack(ctx, "p", riffline.Track{ID: "t1", Kind: riffline.AudioTrack, Volume: 0.5, Solo: true}); err != nil {
		t.Fatalf("UpdateTrack: %v", err)
	}
	p, err := s.LoadProject(ctx, "p")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	assert.Equal(t, p.Items[0].LickID, "l2")
	assert.Equal(t, p.Items[0].StartTime, 3.0)
	assert.Equal(t, p.Tracks[0].Solo, true)
	assert.Equal(t, p.Settings, riffline.DefaultSettings())

	if err := s.DeleteTrack(ctx, "p", "t1"); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}
	if err := s.DeleteItem(ctx, "p", "a"); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("item outlived its track: %v", err)
	}
	if err := s.UpdateTrack(ctx, "p", riffline.Track{ID: "t1"}); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("UpdateTrack(deleted): got %v, want ErrNotFound", err)
	}
}

func TestUnencodableValuesAreRejected(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := testProject()
	p.Settings.Tempo = math.NaN()
	if err := s.SaveProject(ctx, p); err == nil {
		t.Fatalf("SaveProject stored a NaN tempo")
	}
	if _, err := s.LoadProject(ctx, "p"); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("LoadProject after a failed save: got %v, want ErrNotFound", err)
	}

	p = testProject()
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	it := p.Items[0]
	it.CustomMidiEvents = []riffline.MidiEvent{{Pitch: 60, Duration: 1, Velocity: math.Inf(1)}}
	if err := s.AddItem(ctx, "p", it); err == nil {
		t.Fatalf("AddItem stored an infinite velocity")
	}
	got, _ := s.LoadProject(ctx, "p")
	assert.Equal(t, got.Items[0], p.Items[0])
}
