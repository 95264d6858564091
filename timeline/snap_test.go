package timeline_test

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/timeline"
)

func TestSnapGrid(t *testing.T) {
	s := timeline.Snapper{SecondsPerBeat: 0.5}
	track := riffline.Track{ID: "t1", Kind: riffline.MidiTrack}
	assert.Equal(t, s.Threshold(), 0.125)
	cases := []struct {
		candidate float64
		want      float64
	}{
		{0.55, 0.5},
		{0.7, 0.7},
		{0.45, 0.5},
		{0.9, 1.0},
		{0.05, 0},
		{0.25, 0.25},
	}
	for _, c := range cases {
		if got := s.Snap(c.candidate, track, nil, ""); got != c.want {
			t.Errorf("Snap(%v) = %v, want %v", c.candidate, got, c.want)
		}
	}
}

func TestSnapEdgeOverridesGrid(t *testing.T) {
	s := timeline.Snapper{SecondsPerBeat: 0.5}
	track := riffline.Track{ID: "t1", Kind: riffline.MidiTrack}
	items := []riffline.Item{
		{ID: "a", TrackID: "t1", StartTime: 0, Duration: 1.2},
		{ID: "moving", TrackID: "t1", StartTime: 1.25, Duration: 1},
	}
	// the grid line 1.0 is within range, but the edge of a at 1.2 is closer
	assert.Equal(t, s.Snap(1.1, track, items, "moving"), 1.2)
	// the edges of the moved item itself are not candidates
	assert.Equal(t, s.Snap(1.3, track, items, "moving"), 1.2)
	// without exclusion its own start edge wins
	assert.Equal(t, s.Snap(1.3, track, items, ""), 1.25)
}

func TestSnapBackingOverlay(t *testing.T) {
	overlay := timeline.OverlayFunc(func() []float64 { return []float64{0, 1.8, 3.6} })
	s := timeline.Snapper{SecondsPerBeat: 0.5, Overlay: overlay}
	backing := riffline.Track{ID: "b", Kind: riffline.BackingTrack}
	assert.Equal(t, s.Snap(1.75, backing, nil, ""), 1.8)
	// the overlay only applies to the backing track
	assert.Equal(t, s.Snap(1.75, riffline.Track{ID: "t1"}, nil, ""), 1.75)
	// and only as long as it has no chord items
	chords := []riffline.Item{{ID: "c", TrackID: "b", Kind: riffline.ChordItem, StartTime: 5, Duration: 1}}
	assert.Equal(t, s.Snap(1.75, backing, chords, ""), 1.75)
}

func TestSnapThreshold(t *testing.T) {
	s := timeline.Snapper{SecondsPerBeat: 1, ThresholdBeats: 0.1}
	track := riffline.Track{ID: "t1"}
	assert.Equal(t, s.Snap(1.05, track, nil, ""), 1.0)
	assert.Equal(t, s.Snap(1.2, track, nil, ""), 1.2)
}
