package riffline

type (
	// Track is a lane on the timeline. Items refer to their track with
	// Item.TrackID; the track does not own a list of items.
	Track struct {
		ID string
		// Order defines the vertical position of the track. Orders do not
		// need to be contiguous, only their relative order matters.
		Order  int
		Color  string `yaml:",omitempty"`
		Kind   TrackKind
		Muted  bool    `yaml:",omitempty"`
		Solo   bool    `yaml:",omitempty"`
		Volume float64 // 0..1
	}

	TrackKind string
)

const (
	AudioTrack TrackKind = "audio"
	MidiTrack  TrackKind = "midi"
	// BackingTrack is the designated track for the chord backing. When it
	// has no chord items yet, the snap engine uses the edges of the chord
	// progression instead.
	BackingTrack TrackKind = "backing"
)

// Normalize returns a copy of the track with volume clamped to [0, 1] and an
// unknown kind replaced with AudioTrack.
func (t Track) Normalize() Track {
	switch {
	case !finite(t.Volume) || t.Volume < 0:
		t.Volume = 0
	case t.Volume > 1:
		t.Volume = 1
	}
	switch t.Kind {
	case AudioTrack, MidiTrack, BackingTrack:
	default:
		t.Kind = AudioTrack
	}
	return t
}
