package riffline

import (
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"
)

type (
	// Project is the whole editable state shared between collaborators: the
	// settings, the tracks, the items on them and the chord progression.
	Project struct {
		ID       string
		Settings Settings
		Tracks   []Track
		Items    []Item
		Chords   ChordProgression `yaml:",omitempty"`
	}

	// Settings are the project-wide musical settings.
	Settings struct {
		Tempo         float64       // beats per minute
		Swing         float64       `yaml:",omitempty"` // 0..1
		TimeSignature TimeSignature `yaml:"timeSignature"`
		Key           string        `yaml:",omitempty"`
		Instrument    string        `yaml:",omitempty"`
	}

	TimeSignature struct {
		Numerator   int
		Denominator int
	}

	// Chord is one step of the chord progression, lasting Beats beats.
	Chord struct {
		Name  string
		Beats float64
	}

	ChordProgression []Chord
)

const (
	MinTempo     = 20
	MaxTempo     = 400
	DefaultTempo = 120
)

// DefaultSettings returns 120 BPM in 4/4.
func DefaultSettings() Settings {
	return Settings{Tempo: DefaultTempo, TimeSignature: TimeSignature{4, 4}}
}

// SecondsPerBeat returns the length of one beat in seconds.
func (s Settings) SecondsPerBeat() float64 {
	return 60 / s.Normalize().Tempo
}

// Normalize clamps the settings into their valid ranges.
func (s Settings) Normalize() Settings {
	if !finite(s.Tempo) || s.Tempo <= 0 {
		s.Tempo = DefaultTempo
	}
	s.Tempo = math.Min(math.Max(s.Tempo, MinTempo), MaxTempo)
	s.Swing = math.Min(nonNegative(s.Swing), 1)
	if s.TimeSignature.Numerator < 1 {
		s.TimeSignature.Numerator = 4
	}
	d := s.TimeSignature.Denominator
	if d < 1 || d > 32 || d&(d-1) != 0 {
		s.TimeSignature.Denominator = 4
	}
	return s
}

// Edges returns the times, in seconds, where the chords of the progression
// start and end when laid out from time 0 with the given beat length.
func (c ChordProgression) Edges(secondsPerBeat float64) []float64 {
	if len(c) == 0 {
		return nil
	}
	ret := make([]float64, 0, len(c)+1)
	t := 0.0
	ret = append(ret, t)
	for _, chord := range c {
		if chord.Beats <= 0 {
			continue
		}
		t += chord.Beats * secondsPerBeat
		ret = append(ret, t)
	}
	return ret
}

// Copy makes a deep copy of a ChordProgression.
func (c ChordProgression) Copy() ChordProgression {
	if c == nil {
		return nil
	}
	ret := make(ChordProgression, len(c))
	copy(ret, c)
	return ret
}

// Copy makes a deep copy of a Project.
func (p Project) Copy() Project {
	tracks := make([]Track, len(p.Tracks))
	copy(tracks, p.Tracks)
	items := make([]Item, len(p.Items))
	for i, it := range p.Items {
		items[i] = it.Copy()
	}
	return Project{ID: p.ID, Settings: p.Settings, Tracks: tracks, Items: items, Chords: p.Chords.Copy()}
}

// Normalize normalizes the settings, every track and every item, and drops
// items whose track does not exist or whose id is empty or duplicated. The
// first occurrence of a duplicated id wins.
func (p Project) Normalize() Project {
	ret := Project{ID: p.ID, Settings: p.Settings.Normalize(), Chords: p.Chords.Copy()}
	trackIDs := map[string]bool{}
	for _, t := range p.Tracks {
		if t.ID == "" || trackIDs[t.ID] {
			continue
		}
		trackIDs[t.ID] = true
		ret.Tracks = append(ret.Tracks, t.Normalize())
	}
	itemIDs := map[string]bool{}
	for _, it := range p.Items {
		if it.ID == "" || itemIDs[it.ID] || !trackIDs[it.TrackID] {
			continue
		}
		itemIDs[it.ID] = true
		ret.Items = append(ret.Items, it.Normalize())
	}
	return ret
}

// ReadProject decodes a project from YAML and normalizes it.
func ReadProject(r io.Reader) (Project, error) {
	var p Project
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return Project{}, fmt.Errorf("could not decode project: %w", err)
	}
	if p.Settings.Tempo == 0 {
		p.Settings = DefaultSettings()
	}
	return p.Normalize(), nil
}

// Write encodes the project as YAML.
func (p Project) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("could not encode project: %w", err)
	}
	return enc.Close()
}
