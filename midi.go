package riffline

// MidiEvent is a single hand-edited note inside an item. StartTime and
// Duration are in seconds relative to the start of the item's source.
type MidiEvent struct {
	Pitch     int     // 0..127
	StartTime float64 `yaml:"startTime"`
	Duration  float64
	Velocity  float64 // 0..1
}

// Valid reports whether the event can be rendered: pitch is a MIDI note
// number, times are not negative and velocity is within [0, 1].
func (e MidiEvent) Valid() bool {
	return e.Pitch >= 0 && e.Pitch <= 127 &&
		finite(e.StartTime) && e.StartTime >= 0 &&
		finite(e.Duration) && e.Duration >= 0 &&
		finite(e.Velocity) && e.Velocity >= 0 && e.Velocity <= 1
}

// End returns the time where the note ends, relative to the source.
func (e MidiEvent) End() float64 {
	return e.StartTime + e.Duration
}

// ValidMidiEvents returns a new slice with the invalid events dropped, keeping
// the order of the rest. Returns nil if no valid events remain.
func ValidMidiEvents(events []MidiEvent) []MidiEvent {
	var ret []MidiEvent
	for _, e := range events {
		if e.Valid() {
			ret = append(ret, e)
		}
	}
	return ret
}
