package riffline

import (
	"math"
)

// MinClipDuration is the shortest duration, in seconds, that an item can have.
// Normalization clamps anything shorter up to this value and the overlap
// resolver deletes items that would be trimmed below it.
const MinClipDuration = 0.1

type (
	// Item is a clip placed on the timeline: a time-bounded reference to a
	// lick, a chord or a MIDI pattern. All times are in seconds. StartTime is
	// on the global project timeline, Offset and SourceDuration are measured in
	// the underlying source media.
	//
	// Items are treated as values: the timeline model never mutates an Item
	// that has been stored, it replaces it with a new normalized copy. This
	// makes it safe to share items between history snapshots.
	Item struct {
		ID      string
		TrackID string `yaml:"trackId"`

		StartTime float64 `yaml:"startTime"`
		Duration  float64
		// Offset is how far into the source the visible part of the clip
		// starts. Resizing the left edge moves Offset together with StartTime.
		Offset float64 `yaml:",omitempty"`
		// SourceDuration is the total length of the source. Always at least
		// Offset + Duration after normalization; zero means "derive it".
		SourceDuration float64 `yaml:"sourceDuration,omitempty"`

		LoopEnabled  bool    `yaml:"loopEnabled,omitempty"`
		PlaybackRate float64 `yaml:"playbackRate,omitempty"`
		Kind         ItemKind

		// LickID references the lick library entry for lick items.
		LickID string `yaml:"lickId,omitempty"`
		// ChordName and RhythmPatternID describe chord items. A chord item
		// with no custom events renders the chord with the rhythm pattern.
		ChordName       string `yaml:"chordName,omitempty"`
		RhythmPatternID string `yaml:"rhythmPatternId,omitempty"`

		// CustomMidiEvents replace the generated content of the item when the
		// user has edited the notes by hand; IsCustomized is set in that case.
		CustomMidiEvents []MidiEvent `yaml:"customMidiEvents,flow,omitempty"`
		IsCustomized     bool        `yaml:"isCustomized,omitempty"`
	}

	// ItemKind tells what kind of content the item references.
	ItemKind string
)

const (
	LickItem  ItemKind = "lick"
	ChordItem ItemKind = "chord"
	MidiItem  ItemKind = "midi"
)

// End returns the time where the item ends on the timeline (exclusive).
func (it Item) End() float64 {
	return it.StartTime + it.Duration
}

// Remaining returns how much unused source there is after the visible part of
// the item, i.e. how far the right edge can still be extended.
func (it Item) Remaining() float64 {
	return math.Max(0, it.SourceDuration-it.Offset-it.Duration)
}

// FixedDuration reports whether the item has a canonical duration that cannot
// be changed by resizing. Chord items take their length from the chord
// progression, unless the user has customized their notes.
func (it Item) FixedDuration() bool {
	return it.Kind == ChordItem && !it.IsCustomized
}

// Overlaps reports whether the half-open intervals [StartTime, End()) of the
// two items intersect.
func (it Item) Overlaps(other Item) bool {
	return it.StartTime < other.End() && other.StartTime < it.End()
}

// Copy makes a deep copy of an Item.
func (it Item) Copy() Item {
	ret := it
	if it.CustomMidiEvents != nil {
		ret.CustomMidiEvents = make([]MidiEvent, len(it.CustomMidiEvents))
		copy(ret.CustomMidiEvents, it.CustomMidiEvents)
	}
	return ret
}

// Normalize returns a copy of the item with all the invariants enforced:
// duration is at least MinClipDuration, offset and start time are not
// negative, playback rate is positive, source duration covers offset +
// duration and invalid custom MIDI events are dropped. Invalid values are
// clamped, never reported.
func (it Item) Normalize() Item {
	ret := it.Copy()
	ret.StartTime = nonNegative(ret.StartTime)
	ret.Offset = nonNegative(ret.Offset)
	if !finite(ret.Duration) || ret.Duration < MinClipDuration {
		ret.Duration = MinClipDuration
	}
	if !finite(ret.PlaybackRate) || ret.PlaybackRate <= 0 {
		ret.PlaybackRate = 1
	}
	if !finite(ret.SourceDuration) || ret.SourceDuration < ret.Offset+ret.Duration {
		ret.SourceDuration = ret.Offset + ret.Duration
	}
	switch ret.Kind {
	case LickItem, ChordItem, MidiItem:
	default:
		ret.Kind = MidiItem
	}
	ret.CustomMidiEvents = ValidMidiEvents(ret.CustomMidiEvents)
	return ret
}

// IsSilent reports whether the item would render nothing: no custom events and
// no reference to a chord or a lick. Silent items are still valid clips.
func (it Item) IsSilent() bool {
	return len(it.CustomMidiEvents) == 0 && it.ChordName == "" && it.LickID == ""
}

func nonNegative(v float64) float64 {
	if !finite(v) || v < 0 {
		return 0
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
