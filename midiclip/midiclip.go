// Package midiclip renders the hand-edited MIDI events of items into timed
// MIDI messages and Standard MIDI Files.
package midiclip

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/riffline/riffline"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// Event is a MIDI message at a time on the timeline, in seconds.
type Event struct {
	Time    float64
	Message midi.Message
}

// Resolution is the number of ticks per quarter note in written files.
const Resolution = 960

const (
	// MinLoopLength is the shortest period, in source seconds, that a looping
	// pattern repeats at. Shorter patterns are padded to it.
	MinLoopLength = 0.01
	// MaxEvents bounds the messages rendered for one item.
	MaxEvents = 1 << 16
)

// Render returns the note on and note off messages of the custom events of
// the item, placed on the timeline. The item plays its source from Offset at
// PlaybackRate for Duration seconds; a looping item repeats its pattern,
// which lasts until the last event ends but at least MinLoopLength. Notes
// still sounding at the end of the item are cut there. At most MaxEvents
// messages are returned.
func Render(it riffline.Item, channel uint8) []Event {
	it = it.Normalize()
	if len(it.CustomMidiEvents) == 0 {
		return nil
	}
	rate := it.PlaybackRate
	from, to := it.Offset, it.Offset+it.Duration*rate // window in source time
	end := it.End()
	var ret []Event
	place := func(s float64, e riffline.MidiEvent) {
		if s < from || s >= to || len(ret) >= MaxEvents {
			return
		}
		on := it.StartTime + (s-from)/rate
		off := math.Min(on+e.Duration/rate, end)
		key := uint8(e.Pitch)
		ret = append(ret,
			Event{Time: on, Message: midi.NoteOn(channel, key, velocity(e.Velocity))},
			Event{Time: off, Message: midi.NoteOff(channel, key)})
	}
	if length := patternLength(it.CustomMidiEvents); it.LoopEnabled && length > 0 {
		length = math.Max(length, MinLoopLength)
		for k := math.Floor(from / length); k*length < to && len(ret) < MaxEvents; k++ {
			for _, e := range it.CustomMidiEvents {
				place(k*length+e.StartTime, e)
			}
		}
	} else {
		for _, e := range it.CustomMidiEvents {
			place(e.StartTime, e)
		}
	}
	sortEvents(ret)
	return ret
}

func patternLength(events []riffline.MidiEvent) float64 {
	ret := 0.0
	for _, e := range events {
		ret = math.Max(ret, e.End())
	}
	return ret
}

// sortEvents orders events by time, note offs first when simultaneous, so
// that a repeated note is released before it is struck again.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		return isNoteOff(events[i].Message) && !isNoteOff(events[j].Message)
	})
}

func isNoteOff(m midi.Message) bool {
	var ch, key, vel uint8
	return m.GetNoteOff(&ch, &key, &vel)
}

func velocity(v float64) uint8 {
	return uint8(math.Max(1, math.Min(127, math.Round(v*127))))
}

// WriteSMF writes the project as a type 1 Standard MIDI File: a conductor
// track with the tempo and meter, and one track for every project track that
// has items with MIDI events. Tracks get channels in order, skipping the drum
// channel 10.
func WriteSMF(w io.Writer, p riffline.Project) error {
	p = p.Normalize()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(Resolution)
	spb := p.Settings.SecondsPerBeat()
	if spb <= 0 {
		return fmt.Errorf("invalid tempo %v", p.Settings.Tempo)
	}

	var conductor smf.Track
	conductor.Add(0, smf.MetaTempo(p.Settings.Tempo))
	ts := p.Settings.TimeSignature
	conductor.Add(0, smf.MetaMeter(uint8(min(ts.Numerator, math.MaxUint8)), uint8(ts.Denominator)))
	conductor.Close(0)
	if err := s.Add(conductor); err != nil {
		return fmt.Errorf("conductor track: %w", err)
	}

	channel := uint8(0)
	for _, t := range p.Tracks {
		var events []Event
		for _, it := range p.Items {
			if it.TrackID == t.ID {
				events = append(events, Render(it, channel)...)
			}
		}
		if len(events) == 0 {
			continue
		}
		sortEvents(events)
		var tr smf.Track
		tr.Add(0, smf.MetaTrackSequenceName(t.ID))
		last := uint32(0)
		for _, e := range events {
			tick := uint32(math.Round(e.Time / spb * Resolution))
			tr.Add(tick-last, e.Message)
			last = tick
		}
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			return fmt.Errorf("track %s: %w", t.ID, err)
		}
		channel++
		if channel == 9 {
			channel++
		}
		if channel > 15 {
			channel = 0
		}
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write smf: %w", err)
	}
	return nil
}
