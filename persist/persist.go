// Package persist defines the persistence API that the editor writes its
// changes through, and an in-memory implementation of it.
package persist

import (
	"context"
	"errors"

	"github.com/riffline/riffline"
)

type (
	// Persister is the server of record. Every call either succeeds as a whole
	// or fails as a whole; in particular BulkUpdateItems has no per item
	// result.
	Persister interface {
		BulkUpdateItems(ctx context.Context, projectID string, items []ItemRecord) error
		AddItem(ctx context.Context, projectID string, it riffline.Item) error
		UpdateItem(ctx context.Context, projectID string, it riffline.Item) error
		DeleteItem(ctx context.Context, projectID, id string) error
		AddTrack(ctx context.Context, projectID string, t riffline.Track) error
		UpdateTrack(ctx context.Context, projectID string, t riffline.Track) error
		DeleteTrack(ctx context.Context, projectID, id string) error
	}

	// Loader is implemented by persisters that can also hand back a whole
	// project, for opening it in an editor.
	Loader interface {
		LoadProject(ctx context.Context, projectID string) (riffline.Project, error)
	}

	// ItemRecord holds the fields of an item that a bulk update writes: its
	// placement and playback, and for chord items the chord itself.
	ItemRecord struct {
		ID             string            `json:"id" yaml:"id"`
		Kind           riffline.ItemKind `json:"kind" yaml:"kind"`
		StartTime      float64           `json:"startTime" yaml:"startTime"`
		Duration       float64           `json:"duration" yaml:"duration"`
		Offset         float64           `json:"offset" yaml:"offset"`
		LoopEnabled    bool              `json:"loopEnabled" yaml:"loopEnabled"`
		PlaybackRate   float64           `json:"playbackRate" yaml:"playbackRate"`
		SourceDuration float64           `json:"sourceDuration" yaml:"sourceDuration"`

		// chord items only
		ChordName        string               `json:"chordName,omitempty" yaml:"chordName,omitempty"`
		RhythmPatternID  string               `json:"rhythmPatternId,omitempty" yaml:"rhythmPatternId,omitempty"`
		IsCustomized     bool                 `json:"isCustomized,omitempty" yaml:"isCustomized,omitempty"`
		CustomMidiEvents []riffline.MidiEvent `json:"customMidiEvents,omitempty" yaml:"customMidiEvents,omitempty"`
	}
)

// ErrNotFound is returned when the project, track or item of a call does not
// exist.
var ErrNotFound = errors.New("not found")

// RecordOf returns the bulk update record of an item.
func RecordOf(it riffline.Item) ItemRecord {
	r := ItemRecord{
		ID:             it.ID,
		Kind:           it.Kind,
		StartTime:      it.StartTime,
		Duration:       it.Duration,
		Offset:         it.Offset,
		LoopEnabled:    it.LoopEnabled,
		PlaybackRate:   it.PlaybackRate,
		SourceDuration: it.SourceDuration,
	}
	if it.Kind == riffline.ChordItem {
		r.ChordName = it.ChordName
		r.RhythmPatternID = it.RhythmPatternID
		r.IsCustomized = it.IsCustomized
		if it.CustomMidiEvents != nil {
			r.CustomMidiEvents = append([]riffline.MidiEvent{}, it.CustomMidiEvents...)
		}
	}
	return r
}

// Apply writes the fields of the record onto it. Chord fields are only
// written for chord records.
func (r ItemRecord) Apply(it *riffline.Item) {
	it.StartTime = r.StartTime
	it.Duration = r.Duration
	it.Offset = r.Offset
	it.LoopEnabled = r.LoopEnabled
	it.PlaybackRate = r.PlaybackRate
	it.SourceDuration = r.SourceDuration
	if r.Kind == riffline.ChordItem {
		it.ChordName = r.ChordName
		it.RhythmPatternID = r.RhythmPatternID
		it.IsCustomized = r.IsCustomized
		it.CustomMidiEvents = append([]riffline.MidiEvent(nil), r.CustomMidiEvents...)
	}
}
