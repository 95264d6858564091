package timeline

import (
	"github.com/riffline/riffline"
)

type (
	// Origin tells where a change came from. The zero value is a local
	// change made by this client. Changes applied from a collaborator carry
	// Remote = true and the collaborator's ids, and must not be broadcast
	// again.
	Origin struct {
		PeerID string `json:"peerId,omitempty"`
		UserID string `json:"userId,omitempty"`
		Remote bool   `json:"-"`
	}

	// Change describes one completed mutation of the model. Items holds the
	// new state of the items that were added or updated, Deleted the ids of
	// the items that were removed. Tracks and DeletedTracks are the same for
	// tracks.
	Change struct {
		Kind   ChangeKind
		Origin Origin

		Added   []riffline.Item
		Items   []riffline.Item
		Deleted []string

		Tracks        []riffline.Track
		AddedTracks   []riffline.Track
		DeletedTracks []string

		Chords   riffline.ChordProgression
		Settings SettingsPatch
		Project  *riffline.Project
	}

	ChangeKind int

	// Listener is notified after every change of the model. Listeners are
	// called synchronously, in the order they were registered, while the
	// caller of the mutation still owns the model; they must not mutate the
	// model.
	Listener interface {
		ModelChanged(c Change)
	}

	// ListenerFunc adapts a function to the Listener interface.
	ListenerFunc func(c Change)

	// SettingsPatch holds the settings fields that changed; nil fields are
	// left as they are.
	SettingsPatch struct {
		Tempo         *float64                `json:"tempo,omitempty"`
		Swing         *float64                `json:"swing,omitempty"`
		TimeSignature *riffline.TimeSignature `json:"timeSignature,omitempty"`
		Key           *string                 `json:"key,omitempty"`
		Instrument    *string                 `json:"instrument,omitempty"`
	}
)

const (
	ItemAdded ChangeKind = iota
	ItemUpdated
	ItemsMoved // drag or resize commit, including the overlap resolution
	ItemsDeleted
	TrackAdded
	TrackUpdated
	TrackDeleted
	ChordsReplaced
	SettingsPatched
	ProjectReplaced
	HistoryRestored // undo or redo
	EditStarted     // a gesture started on Items[0], nothing changed yet
	EditEnded       // the gesture on Items[0] ended
)

var changeKindNames = [...]string{
	"ItemAdded", "ItemUpdated", "ItemsMoved", "ItemsDeleted", "TrackAdded",
	"TrackUpdated", "TrackDeleted", "ChordsReplaced", "SettingsPatched",
	"ProjectReplaced", "HistoryRestored", "EditStarted", "EditEnded",
}

func (k ChangeKind) String() string {
	if k < 0 || int(k) >= len(changeKindNames) {
		return "ChangeKind(?)"
	}
	return changeKindNames[k]
}

// Local is the origin of the changes made by this client.
var Local = Origin{}

func (f ListenerFunc) ModelChanged(c Change) { f(c) }

// Apply returns the settings with the patch applied and normalized.
func (p SettingsPatch) Apply(s riffline.Settings) riffline.Settings {
	if p.Tempo != nil {
		s.Tempo = *p.Tempo
	}
	if p.Swing != nil {
		s.Swing = *p.Swing
	}
	if p.TimeSignature != nil {
		s.TimeSignature = *p.TimeSignature
	}
	if p.Key != nil {
		s.Key = *p.Key
	}
	if p.Instrument != nil {
		s.Instrument = *p.Instrument
	}
	return s.Normalize()
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p.Tempo == nil && p.Swing == nil && p.TimeSignature == nil && p.Key == nil && p.Instrument == nil
}
