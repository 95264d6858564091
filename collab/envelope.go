// Package collab keeps the timelines of collaborating clients in sync. Every
// local change is broadcast on a Bus as an Envelope right away, and envelopes
// from the other clients are applied to the local model through the same
// normalization path as local edits.
package collab

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/persist"
	"github.com/riffline/riffline/timeline"
)

type (
	// Kind is the event name of an envelope.
	Kind string

	// Envelope is one broadcast message. Payload holds the JSON encoding of
	// the payload type of the Kind.
	Envelope struct {
		ID      string          `json:"id"`
		Kind    Kind            `json:"kind"`
		Project string          `json:"project,omitempty"`
		Origin  timeline.Origin `json:"origin"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	// ItemsPayload is the payload of KindItemAdd and KindItemUpdate.
	ItemsPayload struct {
		Items []riffline.Item `json:"items"`
	}

	// DeletePayload is the payload of KindItemDelete and KindTrackDelete.
	DeletePayload struct {
		IDs []string `json:"ids"`
	}

	// BulkPayload is the payload of KindItemsBulk.
	BulkPayload struct {
		Records []persist.ItemRecord `json:"records"`
	}

	// PositionPayload is the payload of KindItemPosition.
	PositionPayload struct {
		ID        string  `json:"id"`
		StartTime float64 `json:"startTime"`
	}

	// TrackPayload is the payload of KindTrackAdd and KindTrackUpdate.
	TrackPayload struct {
		Track riffline.Track `json:"track"`
	}

	ChordsPayload struct {
		Chords riffline.ChordProgression `json:"chords"`
	}

	SettingsPayload struct {
		Patch timeline.SettingsPatch `json:"patch"`
	}

	// OccupancyPayload tells that a user started or stopped editing an item.
	OccupancyPayload struct {
		ItemID  string `json:"itemId"`
		UserID  string `json:"userId,omitempty"`
		Editing bool   `json:"editing"`
	}

	// SnapshotPayload is the answer to a state request. To is the peer that
	// asked; an empty To is meant for everyone.
	SnapshotPayload struct {
		To      string           `json:"to,omitempty"`
		Project riffline.Project `json:"project"`
	}

	// RequestPayload is the payload of KindStateRequest.
	RequestPayload struct{}
)

const (
	KindItemAdd      Kind = "item:add"
	KindItemUpdate   Kind = "item:update"
	KindItemDelete   Kind = "item:delete"
	KindItemsBulk    Kind = "items:bulk-update"
	KindItemPosition Kind = "item:position"
	KindTrackAdd     Kind = "track:add"
	KindTrackUpdate  Kind = "track:update"
	KindTrackDelete  Kind = "track:delete"
	KindChords       Kind = "chords:replace"
	KindSettings     Kind = "settings:patch"
	KindOccupancy    Kind = "editor:occupancy"
	KindSnapshot     Kind = "state:snapshot"
	KindStateRequest Kind = "state:request"
)

// ErrMalformed is returned for envelopes that lack the fields needed to apply
// them.
var ErrMalformed = errors.New("malformed envelope")

// NewPeerID returns a new unique id for a client.
func NewPeerID() string { return ulid.Make().String() }

// NewEnvelope returns an envelope with a new id and payload encoded.
func NewEnvelope(kind Kind, origin timeline.Origin, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{ID: ulid.Make().String(), Kind: kind, Origin: origin, Payload: data}, nil
}

// Decode decodes the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s %s: no payload: %w", e.Kind, e.ID, ErrMalformed)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s %s: %v: %w", e.Kind, e.ID, err, ErrMalformed)
	}
	return nil
}

// Validate checks the fields every envelope needs.
func (e Envelope) Validate() error {
	if e.ID == "" || e.Kind == "" {
		return fmt.Errorf("envelope without id or kind: %w", ErrMalformed)
	}
	return nil
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s(%s from %s)", e.Kind, e.ID, e.Origin.PeerID)
}
