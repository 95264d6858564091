package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/persist"
	"github.com/riffline/riffline/timeline"
)

type (
	// Bridge connects a timeline to a Bus. As a timeline.Listener it
	// broadcasts every local change; Run feeds the envelopes of the other
	// peers to Handle, which applies them to the Target.
	//
	// Remote changes carry a remote origin all the way through the model, so
	// applying one never produces a broadcast. On top of that, Handle ignores
	// envelopes that arrive while another one is being applied.
	Bridge struct {
		bus     Bus
		target  Target
		project string
		peerID  string
		userID  string
		grace   time.Duration

		applying  atomic.Bool
		published atomic.Uint64
		ignored   atomic.Uint64

		mu          sync.Mutex
		peers       map[string]struct{}
		requestedAt time.Time

		Occupancy Occupancy
	}

	BridgeOptions struct {
		Project string
		// PeerID identifies this client on the bus. A new id is made if
		// empty.
		PeerID string
		UserID string
		// ResyncGrace is how long Run waits for a sign of other peers before
		// it asks for the current state. Defaults to DefaultResyncGrace.
		ResyncGrace time.Duration
	}
)

const DefaultResyncGrace = time.Second

var (
	_ timeline.Listener = (*Bridge)(nil)

	errReentrant = errors.New("reentrant envelope")
)

func NewBridge(bus Bus, target Target, opts BridgeOptions) *Bridge {
	b := &Bridge{
		bus:     bus,
		target:  target,
		project: opts.Project,
		peerID:  opts.PeerID,
		userID:  opts.UserID,
		grace:   opts.ResyncGrace,
		peers:   map[string]struct{}{},
	}
	if b.peerID == "" {
		b.peerID = NewPeerID()
	}
	if b.grace <= 0 {
		b.grace = DefaultResyncGrace
	}
	return b
}

func (b *Bridge) PeerID() string { return b.peerID }

// Published returns the number of envelopes this bridge has published.
func (b *Bridge) Published() uint64 { return b.published.Load() }

// Ignored returns the number of inbound envelopes that were not applied.
func (b *Bridge) Ignored() uint64 { return b.ignored.Load() }

// Collaborators returns the number of other peers seen on the bus.
func (b *Bridge) Collaborators() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// Run subscribes to the bus and handles envelopes until ctx is done. If no
// other peer has shown up when the resync grace period is over, it publishes
// a state request.
func (b *Bridge) Run(ctx context.Context) error {
	ch := make(chan Envelope, 256)
	if err := b.bus.Subscribe(b.peerID, ch); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.peerID, err)
	}
	defer b.bus.Unsubscribe(b.peerID)
	glog.Infof("[bridge]peer %s joined project %s", b.peerID, b.project)
	grace := time.NewTimer(b.grace)
	defer grace.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-ch:
			b.Handle(e)
		case <-grace.C:
			if b.Collaborators() == 0 {
				glog.V(1).Infof("[bridge]no collaborators after %v, requesting state", b.grace)
				b.RequestState()
			}
		}
	}
}

// Handle applies one inbound envelope and reports whether it was applied.
// Own envelopes, envelopes of other projects, malformed envelopes and
// envelopes arriving while another one is being applied are ignored.
func (b *Bridge) Handle(e Envelope) (applied bool) {
	if e.Origin.PeerID == b.peerID {
		return false
	}
	if err := e.Validate(); err != nil {
		b.ignore(e, err)
		return false
	}
	if e.Project != "" && b.project != "" && e.Project != b.project {
		return false
	}
	if !b.applying.CompareAndSwap(false, true) {
		b.ignore(e, errReentrant)
		return false
	}
	defer b.applying.Store(false)
	defer func() {
		if r := recover(); r != nil {
			b.ignore(e, fmt.Errorf("panic: %v", r))
			applied = false
		}
	}()
	b.seen(e.Origin.PeerID)
	origin := e.Origin
	origin.Remote = true
	if err := b.apply(e, origin); err != nil {
		b.ignore(e, err)
		return false
	}
	glog.V(2).Infof("[bridge]applied %v", e)
	return true
}

func (b *Bridge) apply(e Envelope, origin timeline.Origin) error {
	switch e.Kind {
	case KindItemAdd, KindItemUpdate:
		var p ItemsPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		for _, it := range p.Items {
			if it.ID == "" || it.TrackID == "" {
				return fmt.Errorf("item without id or track: %w", ErrMalformed)
			}
		}
		b.target.ApplyItems(p.Items, origin)
	case KindItemDelete:
		ids, err := decodeIDs(e)
		if err != nil {
			return err
		}
		b.target.ApplyDeletes(ids, origin)
	case KindItemsBulk:
		var p BulkPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		for _, r := range p.Records {
			if r.ID == "" {
				return fmt.Errorf("record without id: %w", ErrMalformed)
			}
		}
		b.target.ApplyRecords(p.Records, origin)
	case KindItemPosition:
		var p PositionPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.ID == "" {
			return fmt.Errorf("position without id: %w", ErrMalformed)
		}
		b.target.ApplyPosition(p.ID, p.StartTime, origin)
	case KindTrackAdd, KindTrackUpdate:
		var p TrackPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.Track.ID == "" {
			return fmt.Errorf("track without id: %w", ErrMalformed)
		}
		b.target.ApplyTrack(p.Track, origin)
	case KindTrackDelete:
		ids, err := decodeIDs(e)
		if err != nil {
			return err
		}
		b.target.ApplyTrackDeletes(ids, origin)
	case KindChords:
		var p ChordsPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		b.target.ApplyChords(p.Chords, origin)
	case KindSettings:
		var p SettingsPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		b.target.ApplySettings(p.Patch, origin)
	case KindOccupancy:
		var p OccupancyPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.ItemID == "" {
			return fmt.Errorf("occupancy without item: %w", ErrMalformed)
		}
		user := p.UserID
		if user == "" {
			user = e.Origin.PeerID
		}
		if p.Editing {
			b.Occupancy.Set(p.ItemID, user)
		} else {
			b.Occupancy.Clear(p.ItemID, user)
		}
	case KindStateRequest:
		// a peer that is itself waiting for state, or has none, does not
		// answer
		if b.awaiting() {
			return nil
		}
		snap := b.target.Snapshot()
		if len(snap.Tracks) == 0 {
			return nil
		}
		b.publish(KindSnapshot, SnapshotPayload{To: e.Origin.PeerID, Project: snap})
	case KindSnapshot:
		var p SnapshotPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.To != "" && p.To != b.peerID {
			return nil
		}
		b.target.ApplySnapshot(p.Project, origin)
		b.mu.Lock()
		b.requestedAt = time.Time{}
		b.mu.Unlock()
	default:
		return fmt.Errorf("unknown kind %q: %w", e.Kind, ErrMalformed)
	}
	return nil
}

func decodeIDs(e Envelope) ([]string, error) {
	var p DeletePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	for _, id := range p.IDs {
		if id == "" {
			return nil, fmt.Errorf("empty id: %w", ErrMalformed)
		}
	}
	if len(p.IDs) == 0 {
		return nil, fmt.Errorf("no ids: %w", ErrMalformed)
	}
	return p.IDs, nil
}

// RequestState asks the other peers for the current state of the project.
// Until the first snapshot arrives, or for one resync grace period, this
// bridge does not answer state requests itself.
func (b *Bridge) RequestState() {
	b.mu.Lock()
	b.requestedAt = time.Now()
	b.mu.Unlock()
	b.publish(KindStateRequest, RequestPayload{})
}

func (b *Bridge) awaiting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.requestedAt.IsZero() && time.Since(b.requestedAt) < b.grace
}

func (b *Bridge) ignore(e Envelope, err error) {
	b.ignored.Add(1)
	glog.Warningf("[bridge]ignored %v: %v", e, err)
}

func (b *Bridge) seen(peerID string) {
	if peerID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[peerID] = struct{}{}
}

// ModelChanged broadcasts a local change of the model. Remote changes are not
// broadcast.
func (b *Bridge) ModelChanged(c timeline.Change) {
	if c.Origin.Remote {
		return
	}
	switch c.Kind {
	case timeline.ItemAdded:
		b.publish(KindItemAdd, ItemsPayload{Items: c.Added})
	case timeline.ItemUpdated:
		b.publish(KindItemUpdate, ItemsPayload{Items: c.Items})
	case timeline.ItemsMoved:
		if len(c.Items) > 0 {
			b.AnnounceBatch(records(c.Items))
		}
		if len(c.Deleted) > 0 {
			b.publish(KindItemDelete, DeletePayload{IDs: c.Deleted})
		}
	case timeline.ItemsDeleted:
		b.publish(KindItemDelete, DeletePayload{IDs: c.Deleted})
	case timeline.TrackAdded:
		for _, t := range c.AddedTracks {
			b.publish(KindTrackAdd, TrackPayload{Track: t})
		}
	case timeline.TrackUpdated:
		for _, t := range c.Tracks {
			b.publish(KindTrackUpdate, TrackPayload{Track: t})
		}
	case timeline.TrackDeleted:
		// the receivers delete the items of the track themselves
		b.publish(KindTrackDelete, DeletePayload{IDs: c.DeletedTracks})
	case timeline.ChordsReplaced:
		b.publish(KindChords, ChordsPayload{Chords: c.Chords})
	case timeline.SettingsPatched:
		b.publish(KindSettings, SettingsPayload{Patch: c.Settings})
	case timeline.HistoryRestored:
		b.publishRestored(c)
	case timeline.EditStarted, timeline.EditEnded:
		if len(c.Items) > 0 && c.Items[0].ID != "" {
			b.publish(KindOccupancy, OccupancyPayload{ItemID: c.Items[0].ID, UserID: b.userID, Editing: c.Kind == timeline.EditStarted})
		}
	case timeline.ProjectReplaced:
		// loading a project is not an edit; peers load their own copy
	}
}

// publishRestored broadcasts the difference an undo or redo made, tracks
// first so that the items find their tracks on the receiving end.
func (b *Bridge) publishRestored(c timeline.Change) {
	for _, t := range c.AddedTracks {
		b.publish(KindTrackAdd, TrackPayload{Track: t})
	}
	for _, t := range c.Tracks {
		b.publish(KindTrackUpdate, TrackPayload{Track: t})
	}
	if len(c.Added) > 0 {
		b.publish(KindItemAdd, ItemsPayload{Items: c.Added})
	}
	if len(c.Items) > 0 {
		b.publish(KindItemUpdate, ItemsPayload{Items: c.Items})
	}
	if len(c.Deleted) > 0 {
		b.publish(KindItemDelete, DeletePayload{IDs: c.Deleted})
	}
	if len(c.DeletedTracks) > 0 {
		b.publish(KindTrackDelete, DeletePayload{IDs: c.DeletedTracks})
	}
	if c.Chords != nil {
		b.publish(KindChords, ChordsPayload{Chords: c.Chords})
	}
}

// AnnounceBatch broadcasts the records of a batch of items.
func (b *Bridge) AnnounceBatch(recs []persist.ItemRecord) {
	b.publish(KindItemsBulk, BulkPayload{Records: recs})
}

// AnnouncePosition broadcasts the in-flight position of an item that is being
// dragged.
func (b *Bridge) AnnouncePosition(id string, start float64) {
	b.publish(KindItemPosition, PositionPayload{ID: id, StartTime: start})
}

func (b *Bridge) publish(kind Kind, payload any) {
	e, err := NewEnvelope(kind, timeline.Origin{PeerID: b.peerID, UserID: b.userID}, payload)
	if err != nil {
		glog.Warningf("[bridge]%v", err)
		return
	}
	e.Project = b.project
	if err := b.bus.Publish(e); err != nil {
		glog.Warningf("[bridge]publish %v: %v", e, err)
		return
	}
	b.published.Add(1)
}

func records(items []riffline.Item) []persist.ItemRecord {
	ret := make([]persist.ItemRecord, len(items))
	for i, it := range items {
		ret[i] = persist.RecordOf(it)
	}
	return ret
}
