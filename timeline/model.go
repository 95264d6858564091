package timeline

import (
	"cmp"

	"github.com/golang/glog"
	"github.com/riffline/riffline"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type (
	// Model implements the mutable state of a project being edited.
	//
	// Items are stored copy-on-write: a stored *riffline.Item is never
	// modified, a mutation stores a new pointer instead. This lets the undo
	// snapshots share every item that did not change.
	//
	// The Model is not safe for concurrent use; it is owned by one goroutine
	// at a time (see the editor package).
	Model struct {
		d modelData

		undoStack []snapshot
		redoStack []snapshot
		maxUndo   int

		listeners []Listener
	}

	modelData struct {
		id       string
		settings riffline.Settings
		tracks   []riffline.Track
		items    map[string]*riffline.Item
		chords   riffline.ChordProgression

		selection string
		// gesture is the id of the item that is being dragged or resized; ""
		// when no gesture is in progress.
		gesture string
		ghosts  map[string]Ghost
	}

	// Ghost is the transient render state of an item during a gesture. It is
	// updated on every pointer move; the model itself is not.
	Ghost struct {
		StartTime float64
		Duration  float64
		Offset    float64
	}
)

// DefaultMaxUndo is the default depth of the undo and redo stacks.
const DefaultMaxUndo = 64

// NewModel returns a model holding a normalized copy of the project.
func NewModel(p riffline.Project) *Model {
	m := &Model{maxUndo: DefaultMaxUndo}
	m.setProject(p)
	return m
}

// SetMaxUndo changes the depth of the undo and redo stacks, dropping the
// oldest entries if they are now too long.
func (m *Model) SetMaxUndo(n int) {
	if n < 1 {
		n = 1
	}
	m.maxUndo = n
	m.undoStack = limit(m.undoStack, n)
	m.redoStack = limit(m.redoStack, n)
}

// Listen registers a listener for the changes of the model.
func (m *Model) Listen(l Listener) {
	m.listeners = append(m.listeners, l)
}

func (m *Model) notify(c Change) {
	for _, l := range m.listeners {
		l.ModelChanged(c)
	}
}

func (m *Model) setProject(p riffline.Project) {
	p = p.Normalize()
	m.d.id = p.ID
	m.d.settings = p.Settings
	m.d.tracks = p.Tracks
	m.d.chords = p.Chords
	m.d.items = make(map[string]*riffline.Item, len(p.Items))
	for i := range p.Items {
		it := p.Items[i]
		m.d.items[it.ID] = &it
	}
	m.d.selection = ""
	// a gesture in progress outlives the new state until its controller
	// ends it, even if its item is gone
	for id := range m.d.ghosts {
		if _, ok := m.d.items[id]; !ok {
			delete(m.d.ghosts, id)
		}
	}
}

// Project returns a deep copy of the current state. Tracks are sorted by
// order, items by track order and start time.
func (m *Model) Project() riffline.Project {
	p := riffline.Project{ID: m.d.id, Settings: m.d.settings, Chords: m.d.chords.Copy()}
	p.Tracks = m.Tracks()
	for _, t := range p.Tracks {
		p.Items = append(p.Items, m.ItemsOnTrack(t.ID)...)
	}
	return p
}

// ReplaceProject replaces the whole state, e.g. with a full snapshot received
// from a collaborator. The undo history is kept.
func (m *Model) ReplaceProject(p riffline.Project, origin Origin) {
	m.setProject(p)
	cp := m.Project()
	m.notify(Change{Kind: ProjectReplaced, Origin: origin, Project: &cp})
}

func (m *Model) ID() string                        { return m.d.id }
func (m *Model) Settings() riffline.Settings       { return m.d.settings }
func (m *Model) Chords() riffline.ChordProgression { return m.d.chords.Copy() }

// ChordOverlay returns an Overlay with the edges of the current chord
// progression.
func (m *Model) ChordOverlay() Overlay {
	return OverlayFunc(func() []float64 { return m.d.chords.Edges(m.d.settings.SecondsPerBeat()) })
}

// Tracks returns the tracks sorted by their order.
func (m *Model) Tracks() []riffline.Track {
	ret := slices.Clone(m.d.tracks)
	slices.SortStableFunc(ret, func(a, b riffline.Track) int { return cmp.Compare(a.Order, b.Order) })
	return ret
}

// Track returns the track with the given id.
func (m *Model) Track(id string) (riffline.Track, bool) {
	i := m.trackIndex(id)
	if i < 0 {
		return riffline.Track{}, false
	}
	return m.d.tracks[i], true
}

func (m *Model) trackIndex(id string) int {
	return slices.IndexFunc(m.d.tracks, func(t riffline.Track) bool { return t.ID == id })
}

// FindItem returns the item with the given id.
func (m *Model) FindItem(id string) (riffline.Item, bool) {
	it, ok := m.d.items[id]
	if !ok {
		return riffline.Item{}, false
	}
	return it.Copy(), true
}

// ItemsOnTrack returns the items on a track, ordered by start time.
func (m *Model) ItemsOnTrack(trackID string) []riffline.Item {
	var ret []riffline.Item
	for _, it := range m.d.items {
		if it.TrackID == trackID {
			ret = append(ret, it.Copy())
		}
	}
	slices.SortFunc(ret, compareItems)
	return ret
}

func compareItems(a, b riffline.Item) int {
	if c := cmp.Compare(a.StartTime, b.StartTime); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// NumItems returns the number of items in the model.
func (m *Model) NumItems() int { return len(m.d.items) }

// AddItem stores a new item. Returns false if the id is empty or taken, or
// if the track of the item does not exist.
func (m *Model) AddItem(it riffline.Item, origin Origin) (riffline.Item, bool) {
	if _, exists := m.d.items[it.ID]; exists || it.ID == "" || m.trackIndex(it.TrackID) < 0 {
		return riffline.Item{}, false
	}
	it = m.store(it)
	m.notify(Change{Kind: ItemAdded, Origin: origin, Added: []riffline.Item{it}})
	return it, true
}

// UpdateItem replaces an existing item. Returns false if there is no item
// with that id or the track of the item does not exist.
func (m *Model) UpdateItem(it riffline.Item, origin Origin) (riffline.Item, bool) {
	if _, exists := m.d.items[it.ID]; !exists || m.trackIndex(it.TrackID) < 0 {
		return riffline.Item{}, false
	}
	it = m.store(it)
	m.notify(Change{Kind: ItemUpdated, Origin: origin, Items: []riffline.Item{it}})
	return it, true
}

// UpsertItem adds the item or replaces the existing item with the same id.
func (m *Model) UpsertItem(it riffline.Item, origin Origin) (riffline.Item, bool) {
	if _, exists := m.d.items[it.ID]; exists {
		return m.UpdateItem(it, origin)
	}
	return m.AddItem(it, origin)
}

// store normalizes the item and stores it as a new value.
func (m *Model) store(it riffline.Item) riffline.Item {
	it = it.Normalize()
	stored := it.Copy()
	m.d.items[it.ID] = &stored
	return it
}

// RemoveItem deletes the item. Returns false if there was no such item.
func (m *Model) RemoveItem(id string, origin Origin) bool {
	if _, ok := m.d.items[id]; !ok {
		return false
	}
	delete(m.d.items, id)
	m.forget(id)
	m.notify(Change{Kind: ItemsDeleted, Origin: origin, Deleted: []string{id}})
	return true
}

// CommitItems stores the updated items and deletes the given ids as one
// change, as is done at the end of a drag or resize gesture. Items whose
// track does not exist are skipped.
func (m *Model) CommitItems(items []riffline.Item, deleted []string, origin Origin) Change {
	c := Change{Kind: ItemsMoved, Origin: origin}
	for _, id := range deleted {
		if _, ok := m.d.items[id]; ok {
			delete(m.d.items, id)
			m.forget(id)
			c.Deleted = append(c.Deleted, id)
		}
	}
	for _, it := range items {
		if m.trackIndex(it.TrackID) < 0 {
			glog.V(1).Infof("[model]skip %s: no track %s", it.ID, it.TrackID)
			continue
		}
		c.Items = append(c.Items, m.store(it))
	}
	if len(c.Items) > 0 || len(c.Deleted) > 0 {
		m.notify(c)
	}
	return c
}

func (m *Model) forget(id string) {
	if m.d.selection == id {
		m.d.selection = ""
	}
	delete(m.d.ghosts, id)
}

// AddTrack adds a new track. Returns false if the id is empty or taken.
func (m *Model) AddTrack(t riffline.Track, origin Origin) bool {
	if t.ID == "" || m.trackIndex(t.ID) >= 0 {
		return false
	}
	t = t.Normalize()
	m.d.tracks = append(m.d.tracks, t)
	m.notify(Change{Kind: TrackAdded, Origin: origin, AddedTracks: []riffline.Track{t}})
	return true
}

// UpdateTrack replaces an existing track, e.g. to change its volume or mute.
func (m *Model) UpdateTrack(t riffline.Track, origin Origin) bool {
	i := m.trackIndex(t.ID)
	if i < 0 {
		return false
	}
	t = t.Normalize()
	m.d.tracks[i] = t
	m.notify(Change{Kind: TrackUpdated, Origin: origin, Tracks: []riffline.Track{t}})
	return true
}

// DeleteTrack deletes a track together with all of its items.
func (m *Model) DeleteTrack(id string, origin Origin) bool {
	i := m.trackIndex(id)
	if i < 0 {
		return false
	}
	m.d.tracks = slices.Delete(m.d.tracks, i, i+1)
	c := Change{Kind: TrackDeleted, Origin: origin, DeletedTracks: []string{id}}
	for _, it := range m.ItemsOnTrack(id) {
		delete(m.d.items, it.ID)
		m.forget(it.ID)
		c.Deleted = append(c.Deleted, it.ID)
	}
	m.notify(c)
	return true
}

// SetChords replaces the chord progression.
func (m *Model) SetChords(chords riffline.ChordProgression, origin Origin) {
	m.d.chords = chords.Copy()
	m.notify(Change{Kind: ChordsReplaced, Origin: origin, Chords: chords.Copy()})
}

// PatchSettings applies a partial settings update.
func (m *Model) PatchSettings(p SettingsPatch, origin Origin) {
	if p.Empty() {
		return
	}
	m.d.settings = p.Apply(m.d.settings)
	m.notify(Change{Kind: SettingsPatched, Origin: origin, Settings: p})
}

// Select selects an item; "" clears the selection.
func (m *Model) Select(id string) {
	if _, ok := m.d.items[id]; ok || id == "" {
		m.d.selection = id
	}
}

func (m *Model) Selection() string { return m.d.selection }

// Ghost returns the render state of an item: the transient position during a
// gesture, or the committed position otherwise.
func (m *Model) Ghost(id string) (Ghost, bool) {
	if g, ok := m.d.ghosts[id]; ok {
		return g, true
	}
	it, ok := m.d.items[id]
	if !ok {
		return Ghost{}, false
	}
	return Ghost{StartTime: it.StartTime, Duration: it.Duration, Offset: it.Offset}, true
}

func (m *Model) setGhost(id string, g Ghost) {
	if m.d.ghosts == nil {
		m.d.ghosts = map[string]Ghost{}
	}
	m.d.ghosts[id] = g
}

// Busy reports whether a drag or resize gesture is in progress.
func (m *Model) Busy() bool { return m.d.gesture != "" }

func (m *Model) beginGesture(id string) bool {
	if m.d.gesture != "" {
		return false
	}
	m.d.gesture = id
	it := m.d.items[id]
	m.notify(Change{Kind: EditStarted, Origin: Local, Items: []riffline.Item{it.Copy()}})
	return true
}

func (m *Model) endGesture() {
	id := m.d.gesture
	m.d.gesture = ""
	delete(m.d.ghosts, id)
	it := riffline.Item{ID: id}
	if stored, ok := m.d.items[id]; ok {
		it = stored.Copy()
	}
	m.notify(Change{Kind: EditEnded, Origin: Local, Items: []riffline.Item{it}})
}

// snapshot is one entry of the undo or redo stack. The item map is a shallow
// copy; the items themselves are shared with the model and other snapshots.
type snapshot struct {
	tracks []riffline.Track
	items  map[string]*riffline.Item
	chords riffline.ChordProgression
}

func (m *Model) snapshot() snapshot {
	return snapshot{
		tracks: slices.Clone(m.d.tracks),
		items:  maps.Clone(m.d.items),
		chords: m.d.chords.Copy(),
	}
}

func (m *Model) restore(s snapshot) {
	m.d.tracks = slices.Clone(s.tracks)
	m.d.items = maps.Clone(s.items)
	if m.d.items == nil {
		m.d.items = map[string]*riffline.Item{}
	}
	m.d.chords = s.chords.Copy()
	m.d.selection = ""
	m.d.ghosts = nil
}
