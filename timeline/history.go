package timeline

import (
	"github.com/riffline/riffline"
)

// History returns the History view of the model, containing methods to
// manipulate the undo/redo history.
func (m *Model) History() *HistoryModel { return (*HistoryModel)(m) }

type HistoryModel Model

// Push saves the current tracks, items and chord progression onto the undo
// stack and clears the redo stack. Every logical edit calls Push exactly once,
// before mutating the model.
func (m *HistoryModel) Push() {
	m.undoStack = append(m.undoStack, (*Model)(m).snapshot())
	m.undoStack = limit(m.undoStack, m.maxUndo)
	m.redoStack = m.redoStack[:0]
}

// Depth returns the current lengths of the undo and redo stacks.
func (m *HistoryModel) Depth() (undo, redo int) { return len(m.undoStack), len(m.redoStack) }

// Undo returns an Action to undo the last change.
func (m *HistoryModel) Undo() Action { return MakeAction((*historyUndo)(m)) }

type historyUndo HistoryModel

func (m *historyUndo) Enabled() bool { return len(m.undoStack) > 0 && m.d.gesture == "" }
func (m *historyUndo) Do() {
	model := (*Model)(m)
	before := model.snapshot()
	m.redoStack = limit(append(m.redoStack, before), m.maxUndo)
	model.restore(m.undoStack[len(m.undoStack)-1])
	m.undoStack = m.undoStack[:len(m.undoStack)-1]
	model.notifyRestored(before)
}

// Redo returns an Action to redo the last undone change.
func (m *HistoryModel) Redo() Action { return MakeAction((*historyRedo)(m)) }

type historyRedo HistoryModel

func (m *historyRedo) Enabled() bool { return len(m.redoStack) > 0 && m.d.gesture == "" }
func (m *historyRedo) Do() {
	model := (*Model)(m)
	before := model.snapshot()
	m.undoStack = limit(append(m.undoStack, before), m.maxUndo)
	model.restore(m.redoStack[len(m.redoStack)-1])
	m.redoStack = m.redoStack[:len(m.redoStack)-1]
	model.notifyRestored(before)
}

// notifyRestored announces the difference between the state before an undo
// or redo and the current state, so that listeners can persist and broadcast
// it like any other local change.
func (m *Model) notifyRestored(before snapshot) {
	c := Change{Kind: HistoryRestored, Origin: Local}
	for id, it := range m.d.items {
		old, ok := before.items[id]
		switch {
		case !ok:
			c.Added = append(c.Added, it.Copy())
		case old != it:
			c.Items = append(c.Items, it.Copy())
		}
	}
	for id := range before.items {
		if _, ok := m.d.items[id]; !ok {
			c.Deleted = append(c.Deleted, id)
		}
	}
	oldTracks := map[string]riffline.Track{}
	for _, t := range before.tracks {
		oldTracks[t.ID] = t
	}
	for _, t := range m.d.tracks {
		old, ok := oldTracks[t.ID]
		switch {
		case !ok:
			c.AddedTracks = append(c.AddedTracks, t)
		case old != t:
			c.Tracks = append(c.Tracks, t)
		}
		delete(oldTracks, t.ID)
	}
	for id := range oldTracks {
		c.DeletedTracks = append(c.DeletedTracks, id)
	}
	if !chordsEqual(before.chords, m.d.chords) {
		c.Chords = m.d.chords.Copy()
		if c.Chords == nil {
			c.Chords = riffline.ChordProgression{}
		}
	}
	m.notify(c)
}

func chordsEqual(a, b riffline.ChordProgression) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// limit drops the oldest entries of the stack so that it has at most n
// entries.
func limit(stack []snapshot, n int) []snapshot {
	if len(stack) <= n {
		return stack
	}
	copy(stack, stack[len(stack)-n:])
	return stack[:n]
}
