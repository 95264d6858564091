package collab

import (
	"sync"

	"golang.org/x/exp/maps"
)

// Occupancy tracks which user is editing which item on the other clients, so
// that a renderer can mark the items that are busy elsewhere.
type Occupancy struct {
	mu    sync.Mutex
	users map[string]string // item id -> user id
}

// Set records user as the editor of the item, superseding any previous one.
func (o *Occupancy) Set(itemID, user string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.users == nil {
		o.users = map[string]string{}
	}
	o.users[itemID] = user
}

// Clear removes the entry of the item if user is its current editor. A stop
// from an editor that was already superseded is ignored.
func (o *Occupancy) Clear(itemID, user string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.users[itemID] == user {
		delete(o.users, itemID)
	}
}

// Editor returns the user editing the item.
func (o *Occupancy) Editor(itemID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.users[itemID]
	return u, ok
}

// Snapshot returns a copy of the item id -> user id map.
func (o *Occupancy) Snapshot() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.users == nil {
		return map[string]string{}
	}
	return maps.Clone(o.users)
}
