// Package autosave writes local edits back to the server of record in
// debounced batches.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/riffline/riffline/persist"
	"golang.org/x/exp/slices"
)

type (
	// Batcher collects the ids of dirty items and writes them with one
	// BulkUpdateItems call once the edits have settled for the debounce
	// period. A failed batch is put back into the dirty set as a whole and
	// retried on the next flush; there is no retry timer of its own.
	Batcher struct {
		projectID string
		debounce  time.Duration
		timeout   time.Duration
		source    Source
		persister persist.Persister
		announcer Announcer

		mu      sync.Mutex
		idle    *sync.Cond
		timer   *time.Timer
		dirty   map[string]struct{}
		deleted map[string]struct{}
		// revived holds the ids undeleted while a flush that deletes them
		// is running
		revived map[string]struct{}
		running bool
		stopped bool
	}

	Options struct {
		ProjectID string
		// Debounce defaults to DefaultDebounce.
		Debounce time.Duration
		// Timeout bounds a flush started by the timer. Defaults to 30s.
		Timeout   time.Duration
		Source    Source
		Persister persist.Persister
		// Announcer is told about every batch before it is persisted. May be
		// nil.
		Announcer Announcer
	}

	// Source serializes the current state of dirty items at flush time.
	Source interface {
		// Records returns the records of the items with the given ids,
		// leaving out ids of items that no longer exist.
		Records(ids []string) []persist.ItemRecord
	}

	// Announcer broadcasts a batch to collaborators.
	Announcer interface {
		AnnounceBatch(records []persist.ItemRecord)
	}
)

const DefaultDebounce = 2 * time.Second

func New(opts Options) *Batcher {
	b := &Batcher{
		projectID: opts.ProjectID,
		debounce:  opts.Debounce,
		timeout:   opts.Timeout,
		source:    opts.Source,
		persister: opts.Persister,
		announcer: opts.Announcer,
		dirty:     map[string]struct{}{},
		deleted:   map[string]struct{}{},
		revived:   map[string]struct{}{},
	}
	if b.debounce <= 0 {
		b.debounce = DefaultDebounce
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// MarkDirty adds the item to the dirty set. Marking an item twice is the same
// as marking it once.
func (b *Batcher) MarkDirty(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty[id] = struct{}{}
}

// MarkDeleted queues the deletion of the item for the next flush and removes
// it from the dirty set.
func (b *Batcher) MarkDeleted(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dirty, id)
	delete(b.revived, id)
	b.deleted[id] = struct{}{}
}

// Undelete cancels a queued deletion of the item, for an item that came back
// through undo or redo. If a running flush is deleting the item, a failure of
// that flush does not queue the deletion again. The caller re-adds the item
// after WaitIdle.
func (b *Batcher) Undelete(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.deleted, id)
	if b.running {
		b.revived[id] = struct{}{}
	}
}

// WaitIdle blocks while a flush is running.
func (b *Batcher) WaitIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.running {
		b.idle.Wait()
	}
}

// ScheduleFlush (re)starts the debounce timer.
func (b *Batcher) ScheduleFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.onTimer)
		return
	}
	b.timer.Reset(b.debounce)
}

// Dirty returns the sorted ids of the dirty items and of the items waiting to
// be deleted.
func (b *Batcher) Dirty() (dirty, deleted []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedKeys(b.dirty), sortedKeys(b.deleted)
}

// FlushNow writes the pending batch right away, waiting for a flush started by
// the timer to finish first.
func (b *Batcher) FlushNow(ctx context.Context) error {
	b.mu.Lock()
	for b.running {
		b.idle.Wait()
	}
	ids, dels := b.take()
	b.mu.Unlock()
	return b.flush(ctx, ids, dels)
}

// Stop stops the timer. Pending edits stay in the dirty set; call FlushNow to
// write them.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
}

func (b *Batcher) onTimer() {
	b.mu.Lock()
	if b.running {
		// a flush is in flight; come back for the edits made meanwhile
		b.timer.Reset(b.debounce)
		b.mu.Unlock()
		return
	}
	ids, dels := b.take()
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	_ = b.flush(ctx, ids, dels) // logged; the ids are back in the dirty set
}

// take empties the dirty and deleted sets and marks a flush as running. Must
// be called with b.mu held.
func (b *Batcher) take() (ids, dels []string) {
	ids, dels = sortedKeys(b.dirty), sortedKeys(b.deleted)
	clear(b.dirty)
	clear(b.deleted)
	b.running = true
	return ids, dels
}

func (b *Batcher) flush(ctx context.Context, ids, dels []string) error {
	err := b.write(ctx, ids, dels)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.idle.Broadcast()
	revived := b.revived
	b.revived = map[string]struct{}{}
	if err != nil {
		for _, id := range ids {
			if _, ok := b.deleted[id]; !ok {
				b.dirty[id] = struct{}{}
			}
		}
		for _, id := range dels {
			if _, ok := revived[id]; !ok {
				b.deleted[id] = struct{}{}
			}
		}
		glog.Warningf("[autosave]flush of %d items, %d deletions failed, will retry: %v", len(ids), len(dels), err)
		return err
	}
	if len(ids) > 0 || len(dels) > 0 {
		glog.V(1).Infof("[autosave]flushed %d items, %d deletions", len(ids), len(dels))
	}
	return nil
}

func (b *Batcher) write(ctx context.Context, ids, dels []string) error {
	var records []persist.ItemRecord
	if len(ids) > 0 {
		records = b.source.Records(ids)
	}
	if len(records) > 0 {
		if b.announcer != nil {
			b.announcer.AnnounceBatch(records)
		}
		if err := b.persister.BulkUpdateItems(ctx, b.projectID, records); err != nil {
			return fmt.Errorf("bulk update: %w", err)
		}
	}
	for _, id := range dels {
		err := b.persister.DeleteItem(ctx, b.projectID, id)
		if err != nil && !errors.Is(err, persist.ErrNotFound) {
			return fmt.Errorf("delete item %s: %w", id, err)
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	ret := make([]string, 0, len(set))
	for k := range set {
		ret = append(ret, k)
	}
	slices.Sort(ret)
	return ret
}
