// Package editor puts the pieces together: an Editor owns the timeline model
// and its gesture controllers, writes local changes back through the
// autosave batcher and the persister, and keeps the model in sync with the
// other clients through a collab.Bridge.
//
// All methods of Editor are safe for concurrent use; they are serialized by
// one mutex, which also guards the model while remote changes are applied.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gioui.org/io/pointer"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/autosave"
	"github.com/riffline/riffline/collab"
	"github.com/riffline/riffline/persist"
	"github.com/riffline/riffline/timeline"
)

type (
	Editor struct {
		mu        sync.Mutex
		model     *timeline.Model
		drag      *timeline.DragController
		resize    *timeline.ResizeController
		batcher   *autosave.Batcher
		bridge    *collab.Bridge
		persister persist.Persister
		projectID string

		broadcastDrag bool

		qmu        sync.Mutex
		queue      []op
		wake       chan struct{}
		retryDelay time.Duration
		cancel     context.CancelFunc
		wg      sync.WaitGroup
		started bool
	}

	Options struct {
		Project   riffline.Project
		Persister persist.Persister
		// Bus connects the editor to its collaborators. If nil, the editor
		// works alone.
		Bus    collab.Bus
		PeerID string
		UserID string

		Debounce           time.Duration
		HistoryDepth       int
		SnapThresholdBeats float64
		ResyncGrace        time.Duration
		Viewport           timeline.Viewport
		// BroadcastDrag sends the position of a dragged item to the
		// collaborators on every pointer move, not only at the end.
		BroadcastDrag bool
		// RetryDelay is the wait before a failed AddItem, UpdateItem or
		// track call is made again. Defaults to DefaultRetryDelay.
		RetryDelay time.Duration
	}

	// op is a persistence call that is made right away rather than batched.
	op struct {
		name string
		f    func(ctx context.Context) error
	}
)

const DefaultRetryDelay = 2 * time.Second

var ErrNotStarted = errors.New("editor not started")

// New returns an editor for the project. Call Start to begin persisting and
// collaborating, and Close when done.
func New(opts Options) *Editor {
	e := &Editor{
		model:         timeline.NewModel(opts.Project),
		persister:     opts.Persister,
		projectID:     opts.Project.ID,
		broadcastDrag: opts.BroadcastDrag,
		wake:          make(chan struct{}, 1),
		retryDelay:    opts.RetryDelay,
	}
	if e.retryDelay <= 0 {
		e.retryDelay = DefaultRetryDelay
	}
	depth := opts.HistoryDepth
	if depth <= 0 {
		depth = timeline.DefaultMaxUndo
	}
	e.model.SetMaxUndo(depth)
	e.drag = timeline.NewDragController(e.model, opts.Viewport)
	e.drag.ThresholdBeats = opts.SnapThresholdBeats
	e.resize = timeline.NewResizeController(e.model, opts.Viewport)
	batcherOpts := autosave.Options{
		ProjectID: e.projectID,
		Debounce:  opts.Debounce,
		Source:    (*records)(e),
		Persister: opts.Persister,
	}
	if opts.Bus != nil {
		e.bridge = collab.NewBridge(opts.Bus, collab.ModelTarget{Model: e.model, Locker: &e.mu}, collab.BridgeOptions{
			Project:     e.projectID,
			PeerID:      opts.PeerID,
			UserID:      opts.UserID,
			ResyncGrace: opts.ResyncGrace,
		})
		batcherOpts.Announcer = e.bridge
		// broadcast first: a change reaches the peers before it is persisted
		e.model.Listen(e.bridge)
	}
	e.batcher = autosave.New(batcherOpts)
	e.model.Listen(e)
	return e
}

// Start starts the persistence worker and, if the editor has a bus, the
// bridge. It returns immediately.
func (e *Editor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.work(ctx)
	}()
	if e.bridge != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				glog.Warningf("[editor]bridge stopped: %v", err)
			}
		}()
	}
}

// Close stops the editor and writes everything that is still pending, using
// ctx for the final persistence calls.
func (e *Editor) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.started = false
	e.cancel()
	e.mu.Unlock()
	e.wg.Wait()
	e.batcher.Stop()
	var errs []error
	for {
		o, ok := e.head()
		if !ok {
			break
		}
		if err := o.f(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.name, err))
		}
		e.pop()
	}
	if err := e.batcher.FlushNow(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FlushNow writes the dirty items without waiting for the debounce timer.
func (e *Editor) FlushNow(ctx context.Context) error {
	return e.batcher.FlushNow(ctx)
}

func (e *Editor) work(ctx context.Context) {
	// a call that was started is allowed to finish when the editor closes
	callCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			e.drain(callCtx)
		}
	}
}

// drain makes the queued calls in order. A call that fails with
// persist.ErrNotFound is dropped. Any other failure leaves the call at the head
// of the queue and drain tries again after the retry delay.
func (e *Editor) drain(ctx context.Context) {
	for {
		o, ok := e.head()
		if !ok {
			return
		}
		err := o.f(ctx)
		switch {
		case err == nil:
		case errors.Is(err, persist.ErrNotFound):
			glog.Errorf("[editor]%s failed, dropped: %v", o.name, err)
		default:
			glog.Warningf("[editor]%s failed, will retry: %v", o.name, err)
			time.AfterFunc(e.retryDelay, e.kick)
			return
		}
		e.pop()
	}
}

func (e *Editor) head() (op, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if len(e.queue) == 0 {
		return op{}, false
	}
	return e.queue[0], true
}

func (e *Editor) pop() {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	e.queue[0] = op{}
	e.queue = e.queue[1:]
}

func (e *Editor) kick() { collab.TrySend(e.wake, struct{}{}) }

// enqueue queues a persistence call. Must be called with e.mu held.
func (e *Editor) enqueue(name string, f func(ctx context.Context) error) {
	e.qmu.Lock()
	e.queue = append(e.queue, op{name: name, f: f})
	e.qmu.Unlock()
	e.kick()
}

// enqueueAdd queues the AddItem call of an item that is new or came back
// through undo or redo. A deletion of the item that is queued in the batcher
// is cancelled, and the call waits for a running flush to finish.
func (e *Editor) enqueueAdd(it riffline.Item) {
	p, id := e.persister, e.projectID
	e.batcher.Undelete(it.ID)
	e.enqueue("AddItem", func(ctx context.Context) error {
		e.batcher.WaitIdle()
		return p.AddItem(ctx, id, it)
	})
}

// ModelChanged routes local changes to persistence. It is called by the model
// with e.mu held.
func (e *Editor) ModelChanged(c timeline.Change) {
	if c.Origin.Remote {
		return
	}
	p, id := e.persister, e.projectID
	if p == nil {
		return
	}
	for _, t := range c.AddedTracks {
		e.enqueue("AddTrack", func(ctx context.Context) error { return p.AddTrack(ctx, id, t) })
	}
	for _, t := range c.Tracks {
		e.enqueue("UpdateTrack", func(ctx context.Context) error { return p.UpdateTrack(ctx, id, t) })
	}
	switch c.Kind {
	case timeline.ItemAdded:
		for _, it := range c.Added {
			e.enqueueAdd(it)
		}
	case timeline.ItemUpdated:
		for _, it := range c.Items {
			e.enqueue("UpdateItem", func(ctx context.Context) error { return p.UpdateItem(ctx, id, it) })
		}
	case timeline.ItemsMoved, timeline.ItemsDeleted, timeline.HistoryRestored:
		for _, it := range c.Added {
			e.enqueueAdd(it)
		}
		for _, it := range c.Items {
			e.batcher.MarkDirty(it.ID)
		}
		for _, del := range c.Deleted {
			e.batcher.MarkDeleted(del)
		}
		if len(c.Items) > 0 || len(c.Deleted) > 0 {
			e.batcher.ScheduleFlush()
		}
	case timeline.TrackDeleted:
		// the persister deletes the items of the track with it
		for _, del := range c.Deleted {
			e.batcher.MarkDeleted(del)
		}
	}
	for _, del := range c.DeletedTracks {
		e.enqueue("DeleteTrack", func(ctx context.Context) error { return p.DeleteTrack(ctx, id, del) })
	}
}

// records is the autosave.Source of the editor.
type records Editor

func (r *records) Records(ids []string) []persist.ItemRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]persist.ItemRecord, 0, len(ids))
	for _, id := range ids {
		if it, ok := r.model.FindItem(id); ok {
			ret = append(ret, persist.RecordOf(it))
		}
	}
	return ret
}

// PointerDrag feeds a pointer event to the drag controller. itemID is the
// item under the pointer.
func (e *Editor) PointerDrag(itemID string, ev pointer.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.drag.Event(itemID, ev) {
		return false
	}
	if e.broadcastDrag && e.bridge != nil && ev.Kind == pointer.Drag {
		if id, ok := e.drag.Dragging(); ok {
			if g, ok := e.model.Ghost(id); ok {
				e.bridge.AnnouncePosition(id, g.StartTime)
			}
		}
	}
	return true
}

// PointerResize feeds a pointer event to the resize controller.
func (e *Editor) PointerResize(itemID string, edge timeline.Edge, ev pointer.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resize.Event(itemID, edge, ev)
}

// SetViewport changes the pixel to time mapping of the controllers.
func (e *Editor) SetViewport(v timeline.Viewport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drag.Viewport = v
	e.resize.Viewport = v
}

// AddItem adds a new item, trimming the items it lands on. An empty id is
// replaced with a new one.
func (e *Editor) AddItem(it riffline.Item) (riffline.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if it.ID == "" {
		it.ID = ulid.Make().String()
	}
	if _, ok := e.model.Track(it.TrackID); !ok {
		return riffline.Item{}, false
	}
	if _, exists := e.model.FindItem(it.ID); exists {
		return riffline.Item{}, false
	}
	it = it.Normalize()
	e.model.History().Push()
	r := timeline.ResolveOverlaps(e.model.ItemsOnTrack(it.TrackID), it.ID, it.StartTime, it.Duration)
	if len(r.Trimmed) > 0 || len(r.Deleted) > 0 {
		e.model.CommitItems(r.Trimmed, r.Deleted, timeline.Local)
	}
	return e.model.AddItem(it, timeline.Local)
}

// UpdateItem replaces the fields of an existing item, trimming the items it
// now lands on the same way AddItem does. One undo reverts both.
func (e *Editor) UpdateItem(it riffline.Item) (riffline.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.model.FindItem(it.ID); !ok {
		return riffline.Item{}, false
	}
	if _, ok := e.model.Track(it.TrackID); !ok {
		return riffline.Item{}, false
	}
	it = it.Normalize()
	e.model.History().Push()
	r := timeline.ResolveOverlaps(e.model.ItemsOnTrack(it.TrackID), it.ID, it.StartTime, it.Duration)
	if len(r.Trimmed) > 0 || len(r.Deleted) > 0 {
		e.model.CommitItems(r.Trimmed, r.Deleted, timeline.Local)
	}
	return e.model.UpdateItem(it, timeline.Local)
}

func (e *Editor) DeleteItem(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.model.FindItem(id); !ok {
		return false
	}
	e.model.History().Push()
	return e.model.RemoveItem(id, timeline.Local)
}

// AddTrack adds a track; an empty id is replaced with a new one.
func (e *Editor) AddTrack(t riffline.Track) (riffline.Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if _, exists := e.model.Track(t.ID); exists {
		return riffline.Track{}, false
	}
	e.model.History().Push()
	e.model.AddTrack(t, timeline.Local)
	t, _ = e.model.Track(t.ID)
	return t, true
}

func (e *Editor) UpdateTrack(t riffline.Track) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.model.Track(t.ID); !ok {
		return false
	}
	e.model.History().Push()
	return e.model.UpdateTrack(t, timeline.Local)
}

// DeleteTrack deletes a track with all its items.
func (e *Editor) DeleteTrack(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.model.Track(id); !ok {
		return false
	}
	e.model.History().Push()
	return e.model.DeleteTrack(id, timeline.Local)
}

func (e *Editor) SetChords(c riffline.ChordProgression) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model.History().Push()
	e.model.SetChords(c, timeline.Local)
}

// PatchSettings changes the project settings. Settings are not part of the
// undo history.
func (e *Editor) PatchSettings(p timeline.SettingsPatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model.PatchSettings(p, timeline.Local)
}

func (e *Editor) Undo() bool { return e.do(e.model.History().Undo()) }
func (e *Editor) Redo() bool { return e.do(e.model.History().Redo()) }

// DeleteSelected deletes the selected item.
func (e *Editor) DeleteSelected() bool { return e.do(e.model.DeleteSelected()) }

// ToggleLoop toggles looping of the selected item.
func (e *Editor) ToggleLoop() bool { return e.do(e.model.ToggleLoop()) }

func (e *Editor) do(a timeline.Action) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !a.Enabled() {
		return false
	}
	a.Do()
	return true
}

func (e *Editor) Select(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model.Select(id)
}

// View calls f with the model, for reading it. f must not mutate the model.
func (e *Editor) View(f func(m *timeline.Model)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(e.model)
}

// Project returns a copy of the current project.
func (e *Editor) Project() riffline.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Project()
}

// Bridge returns the collaboration bridge, or nil if the editor has no bus.
func (e *Editor) Bridge() *collab.Bridge { return e.bridge }

// Dirty returns the ids waiting for the next autosave flush.
func (e *Editor) Dirty() (dirty, deleted []string) { return e.batcher.Dirty() }
