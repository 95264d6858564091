package collab

import (
	"sync"

	"github.com/golang/glog"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/persist"
	"github.com/riffline/riffline/timeline"
)

type (
	// Target is where the bridge applies remote changes. Every method is
	// called with a remote origin; implementations mutate their model through
	// its normal, normalizing methods.
	Target interface {
		ApplyItems(items []riffline.Item, origin timeline.Origin)
		ApplyDeletes(ids []string, origin timeline.Origin)
		ApplyRecords(records []persist.ItemRecord, origin timeline.Origin)
		ApplyPosition(id string, start float64, origin timeline.Origin)
		ApplyTrack(t riffline.Track, origin timeline.Origin)
		ApplyTrackDeletes(ids []string, origin timeline.Origin)
		ApplyChords(c riffline.ChordProgression, origin timeline.Origin)
		ApplySettings(p timeline.SettingsPatch, origin timeline.Origin)
		ApplySnapshot(p riffline.Project, origin timeline.Origin)
		// Snapshot returns the current state, to answer state requests.
		Snapshot() riffline.Project
	}

	// ModelTarget applies remote changes to a timeline.Model, holding Locker
	// for the duration of each call.
	ModelTarget struct {
		Model  *timeline.Model
		Locker sync.Locker
	}
)

func (t ModelTarget) ApplyItems(items []riffline.Item, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	for _, it := range items {
		if _, ok := t.Model.UpsertItem(it, origin); !ok {
			glog.V(1).Infof("[target]could not apply item %s on track %s", it.ID, it.TrackID)
		}
	}
}

func (t ModelTarget) ApplyDeletes(ids []string, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	for _, id := range ids {
		t.Model.RemoveItem(id, origin)
	}
}

func (t ModelTarget) ApplyRecords(records []persist.ItemRecord, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	items := make([]riffline.Item, 0, len(records))
	for _, r := range records {
		it, ok := t.Model.FindItem(r.ID)
		if !ok {
			glog.V(1).Infof("[target]record of unknown item %s", r.ID)
			continue
		}
		r.Apply(&it)
		items = append(items, it)
	}
	t.Model.CommitItems(items, nil, origin)
}

func (t ModelTarget) ApplyPosition(id string, start float64, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	it, ok := t.Model.FindItem(id)
	if !ok {
		return
	}
	it.StartTime = start
	t.Model.UpdateItem(it, origin)
}

func (t ModelTarget) ApplyTrack(tr riffline.Track, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	if _, ok := t.Model.Track(tr.ID); ok {
		t.Model.UpdateTrack(tr, origin)
		return
	}
	t.Model.AddTrack(tr, origin)
}

func (t ModelTarget) ApplyTrackDeletes(ids []string, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	for _, id := range ids {
		t.Model.DeleteTrack(id, origin)
	}
}

func (t ModelTarget) ApplyChords(c riffline.ChordProgression, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	t.Model.SetChords(c, origin)
}

func (t ModelTarget) ApplySettings(p timeline.SettingsPatch, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	t.Model.PatchSettings(p, origin)
}

func (t ModelTarget) ApplySnapshot(p riffline.Project, origin timeline.Origin) {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	t.Model.ReplaceProject(p, origin)
}

func (t ModelTarget) Snapshot() riffline.Project {
	t.Locker.Lock()
	defer t.Locker.Unlock()
	return t.Model.Project()
}
