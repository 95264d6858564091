package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/riffline/riffline"
	"golang.org/x/exp/slices"
)

// Memory is a Persister that keeps projects in memory. It records the calls
// made to it and can be told to fail them, which makes it the persister of
// choice for tests.
type Memory struct {
	mu       sync.Mutex
	projects map[string]*riffline.Project
	calls    map[string]int
	bulks    [][]ItemRecord
	fail     error
}

func NewMemory() *Memory {
	return &Memory{projects: map[string]*riffline.Project{}, calls: map[string]int{}}
}

// Seed stores a copy of the project, replacing any project with the same id.
func (m *Memory) Seed(p riffline.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := p.Copy()
	m.projects[p.ID] = &c
}

// SetFailure makes every following call fail with err, until it is called
// again with nil. Failed calls are counted but change nothing.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Calls returns how many times the method with the given name was called.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Bulks returns the batches of all successful BulkUpdateItems calls.
func (m *Memory) Bulks() [][]ItemRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([][]ItemRecord, len(m.bulks))
	copy(ret, m.bulks)
	return ret
}

func (m *Memory) LoadProject(ctx context.Context, projectID string) (riffline.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return riffline.Project{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return p.Copy(), nil
}

func (m *Memory) BulkUpdateItems(ctx context.Context, projectID string, items []ItemRecord) error {
	return m.do(ctx, "BulkUpdateItems", projectID, func(p *riffline.Project) error {
		for _, r := range items {
			i := itemIndex(p, r.ID)
			if i < 0 {
				glog.V(1).Infof("[memory]bulk update of unknown item %s", r.ID)
				continue
			}
			r.Apply(&p.Items[i])
		}
		m.bulks = append(m.bulks, slices.Clone(items))
		return nil
	})
}

func (m *Memory) AddItem(ctx context.Context, projectID string, it riffline.Item) error {
	return m.do(ctx, "AddItem", projectID, func(p *riffline.Project) error {
		if trackIndex(p, it.TrackID) < 0 {
			return fmt.Errorf("track %s: %w", it.TrackID, ErrNotFound)
		}
		if i := itemIndex(p, it.ID); i >= 0 {
			p.Items[i] = it.Copy()
			return nil
		}
		p.Items = append(p.Items, it.Copy())
		return nil
	})
}

func (m *Memory) UpdateItem(ctx context.Context, projectID string, it riffline.Item) error {
	return m.do(ctx, "UpdateItem", projectID, func(p *riffline.Project) error {
		i := itemIndex(p, it.ID)
		if i < 0 {
			return fmt.Errorf("item %s: %w", it.ID, ErrNotFound)
		}
		p.Items[i] = it.Copy()
		return nil
	})
}

func (m *Memory) DeleteItem(ctx context.Context, projectID, id string) error {
	return m.do(ctx, "DeleteItem", projectID, func(p *riffline.Project) error {
		i := itemIndex(p, id)
		if i < 0 {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		p.Items = slices.Delete(p.Items, i, i+1)
		return nil
	})
}

func (m *Memory) AddTrack(ctx context.Context, projectID string, t riffline.Track) error {
	return m.do(ctx, "AddTrack", projectID, func(p *riffline.Project) error {
		if i := trackIndex(p, t.ID); i >= 0 {
			p.Tracks[i] = t
			return nil
		}
		p.Tracks = append(p.Tracks, t)
		return nil
	})
}

func (m *Memory) UpdateTrack(ctx context.Context, projectID string, t riffline.Track) error {
	return m.do(ctx, "UpdateTrack", projectID, func(p *riffline.Project) error {
		i := trackIndex(p, t.ID)
		if i < 0 {
			return fmt.Errorf("track %s: %w", t.ID, ErrNotFound)
		}
		p.Tracks[i] = t
		return nil
	})
}

func (m *Memory) DeleteTrack(ctx context.Context, projectID, id string) error {
	return m.do(ctx, "DeleteTrack", projectID, func(p *riffline.Project) error {
		i := trackIndex(p, id)
		if i < 0 {
			return fmt.Errorf("track %s: %w", id, ErrNotFound)
		}
		p.Tracks = slices.Delete(p.Tracks, i, i+1)
		p.Items = slices.DeleteFunc(p.Items, func(it riffline.Item) bool { return it.TrackID == id })
		return nil
	})
}

// do counts the call, checks for injected failures and cancellation, and runs
// f on the project, which is created empty if it does not exist yet.
func (m *Memory) do(ctx context.Context, method, projectID string, f func(p *riffline.Project) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if m.fail != nil {
		return fmt.Errorf("%s: %w", method, m.fail)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	p, ok := m.projects[projectID]
	if !ok {
		p = &riffline.Project{ID: projectID, Settings: riffline.DefaultSettings()}
		m.projects[projectID] = p
	}
	return f(p)
}

func itemIndex(p *riffline.Project, id string) int {
	return slices.IndexFunc(p.Items, func(it riffline.Item) bool { return it.ID == id })
}

func trackIndex(p *riffline.Project, id string) int {
	return slices.IndexFunc(p.Tracks, func(t riffline.Track) bool { return t.ID == id })
}
