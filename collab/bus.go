package collab

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

type (
	// Bus is the broadcast channel between the clients editing a project.
	// Delivery is best effort: an envelope may be dropped, and nothing is
	// acknowledged. Publish must not block.
	Bus interface {
		// Subscribe registers a channel to receive envelopes. Returns an error
		// if id already exists or the bus is closed.
		Subscribe(id string, ch chan<- Envelope) error
		Unsubscribe(id string) error
		// Publish sends e to all subscribers, including the publisher's own
		// subscription; receivers filter their own envelopes by origin.
		Publish(e Envelope) error
		Close() error
	}

	// LocalBus is an in-process Bus. Publish fans an envelope out to the
	// channels of all subscribers and drops it for subscribers whose channel
	// is full.
	LocalBus struct {
		mu          sync.RWMutex
		subscribers map[string]chan<- Envelope
		stats       map[string]*subscriberStats
		closed      bool

		published atomic.Uint64
	}

	// BusStats contains global and per-subscriber counts.
	BusStats struct {
		Published   uint64
		Sent        uint64
		Dropped     uint64
		Subscribers map[string]SubscriberStats
	}

	SubscriberStats struct {
		Sent    uint64
		Dropped uint64
	}

	subscriberStats struct {
		sent    atomic.Uint64
		dropped atomic.Uint64
	}
)

var (
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
)

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subscribers: map[string]chan<- Envelope{},
		stats:       map[string]*subscriberStats{},
	}
}

func (b *LocalBus) Subscribe(id string, ch chan<- Envelope) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = ch
	b.stats[id] = &subscriberStats{}
	return nil
}

func (b *LocalBus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	delete(b.stats, id)
	return nil
}

func (b *LocalBus) Publish(e Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published.Add(1)
	for id, ch := range b.subscribers {
		if TrySend(ch, e) {
			b.stats[id].sent.Add(1)
			continue
		}
		b.stats[id].dropped.Add(1)
		glog.V(1).Infof("[bus]dropped %v for %s", e, id)
	}
	return nil
}

// Stats returns a snapshot of the delivery counts.
func (b *LocalBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := BusStats{Published: b.published.Load(), Subscribers: make(map[string]SubscriberStats, len(b.stats))}
	for id, st := range b.stats {
		sub := SubscriberStats{Sent: st.sent.Load(), Dropped: st.dropped.Load()}
		s.Subscribers[id] = sub
		s.Sent += sub.Sent
		s.Dropped += sub.Dropped
	}
	return s
}

// Close stops the bus. Subscriber channels are not closed; they belong to the
// subscribers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subscribers = map[string]chan<- Envelope{}
	b.stats = map[string]*subscriberStats{}
	return nil
}
