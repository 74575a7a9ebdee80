// Package notify fans decision-updated events out to live subscribers.
//
// A Registry multiplexes many subscribers per decision id inside one
// process; a Bridge republishes Postgres LISTEN/NOTIFY events into the
// registry so events produced by the worker process reach subscribers
// connected to the API process.
package notify

import (
	"sync"

	"github.com/google/uuid"
)

// Registry maps decision ids to live subscriber channels. It is an owned,
// lifecycle-scoped object constructed at process start, not a package-level
// singleton.
type Registry struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]map[chan struct{}]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[uuid.UUID]map[chan struct{}]struct{}),
	}
}

// Subscribe registers interest in updates for a decision id. The returned
// channel carries content-free signals: consumers re-fetch full state on
// receipt. The channel has capacity one, so bursts coalesce into a single
// pending signal ("at least one event after any change").
//
// The cancel function must be called when the subscriber disconnects; it is
// safe to call more than once.
func (r *Registry) Subscribe(id uuid.UUID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	set, ok := r.subscribers[id]
	if !ok {
		set = make(map[chan struct{}]struct{})
		r.subscribers[id] = set
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if set, ok := r.subscribers[id]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(r.subscribers, id)
				}
			}
		})
	}
	return ch, cancel
}

// Publish signals every current subscriber of id. Non-blocking: a subscriber
// with a signal already pending is skipped, which coalesces rapid updates.
func (r *Registry) Publish(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch := range r.subscribers[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Entries returns the number of decision ids with at least one subscriber.
func (r *Registry) Entries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}
