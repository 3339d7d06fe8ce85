// Package registry keeps track of viewer connections and which of them
// opted in to receive transcripts.
package registry

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrClosed is returned by Subscriber.Send once the connection is gone
	ErrClosed = errors.New("subscriber connection closed")
	// ErrNotConnected is returned when subscribing an unknown connection
	ErrNotConnected = errors.New("subscriber not connected")
)

// Subscriber is a writable viewer connection identified by connection identity
type Subscriber interface {
	ID() string
	Send(text string) error
}

// Registry holds the connected and subscribed sets. The subscribed set is
// always a subset of the connected set. The lock is held only while a set is
// mutated or copied, never while a subscriber is written to.
type Registry struct {
	mu         sync.Locker
	connected  map[string]Subscriber
	subscribed map[string]struct{}
}

// Stats represents registry statistics
type Stats struct {
	Connected  int `json:"connected"`
	Subscribed int `json:"subscribed"`
}

// New creates a registry guarded by mu; nil means a fresh mutex
func New(mu sync.Locker) *Registry {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Registry{
		mu:         mu,
		connected:  make(map[string]Subscriber),
		subscribed: make(map[string]struct{}),
	}
}

// Connect adds sub to the connected set, replacing any entry with the same ID
func (r *Registry) Connect(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[sub.ID()] = sub
}

// Disconnect removes id from both sets. It reports whether id was connected.
func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.connected[id]
	delete(r.connected, id)
	delete(r.subscribed, id)
	return ok
}

// Subscribe adds a connected id to the subscribed set
func (r *Registry) Subscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connected[id]; !ok {
		return ErrNotConnected
	}
	r.subscribed[id] = struct{}{}
	return nil
}

// Unsubscribe removes id from the subscribed set only. It reports whether
// id was subscribed.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.subscribed[id]
	delete(r.subscribed, id)
	return ok
}

// IsConnected reports whether id is in the connected set
func (r *Registry) IsConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.connected[id]
	return ok
}

// IsSubscribed reports whether id is in the subscribed set
func (r *Registry) IsSubscribed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscribed[id]
	return ok
}

// Snapshot returns a point-in-time copy of the subscribed set, ordered by ID
func (r *Registry) Snapshot() []Subscriber {
	r.mu.Lock()
	subs := make([]Subscriber, 0, len(r.subscribed))
	for id := range r.subscribed {
		subs = append(subs, r.connected[id])
	}
	r.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID() < subs[j].ID() })
	return subs
}

// Connected returns a point-in-time copy of the connected set
func (r *Registry) Connected() []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscriber, 0, len(r.connected))
	for _, sub := range r.connected {
		subs = append(subs, sub)
	}
	return subs
}

// Counts returns the sizes of the connected and subscribed sets
func (r *Registry) Counts() (connected, subscribed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), len(r.subscribed)
}

// GetStats returns current registry statistics
func (r *Registry) GetStats() Stats {
	connected, subscribed := r.Counts()
	return Stats{Connected: connected, Subscribed: subscribed}
}
