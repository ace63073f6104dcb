package state

import (
	"sync"
)

// Subscriber receives every published update.
type Subscriber func(Update)

type subscription struct {
	id uint64
	fn Subscriber
}

// Store holds the current snapshot. Every Update replaces it with a modified
// copy and synchronously notifies subscribers in registration order. Updates
// are not batched, deduplicated or reordered.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	subs     []subscription
	nextID   uint64
}

// NewStore creates a store holding the initial idle snapshot.
func NewStore() *Store {
	return &Store{snapshot: Initial()}
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Update applies changes to a copy of the current snapshot, installs it and
// notifies subscribers. No lock is held while subscribers run, so they may
// read the store, subscribe or unsubscribe.
func (s *Store) Update(transport TransportInfo, changes ...Change) Snapshot {
	s.mu.Lock()
	next := s.snapshot
	for _, change := range changes {
		change(&next)
	}
	s.snapshot = next
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	update := Update{Transport: transport, State: next}
	for _, sub := range subs {
		if s.subscribed(sub.id) {
			sub.fn(update)
		}
	}
	return next
}

// Reset installs the initial snapshot and notifies subscribers.
func (s *Store) Reset(transport TransportInfo) Snapshot {
	return s.Update(transport, func(snap *Snapshot) { *snap = Initial() })
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() { s.unsubscribe(id) }
}

// UnsubscribeAll removes every subscriber.
func (s *Store) UnsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
}

// SubscriberCount returns the number of registered subscribers.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Store) subscribed(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.id == id {
			return true
		}
	}
	return false
}
