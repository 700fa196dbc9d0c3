// Package store holds the routing configuration shared by every file-chooser call.
package store

import (
	"sync"
	"time"

	"github.com/jmylchreest/shana/internal/config"
)

// ChangeEvent signals that the routing was replaced.
type ChangeEvent struct {
	Generation uint64
	Previous   config.Routing
	Current    config.Routing
	Source     string
}

// Changed reports whether the replace altered any selection.
func (e ChangeEvent) Changed() bool {
	return e.Previous != e.Current
}

// Store is the process-wide holder of the current routing.
// Readers get a copy; the lock is only held for the copy or the swap.
type Store struct {
	mu         sync.RWMutex
	routing    config.Routing
	generation uint64
	updatedAt  time.Time

	subscribers []chan ChangeEvent
	closed      bool
}

// NewStore creates a Store holding initial.
func NewStore(initial config.Routing) *Store {
	return &Store{
		routing:     initial,
		updatedAt:   time.Now(),
		subscribers: make([]chan ChangeEvent, 0),
	}
}

// Snapshot returns the current routing.
func (s *Store) Snapshot() config.Routing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routing
}

// Replace atomically publishes r. Concurrent replaces are serialized; the last one wins.
// source is informational (e.g. the file path that triggered the reload).
func (s *Store) Replace(r config.Routing, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.routing
	s.routing = r
	s.generation++
	s.updatedAt = time.Now()

	s.notifyChange(ChangeEvent{
		Generation: s.generation,
		Previous:   prev,
		Current:    r,
		Source:     source,
	})
}

// Generation returns how many times the routing has been replaced.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// UpdatedAt returns when the routing was last set.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Subscribe returns a channel that receives change events.
// Events are dropped for subscribers that do not keep up.
func (s *Store) Subscribe() <-chan ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan ChangeEvent, 10)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(ch <-chan ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close closes all subscriber channels. Snapshot and Replace keep working.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	return nil
}

// notifyChange sends a change event to all subscribers (non-blocking).
func (s *Store) notifyChange(event ChangeEvent) {
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
