package service

import (
	"sync"

	"tasksync/internal/task"
)

// Subscription is a handle on a change stream.
type Subscription interface {
	// Events delivers change notifications. It is closed when the
	// subscription ends, either through Close or a broken stream.
	Events() <-chan task.Change

	// Close unsubscribes and waits for the stream to stop.
	Close() error
}

// SubscriptionSet tracks the live subscriptions of a backend so that
// sign-out can tear them all down.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs map[Subscription]struct{}
}

// Add registers a subscription.
func (s *SubscriptionSet) Add(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[Subscription]struct{})
	}
	s.subs[sub] = struct{}{}
}

// Remove forgets a subscription without closing it.
func (s *SubscriptionSet) Remove(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// CloseAll closes every registered subscription and empties the set.
func (s *SubscriptionSet) CloseAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for sub := range subs {
		_ = sub.Close()
	}
}

// Len returns the number of registered subscriptions.
func (s *SubscriptionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
