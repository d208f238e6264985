package service

import (
	"sync"
	"testing"

	"tasksync/internal/task"
)

type countingSub struct {
	mu     sync.Mutex
	closed int
}

func (s *countingSub) Events() <-chan task.Change { return nil }

func (s *countingSub) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func TestSubscriptionSet_CloseAll(t *testing.T) {
	var set SubscriptionSet
	a, b, c := &countingSub{}, &countingSub{}, &countingSub{}
	set.Add(a)
	set.Add(b)
	set.Add(c)
	set.Remove(c)

	if n := set.Len(); n != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", n)
	}

	set.CloseAll()
	set.CloseAll()

	if a.closed != 1 || b.closed != 1 {
		t.Errorf("expected each subscription closed once, got %d and %d", a.closed, b.closed)
	}
	if c.closed != 0 {
		t.Error("removed subscription must not be closed")
	}
	if n := set.Len(); n != 0 {
		t.Errorf("expected empty set, got %d", n)
	}
}
