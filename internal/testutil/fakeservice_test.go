package testutil

import (
	"context"
	"testing"
	"time"

	"tasksync/internal/task"
)

func TestFakeService_CreateTaskAvoidsSeededIDs(t *testing.T) {
	f := NewFakeService()
	f.AddTask("t1", "Buy milk", false)
	f.AddTask("t3", "Walk dog", false)

	seen := map[string]bool{"t1": true, "t3": true}
	for i := 0; i < 3; i++ {
		created, err := f.CreateTask(context.Background(), "new")
		if err != nil {
			t.Fatal(err)
		}
		if seen[created.ID] {
			t.Fatalf("CreateTask reused id %q", created.ID)
		}
		seen[created.ID] = true
	}
	if n := len(f.Tasks()); n != 5 {
		t.Errorf("expected 5 tasks, got %d", n)
	}
}

func TestFakeService_SubscriptionEndsWithContext(t *testing.T) {
	f := NewFakeService()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not end with its context")
	}
	if n := f.Subscriptions(); n != 0 {
		t.Errorf("expected no open subscriptions, got %d", n)
	}
}

func TestFakeService_DropSubscriptions(t *testing.T) {
	f := NewFakeService()
	sub, err := f.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	f.Emit(task.ChangeInsert)

	f.DropSubscriptions()

	if ev, ok := <-sub.Events(); !ok || ev.Kind != task.ChangeInsert {
		t.Fatalf("expected buffered insert before close, got %+v %v", ev, ok)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed stream")
	}
	if err := sub.Close(); err != nil {
		t.Errorf("Close after drop: %v", err)
	}
}
