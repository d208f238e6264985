package output

import (
	"bytes"
	"testing"

	"tasksync/internal/session"
	"tasksync/internal/task"
)

func TestFormatTask(t *testing.T) {
	var buf bytes.Buffer
	FormatTask(&buf, 1, task.Task{Title: "buy milk"})
	FormatTask(&buf, 12, task.Task{Title: "pay\nrent", IsDone: true})
	FormatTask(&buf, 3, task.Task{Title: "  "})

	want := "   1  [ ] buy milk\n  12  [x] pay rent\n   3  [ ] (untitled)\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestFormatHeader(t *testing.T) {
	var buf bytes.Buffer
	FormatHeader(&buf, task.Stats{Total: 3, Done: 2, Pending: 1, Percent: 67}, " milk ", task.FilterPending)

	want := "3 total, 2 done, 1 pending (67%)\nfilter: pending, query: \"milk\"\n------------\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}

	buf.Reset()
	FormatHeader(&buf, task.Stats{}, "", task.FilterAll)
	want = "0 total, 0 done, 0 pending (0%)\n------------\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestFormatSession(t *testing.T) {
	tests := []struct {
		s    session.Session
		want string
	}{
		{session.Session{}, "not logged in\n"},
		{session.Session{UserID: "u1", Email: "ann@example.com", Backend: "rest"}, "logged in as ann@example.com (rest)\n"},
		{session.Session{UserID: "list-1"}, "logged in as list-1\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		FormatSession(&buf, tt.s)
		if buf.String() != tt.want {
			t.Errorf("expected %q, got %q", tt.want, buf.String())
		}
	}
}
