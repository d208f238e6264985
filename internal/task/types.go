// Package task defines the task model shared by the engine, the adapters and the store server.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Task represents a single task row.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsDone    bool      `json:"is_done"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Patch holds the fields of an update. Nil fields are left untouched.
type Patch struct {
	Title  *string `json:"title,omitempty"`
	IsDone *bool   `json:"is_done,omitempty"`
}

// SetTitle returns a patch that renames a task.
func SetTitle(title string) Patch {
	return Patch{Title: &title}
}

// SetDone returns a patch that sets the done flag.
func SetDone(done bool) Patch {
	return Patch{IsDone: &done}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.IsDone == nil
}

// Filter selects tasks by completion state.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterPending Filter = "pending"
	FilterDone    Filter = "done"
)

// ParseFilter parses a filter mode (case-insensitive, trimmed).
// An empty string means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "pending":
		return FilterPending, nil
	case "done":
		return FilterDone, nil
	default:
		return FilterAll, &ValidationError{Field: "filter", Msg: fmt.Sprintf("unknown filter: %s", s)}
	}
}

// Matches reports whether a task passes the filter.
func (f Filter) Matches(t Task) bool {
	switch f {
	case FilterPending:
		return !t.IsDone
	case FilterDone:
		return t.IsDone
	default:
		return true
	}
}

// Stats aggregates completion counters over a collection.
type Stats struct {
	Total   int
	Done    int
	Pending int
	Percent int
}

// ChangeKind is the kind of a change notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Change is a coarse notification that some row changed.
// It carries no row payload; receivers reload.
type Change struct {
	Kind ChangeKind `json:"type"`
}

// NormalizeTitle trims a title and rejects it when nothing is left.
func NormalizeTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", ErrEmptyTitle
	}
	return trimmed, nil
}
