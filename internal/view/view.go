// Package view derives display state from the canonical task collection.
// Every function here is pure.
package view

import (
	"math"
	"strings"
	"sync"

	"tasksync/internal/task"
)

// ComputeStats counts done and pending tasks.
// Percent is 0 for an empty collection.
func ComputeStats(tasks []task.Task) task.Stats {
	total := len(tasks)
	done := 0
	for _, t := range tasks {
		if t.IsDone {
			done++
		}
	}
	percent := 0
	if total > 0 {
		percent = int(math.Round(float64(done) / float64(total) * 100))
	}
	return task.Stats{
		Total:   total,
		Done:    done,
		Pending: total - done,
		Percent: percent,
	}
}

// Visible returns the tasks matching both the query and the filter,
// in collection order. The query is matched case-insensitively as a
// substring of the title; an empty query matches everything.
func Visible(tasks []task.Task, query string, filter task.Filter) []task.Task {
	q := strings.ToLower(strings.TrimSpace(query))
	result := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if q != "" && !strings.Contains(strings.ToLower(t.Title), q) {
			continue
		}
		if !filter.Matches(t) {
			continue
		}
		result = append(result, t)
	}
	return result
}

// Projection is the derived state handed to the presentation layer.
type Projection struct {
	Stats   task.Stats
	Visible []task.Task
}

type projectionKey struct {
	version uint64
	query   string
	filter  task.Filter
}

// Projector memoizes projections keyed on (collection version, query, filter).
// Callers bump the version whenever the collection is replaced.
type Projector struct {
	mu     sync.Mutex
	key    projectionKey
	valid  bool
	result Projection
}

// Project returns the projection for the given inputs, reusing the
// previous result when the key is unchanged.
func (p *Projector) Project(version uint64, tasks []task.Task, query string, filter task.Filter) Projection {
	key := projectionKey{version: version, query: query, filter: filter}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid && p.key == key {
		return p.result
	}
	p.result = Projection{
		Stats:   ComputeStats(tasks),
		Visible: Visible(tasks, query, filter),
	}
	p.key = key
	p.valid = true
	return p.result
}
