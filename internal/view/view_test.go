package view

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/internal/task"
)

func scenarioTasks() []task.Task {
	return []task.Task{
		{ID: "1", Title: "buy milk", IsDone: false},
		{ID: "2", Title: "pay rent", IsDone: true},
	}
}

func TestComputeStats_Scenario(t *testing.T) {
	stats := ComputeStats(scenarioTasks())
	assert.Equal(t, task.Stats{Total: 2, Done: 1, Pending: 1, Percent: 50}, stats)
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil)
	assert.Equal(t, task.Stats{}, stats)
}

func TestComputeStats_Rounds(t *testing.T) {
	tasks := []task.Task{{IsDone: true}, {IsDone: true}, {IsDone: false}}
	assert.Equal(t, 67, ComputeStats(tasks).Percent)

	tasks = []task.Task{{IsDone: true}, {}, {}}
	assert.Equal(t, 33, ComputeStats(tasks).Percent)
}

func TestVisible_PendingScenario(t *testing.T) {
	got := Visible(scenarioTasks(), "", task.FilterPending)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestVisible_QueryCaseInsensitive(t *testing.T) {
	got := Visible(scenarioTasks(), "  RENT ", task.FilterAll)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestVisible_QueryAndFilterAreANDed(t *testing.T) {
	got := Visible(scenarioTasks(), "rent", task.FilterPending)
	assert.Empty(t, got)
}

func TestVisible_KeepsOrder(t *testing.T) {
	now := time.Now()
	tasks := []task.Task{
		{ID: "c", Title: "alpha 3", CreatedAt: now},
		{ID: "b", Title: "alpha 2", CreatedAt: now.Add(-time.Minute)},
		{ID: "a", Title: "alpha 1", CreatedAt: now.Add(-2 * time.Minute)},
	}
	got := Visible(tasks, "alpha", task.FilterAll)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

// Properties over random collections: stats add up, and the visible list
// is exactly the subset satisfying both predicates.
func TestProperties_RandomCollections(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"milk", "Rent", "call mom", "MILKSHAKE", "gym", "read"}
	queries := []string{"", "milk", "RENT", "m", "zzz", " gym "}
	filters := []task.Filter{task.FilterAll, task.FilterPending, task.FilterDone}

	for i := 0; i < 200; i++ {
		n := rng.Intn(12)
		tasks := make([]task.Task, n)
		for j := range tasks {
			tasks[j] = task.Task{
				ID:     fmt.Sprintf("t%d", j),
				Title:  words[rng.Intn(len(words))],
				IsDone: rng.Intn(2) == 0,
			}
		}

		stats := ComputeStats(tasks)
		require.Equal(t, stats.Total, stats.Done+stats.Pending)
		if stats.Total == 0 {
			require.Equal(t, 0, stats.Percent)
		}

		for _, q := range queries {
			for _, f := range filters {
				got := Visible(tasks, q, f)
				ids := make(map[string]bool, len(got))
				for _, v := range got {
					ids[v.ID] = true
				}
				for _, tk := range tasks {
					want := f.Matches(tk) &&
						strings.Contains(strings.ToLower(tk.Title), strings.ToLower(strings.TrimSpace(q)))
					assert.Equal(t, want, ids[tk.ID], "task %s query %q filter %s", tk.ID, q, f)
				}
			}
		}
	}
}

func TestProjector_Memoizes(t *testing.T) {
	var p Projector
	tasks := scenarioTasks()

	first := p.Project(1, tasks, "", task.FilterPending)
	require.Len(t, first.Visible, 1)

	// Same key: the cached result is returned even if the slice changed underneath.
	tasks[0].IsDone = true
	again := p.Project(1, tasks, "", task.FilterPending)
	assert.Len(t, again.Visible, 1)

	bumped := p.Project(2, tasks, "", task.FilterPending)
	assert.Empty(t, bumped.Visible)
	assert.Equal(t, 100, bumped.Stats.Percent)
}
