package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/engine"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/task"
	"tasksync/internal/view"
)

func init() {
	Register(&ListCmd{})
}

// ListCmd implements the list command. It is also what `tasksync` with
// no arguments runs.
type ListCmd struct {
	filter string
	query  string
}

// SetFilter sets the filter mode (for testing).
func (c *ListCmd) SetFilter(filter string) {
	c.filter = filter
}

// SetQuery sets the search query (for testing).
func (c *ListCmd) SetQuery(query string) {
	c.query = query
}

func (c *ListCmd) Name() string      { return "list" }
func (c *ListCmd) Aliases() []string { return []string{"ls"} }
func (c *ListCmd) Synopsis() string  { return "List tasks with completion stats" }
func (c *ListCmd) Usage() string {
	return "tasksync list [--filter all|pending|done] [--query <text>]"
}
func (c *ListCmd) NeedsAuth() bool { return true }

func (c *ListCmd) RegisterFlags(fs *flag.FlagSet) {
	registerViewFlags(fs, &c.filter, &c.query)
}

func (c *ListCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintf(errOut, "error: unexpected argument: %s\n", args[0])
		return exitcode.UserError
	}

	eng, err := rt.Engine(ctx)
	if err != nil {
		return Fail(errOut, err)
	}
	if err := applyView(eng, c.filter, c.query); err != nil {
		return Fail(errOut, err)
	}

	render(out, eng.Snapshot(), eng.Project(), rt.Config.Quiet)
	return exitcode.Success
}

func registerViewFlags(fs *flag.FlagSet, filter, query *string) {
	fs.StringVar(filter, "filter", "", "")
	fs.StringVar(filter, "f", "", "")
	fs.StringVar(query, "query", "", "")
	fs.StringVar(query, "q", "", "")
}

// applyView validates and installs the filter and query on the engine.
func applyView(eng *engine.Engine, filter, query string) error {
	f, err := task.ParseFilter(filter)
	if err != nil {
		return err
	}
	eng.SetFilter(f)
	eng.SetQuery(query)
	return nil
}

// render prints the stats header and the visible tasks. Each task is
// numbered by its position in the full collection so that the number is a
// valid reference whatever the filter.
func render(w io.Writer, st engine.State, p view.Projection, quiet bool) {
	output.FormatHeader(w, p.Stats, st.Query, st.Filter)

	positions := make(map[string]int, len(st.Tasks))
	for i, t := range st.Tasks {
		positions[t.ID] = i + 1
	}
	for _, t := range p.Visible {
		output.FormatTask(w, positions[t.ID], t)
	}

	if len(p.Visible) == 0 && !quiet {
		fmt.Fprintln(w, "no tasks found")
	}
}
