package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/engine"
	"tasksync/internal/exitcode"
)

func init() {
	Register(&WatchCmd{})
}

// WatchCmd implements the watch command: it re-renders the list every time
// the collection changes, until interrupted.
type WatchCmd struct {
	filter string
	query  string
}

func (c *WatchCmd) Name() string      { return "watch" }
func (c *WatchCmd) Aliases() []string { return nil }
func (c *WatchCmd) Synopsis() string  { return "Follow the task list live" }
func (c *WatchCmd) Usage() string {
	return "tasksync watch [--filter all|pending|done] [--query <text>]"
}
func (c *WatchCmd) NeedsAuth() bool { return true }

func (c *WatchCmd) RegisterFlags(fs *flag.FlagSet) {
	registerViewFlags(fs, &c.filter, &c.query)
}

func (c *WatchCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	eng, err := rt.Engine(ctx)
	if err != nil {
		return Fail(errOut, err)
	}
	if err := applyView(eng, c.filter, c.query); err != nil {
		return Fail(errOut, err)
	}

	var (
		rendered bool
		version  uint64
		lastErr  string
	)
	frame := func() {
		st := eng.Snapshot()
		if st.Loading {
			return
		}
		if st.Err != lastErr {
			lastErr = st.Err
			if st.Err != "" {
				fmt.Fprintf(errOut, "error: %s\n", st.Err)
			}
		}
		if rendered && st.Version == version {
			return
		}
		if rendered {
			fmt.Fprintln(out)
		}
		render(out, st, eng.Project(), rt.Config.Quiet)
		rendered, version = true, st.Version
	}

	frame()
	for {
		select {
		case <-ctx.Done():
			return exitcode.Success
		case <-eng.Changes():
			frame()
			if !eng.Snapshot().Session.Present() {
				return Fail(errOut, engine.ErrNotSignedIn)
			}
		}
	}
}
