package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/exitcode"
)

func init() {
	Register(&DoneCmd{})
}

// DoneCmd implements the done command. It toggles: running it on a
// completed task reopens it.
type DoneCmd struct{}

func (c *DoneCmd) Name() string      { return "done" }
func (c *DoneCmd) Aliases() []string { return []string{"toggle"} }
func (c *DoneCmd) Synopsis() string  { return "Toggle a task between pending and done" }
func (c *DoneCmd) Usage() string     { return "tasksync done <ref>" }
func (c *DoneCmd) NeedsAuth() bool   { return true }

func (c *DoneCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *DoneCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	eng, err := rt.Engine(ctx)
	if err != nil {
		return Fail(errOut, err)
	}

	t, err := resolveArgs(args, eng.Snapshot().Tasks)
	if err != nil {
		return Fail(errOut, err)
	}

	if err := eng.ToggleDone(ctx, t.ID); err != nil {
		return Fail(errOut, err)
	}

	if !rt.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
