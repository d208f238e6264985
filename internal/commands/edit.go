package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"tasksync/internal/exitcode"
)

func init() {
	Register(&EditCmd{})
}

// EditCmd implements the edit command.
type EditCmd struct{}

func (c *EditCmd) Name() string      { return "edit" }
func (c *EditCmd) Aliases() []string { return []string{"rename"} }
func (c *EditCmd) Synopsis() string  { return "Rename a task" }
func (c *EditCmd) Usage() string     { return "tasksync edit <ref> <title...>" }
func (c *EditCmd) NeedsAuth() bool   { return true }

func (c *EditCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *EditCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	eng, err := rt.Engine(ctx)
	if err != nil {
		return Fail(errOut, err)
	}

	t, err := resolveArgs(args, eng.Snapshot().Tasks)
	if err != nil {
		return Fail(errOut, err)
	}

	if err := eng.StartEdit(t.ID); err != nil {
		return Fail(errOut, err)
	}
	if err := eng.SaveEdit(ctx, t.ID, strings.Join(args[1:], " ")); err != nil {
		return Fail(errOut, err)
	}

	if !rt.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
