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
	Register(&AddCmd{})
}

// AddCmd implements the add command.
type AddCmd struct{}

func (c *AddCmd) Name() string      { return "add" }
func (c *AddCmd) Aliases() []string { return []string{"create"} }
func (c *AddCmd) Synopsis() string  { return "Create a task" }
func (c *AddCmd) Usage() string     { return "tasksync add <title...>" }
func (c *AddCmd) NeedsAuth() bool   { return true }

func (c *AddCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *AddCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	eng, err := rt.Engine(ctx)
	if err != nil {
		return Fail(errOut, err)
	}

	// Validation happens in the engine: a blank title never reaches the store.
	if err := eng.AddTask(ctx, strings.Join(args, " ")); err != nil {
		return Fail(errOut, err)
	}

	if !rt.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
