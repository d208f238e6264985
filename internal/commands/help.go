package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/exitcode"
)

func init() {
	Register(&HelpCmd{})
}

// HelpCmd implements the help command.
type HelpCmd struct{}

func (c *HelpCmd) Name() string      { return "help" }
func (c *HelpCmd) Aliases() []string { return nil }
func (c *HelpCmd) Synopsis() string  { return "Print usage" }
func (c *HelpCmd) Usage() string     { return "tasksync help" }
func (c *HelpCmd) NeedsAuth() bool   { return false }

func (c *HelpCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *HelpCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	fmt.Fprint(out, helpText)
	return exitcode.Success
}

const helpText = `Usage:
  tasksync                                         List all tasks
  tasksync list [common flags] [-f all|pending|done] [-q <text>]
  tasksync add [common flags] <title...>
  tasksync done [common flags] <ref>
  tasksync edit [common flags] <ref> <title...>
  tasksync rm [common flags] <ref>
  tasksync stats [common flags]
  tasksync watch [common flags] [-f all|pending|done] [-q <text>]
  tasksync signup [common flags] [--password <pw>] <email>
  tasksync login [common flags] [--password <pw>] <email>
  tasksync login [common flags] --backend google
  tasksync logout [common flags]
  tasksync config init [common flags] [--force]
  tasksync config show [common flags]
  tasksync help
  tasksync version

A <ref> is a task number as shown by list, or #<id>.
Passwords may also be given in TASKSYNC_PASSWORD.

Common flags:
  --config <dir>   Override config directory
  --quiet          Suppress informational output
  --debug          Print debug logs to stderr
`
