package commands

import (
	"context"
	"flag"
	"io"

	"tasksync/internal/exitcode"
	"tasksync/internal/output"
)

func init() {
	Register(&StatsCmd{})
}

// StatsCmd implements the stats command.
type StatsCmd struct{}

func (c *StatsCmd) Name() string      { return "stats" }
func (c *StatsCmd) Aliases() []string { return nil }
func (c *StatsCmd) Synopsis() string  { return "Print completion stats" }
func (c *StatsCmd) Usage() string     { return "tasksync stats" }
func (c *StatsCmd) NeedsAuth() bool   { return true }

func (c *StatsCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *StatsCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	eng, err := rt.Engine(ctx)
	if err != nil {
		return Fail(errOut, err)
	}
	output.FormatStats(out, eng.Project().Stats)
	return exitcode.Success
}
