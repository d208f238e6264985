package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
)

func init() {
	Register(&ConfigCmd{})
}

// ConfigCmd implements the config command.
type ConfigCmd struct {
	force bool
}

func (c *ConfigCmd) Name() string      { return "config" }
func (c *ConfigCmd) Aliases() []string { return nil }
func (c *ConfigCmd) Synopsis() string  { return "Write or show config.yaml" }
func (c *ConfigCmd) Usage() string     { return "tasksync config init [--force] | tasksync config show" }
func (c *ConfigCmd) NeedsAuth() bool   { return false }

func (c *ConfigCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.force, "force", false, "")
}

func (c *ConfigCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(errOut, "usage: %s\n", c.Usage())
		return exitcode.UserError
	}

	switch args[0] {
	case "init":
		if err := rt.Config.EnsureDir(); err != nil {
			fmt.Fprintf(errOut, "error: failed to create config directory: %v\n", err)
			return exitcode.UserError
		}
		path := rt.Config.SettingsPath()
		if err := config.WriteSettings(path, config.DefaultSettings(), c.force); err != nil {
			fmt.Fprintf(errOut, "error: %v (use --force to overwrite)\n", err)
			return exitcode.UserError
		}
		if !rt.Config.Quiet {
			fmt.Fprintf(out, "wrote %s\n", path)
		}
	case "show":
		s := rt.Config.Settings
		fmt.Fprintf(out, "dir:           %s\n", rt.Config.Dir)
		fmt.Fprintf(out, "backend:       %s\n", s.Backend)
		fmt.Fprintf(out, "store_url:     %s\n", s.StoreURL)
		fmt.Fprintf(out, "client_id:     %s\n", s.ClientID)
		fmt.Fprintf(out, "timeout:       %s\n", s.Timeout)
		fmt.Fprintf(out, "poll_interval: %s\n", s.PollInterval)
	default:
		fmt.Fprintf(errOut, "error: unknown config action: %s\n", args[0])
		return exitcode.UserError
	}
	return exitcode.Success
}
