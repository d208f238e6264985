package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/exitcode"
	"tasksync/internal/session"
)

func init() {
	Register(&LogoutCmd{})
}

// LogoutCmd implements the logout command.
type LogoutCmd struct{}

func (c *LogoutCmd) Name() string      { return "logout" }
func (c *LogoutCmd) Aliases() []string { return nil }
func (c *LogoutCmd) Synopsis() string  { return "Sign out and remove the saved session" }
func (c *LogoutCmd) Usage() string     { return "tasksync logout [common flags]" }
func (c *LogoutCmd) NeedsAuth() bool   { return false }

func (c *LogoutCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *LogoutCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	s, err := rt.SavedSession()
	if err != nil || !s.Present() {
		// An unreadable session file is as good as none; remove it below.
		if err == nil {
			if !rt.Config.Quiet {
				fmt.Fprintln(out, "not logged in")
			}
			return exitcode.Success
		}
		rt.Logger.Debug("ignoring unreadable session", "error", err)
	} else {
		c.signOut(ctx, rt, s)
	}

	if err := rt.Sessions.Remove(); err != nil {
		fmt.Fprintf(errOut, "error: failed to remove session: %v\n", err)
		return exitcode.AuthError
	}

	if !rt.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}

// signOut ends the session on the store. Local credentials are removed
// regardless, so failures are only logged.
func (c *LogoutCmd) signOut(ctx context.Context, rt *Runtime, s session.Session) {
	b, err := rt.Backend(ctx)
	if err != nil {
		rt.Logger.Debug("no backend for remote sign-out", "error", err)
		return
	}
	if err := b.Restore(ctx, s); err != nil {
		rt.Logger.Debug("restoring session for sign-out", "error", err)
		return
	}
	eng, err := rt.Engine(ctx)
	if err != nil {
		return
	}
	if err := eng.SignOut(ctx); err != nil {
		rt.Logger.Warn("remote sign-out failed", "error", err)
	}
}
