package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/session"
	"tasksync/internal/task"
)

func init() {
	Register(&LoginCmd{})
}

// browserLogin is implemented by backends that sign in through a browser
// flow instead of a password.
type browserLogin interface {
	Login(ctx context.Context, prompt io.Writer) (session.Session, error)
}

// LoginCmd implements the login command.
type LoginCmd struct {
	password string
	backend  string
}

func (c *LoginCmd) Name() string      { return "login" }
func (c *LoginCmd) Aliases() []string { return nil }
func (c *LoginCmd) Synopsis() string  { return "Sign in and save the session" }
func (c *LoginCmd) Usage() string {
	return "tasksync login [--password <pw>] <email> | tasksync login --backend google"
}
func (c *LoginCmd) NeedsAuth() bool { return false }

func (c *LoginCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.password, "password", "", "")
	fs.StringVar(&c.password, "p", "", "")
	fs.StringVar(&c.backend, "backend", "", "")
}

func (c *LoginCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	saved, err := rt.Sessions.Load()
	if err != nil {
		// A corrupt session file is overwritten by the new login.
		rt.Logger.Debug("ignoring unreadable session", "error", err)
	} else if saved.Present() {
		if !rt.Config.Quiet {
			fmt.Fprintln(out, "already logged in (run: tasksync logout)")
		}
		return exitcode.Success
	}

	if c.backend != "" {
		rt.Config.Settings.Backend = c.backend
		if err := rt.Config.Settings.Validate(); err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.UserError
		}
	}

	var s session.Session
	if rt.Config.Settings.Backend == config.BackendGoogle {
		s, err = c.browser(ctx, rt, errOut)
	} else {
		s, err = c.withPassword(ctx, rt, args)
	}
	if err != nil {
		return Fail(errOut, err)
	}

	if err := rt.Config.EnsureDir(); err != nil {
		fmt.Fprintf(errOut, "error: failed to create config directory: %v\n", err)
		return exitcode.AuthError
	}
	if err := rt.Sessions.Save(s); err != nil {
		fmt.Fprintf(errOut, "error: failed to save session: %v\n", err)
		return exitcode.AuthError
	}

	if !rt.Config.Quiet {
		output.FormatSession(out, s)
	}
	return exitcode.Success
}

func (c *LoginCmd) withPassword(ctx context.Context, rt *Runtime, args []string) (session.Session, error) {
	email, password, err := credentials(args, c.password)
	if err != nil {
		return session.Session{}, err
	}
	eng, err := rt.Engine(ctx)
	if err != nil {
		return session.Session{}, err
	}
	return eng.SignIn(ctx, email, password)
}

func (c *LoginCmd) browser(ctx context.Context, rt *Runtime, errOut io.Writer) (session.Session, error) {
	if !rt.Config.HasOAuthClient() {
		printOAuthSetup(errOut, rt.Config.Dir)
		return session.Session{}, &task.AuthError{Op: "login", Err: fmt.Errorf("oauth_client.json not found in %s", rt.Config.Dir)}
	}
	b, err := rt.Backend(ctx)
	if err != nil {
		return session.Session{}, err
	}
	bl, ok := b.(browserLogin)
	if !ok {
		return session.Session{}, &task.AuthError{Op: "login", Err: fmt.Errorf("backend %s has no browser login", rt.Config.Settings.Backend)}
	}
	return bl.Login(ctx, errOut)
}

func printOAuthSetup(errOut io.Writer, dir string) {
	fmt.Fprintln(errOut, "To authenticate with Google Tasks, you need OAuth credentials:")
	fmt.Fprintln(errOut, "")
	fmt.Fprintln(errOut, "1. Go to https://console.cloud.google.com/apis/credentials")
	fmt.Fprintln(errOut, "2. Create a project (or select an existing one)")
	fmt.Fprintln(errOut, "3. Enable the Google Tasks API:")
	fmt.Fprintln(errOut, "   https://console.cloud.google.com/apis/library/tasks.googleapis.com")
	fmt.Fprintln(errOut, "4. Create OAuth 2.0 credentials:")
	fmt.Fprintln(errOut, "   - Click 'Create Credentials' > 'OAuth client ID'")
	fmt.Fprintln(errOut, "   - Choose 'Desktop app' as application type")
	fmt.Fprintln(errOut, "   - Download the JSON file")
	fmt.Fprintln(errOut, "5. Save it as:")
	fmt.Fprintf(errOut, "   %s/oauth_client.json\n", dir)
	fmt.Fprintln(errOut, "")
	fmt.Fprintln(errOut, "Then run 'tasksync login --backend google' again.")
}
