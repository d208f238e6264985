package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tasksync/internal/exitcode"
	"tasksync/internal/task"
)

// PasswordEnv is read when --password is not given.
const PasswordEnv = "TASKSYNC_PASSWORD"

func init() {
	Register(&SignupCmd{})
}

// SignupCmd implements the signup command.
type SignupCmd struct {
	password string
}

func (c *SignupCmd) Name() string      { return "signup" }
func (c *SignupCmd) Aliases() []string { return []string{"register"} }
func (c *SignupCmd) Synopsis() string  { return "Create an account on the task store" }
func (c *SignupCmd) Usage() string     { return "tasksync signup [--password <pw>] <email>" }
func (c *SignupCmd) NeedsAuth() bool   { return false }

func (c *SignupCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.password, "password", "", "")
	fs.StringVar(&c.password, "p", "", "")
}

func (c *SignupCmd) Run(ctx context.Context, rt *Runtime, args []string, out, errOut io.Writer) int {
	email, password, err := credentials(args, c.password)
	if err != nil {
		return Fail(errOut, err)
	}

	eng, err := rt.Engine(ctx)
	if err != nil {
		return Fail(errOut, err)
	}
	if err := eng.SignUp(ctx, email, password); err != nil {
		return Fail(errOut, err)
	}

	if !rt.Config.Quiet {
		fmt.Fprintln(out, eng.Snapshot().Notice)
	}
	return exitcode.Success
}

// credentials extracts the email argument and the password from the flag
// or the environment.
func credentials(args []string, password string) (string, string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", "", &task.ValidationError{Field: "email", Msg: "email required"}
	}
	if len(args) > 1 {
		return "", "", &task.ValidationError{Field: "email", Msg: fmt.Sprintf("unexpected argument: %s", args[1])}
	}
	if password == "" {
		password = os.Getenv(PasswordEnv)
	}
	if password == "" {
		return "", "", &task.ValidationError{Field: "password", Msg: "password required (use --password or " + PasswordEnv + ")"}
	}
	return strings.TrimSpace(args[0]), password, nil
}
