// Package exitcode defines exit codes for the CLI.
package exitcode

import (
	"errors"

	"tasksync/internal/task"
)

const (
	// Success indicates successful completion.
	Success = 0

	// UserError indicates a user error (bad args, invalid input, unknown task).
	UserError = 1

	// AuthError indicates an auth/config error.
	AuthError = 2

	// BackendError indicates a backend/API/network error.
	BackendError = 3
)

// For maps an error onto an exit code.
func For(err error) int {
	if err == nil {
		return Success
	}

	var (
		vErr  *task.ValidationError
		nfErr *task.NotFoundError
		aErr  *task.AuthError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &nfErr):
		return UserError
	case errors.As(err, &aErr):
		return AuthError
	default:
		return BackendError
	}
}
