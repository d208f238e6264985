// Package service defines the backend-agnostic interface for the remote task store.
package service

import (
	"context"

	"tasksync/internal/session"
	"tasksync/internal/task"
)

// Store defines the task operations of the remote store.
// All backend calls go through this interface.
// The engine never imports a backend package directly.
type Store interface {
	// ListTasks returns every task visible to the signed-in identity,
	// newest first (created_at descending).
	ListTasks(ctx context.Context) ([]task.Task, error)

	// CreateTask creates a task owned by the signed-in identity.
	// Returns a ValidationError without calling the store if the
	// trimmed title is empty.
	CreateTask(ctx context.Context, title string) (task.Task, error)

	// UpdateTask applies a partial update.
	// Returns a NotFoundError if the task no longer exists.
	UpdateTask(ctx context.Context, id string, patch task.Patch) error

	// DeleteTask deletes a task.
	// May return a NotFoundError for an id that is already gone.
	DeleteTask(ctx context.Context, id string) error

	// Subscribe opens a stream of coarse change notifications scoped to
	// the task table. Closing the subscription unsubscribes.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Authenticator defines the identity operations of the remote store.
type Authenticator interface {
	// SignUp registers a new identity. It does not sign in.
	SignUp(ctx context.Context, email, password string) error

	// SignIn authenticates and returns the new session.
	SignIn(ctx context.Context, email, password string) (session.Session, error)

	// SignOut ends the session. Every active subscription is closed
	// before SignOut returns.
	SignOut(ctx context.Context) error

	// Restore re-arms the backend with a previously persisted session.
	Restore(ctx context.Context, s session.Session) error
}

// Backend is a store that also provides identity operations.
type Backend interface {
	Store
	Authenticator
}
