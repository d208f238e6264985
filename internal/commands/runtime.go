package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"tasksync/internal/config"
	"tasksync/internal/engine"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/task"
)

// BackendFactory creates the backend named by cfg.Settings.Backend. The
// holder is the one the engine reports to; backends clear it when the
// store rejects the credentials.
type BackendFactory func(ctx context.Context, cfg *config.Config, holder *session.Holder, logger *slog.Logger) (service.Backend, error)

// ErrNotLoggedIn is returned when a command needs a saved session and there is none.
var ErrNotLoggedIn = &task.AuthError{Err: errors.New("not logged in (run: tasksync login)")}

// Runtime is the per-invocation state shared by commands. The backend and
// the engine are created on first use.
type Runtime struct {
	Config   *config.Config
	Sessions session.FileStore
	Holder   *session.Holder
	Logger   *slog.Logger

	factory BackendFactory
	backend service.Backend
	engine  *engine.Engine

	watchOnce sync.Once
	stopWatch func()
	watchDone chan struct{}
}

// NewRuntime creates a runtime for cfg. logger may be nil.
func NewRuntime(cfg *config.Config, factory BackendFactory, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runtime{
		Config:   cfg,
		Sessions: session.FileStore{Path: cfg.TokenPath()},
		Holder:   session.NewHolder(),
		Logger:   logger,
		factory:  factory,
	}
}

// Backend returns the backend, creating it on first use.
func (r *Runtime) Backend(ctx context.Context) (service.Backend, error) {
	if r.backend != nil {
		return r.backend, nil
	}
	if r.factory == nil {
		return nil, fmt.Errorf("no backend configured")
	}
	b, err := r.factory(ctx, r.Config, r.Holder, r.Logger)
	if err != nil {
		return nil, err
	}
	r.backend = b
	return b, nil
}

// Engine returns the engine, creating it and its backend on first use.
func (r *Runtime) Engine(ctx context.Context) (*engine.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}
	b, err := r.Backend(ctx)
	if err != nil {
		return nil, err
	}
	r.watchSession()
	r.engine = engine.New(engine.Config{
		Store:   b,
		Auth:    b,
		Session: r.Holder,
		Logger:  r.Logger,
	})
	return r.engine, nil
}

// SavedSession loads the persisted session and selects its backend.
func (r *Runtime) SavedSession() (session.Session, error) {
	s, err := r.Sessions.Load()
	if err != nil {
		return session.Session{}, err
	}
	if s.Present() && s.Backend != "" && r.backend == nil {
		r.Config.Settings.Backend = s.Backend
	}
	return s, nil
}

// Restore loads the saved session and initializes the engine with it.
func (r *Runtime) Restore(ctx context.Context) (*engine.Engine, error) {
	s, err := r.SavedSession()
	if err != nil {
		return nil, err
	}
	if !s.Present() {
		return nil, ErrNotLoggedIn
	}
	eng, err := r.Engine(ctx)
	if err != nil {
		return nil, err
	}
	if err := eng.Restore(ctx, s); err != nil {
		return nil, err
	}
	return eng, nil
}

// Close releases the engine.
func (r *Runtime) Close() error {
	var err error
	if r.engine != nil {
		err = r.engine.Close()
	}
	if r.stopWatch != nil {
		r.stopWatch()
		<-r.watchDone
	}
	return err
}

// watchSession forgets the saved session once the store has rejected it.
func (r *Runtime) watchSession() {
	r.watchOnce.Do(func() {
		events, stop := r.Holder.Subscribe()
		r.stopWatch = stop
		r.watchDone = make(chan struct{})
		go func() {
			defer close(r.watchDone)
			for ev := range events {
				if ev.Kind != session.Invalidated {
					continue
				}
				r.Logger.Info("saved session rejected, removing it", "path", r.Sessions.Path)
				if err := r.Sessions.Remove(); err != nil {
					r.Logger.Warn("removing saved session", "error", err)
				}
			}
		}()
	})
}

// Fail prints err the way every command reports errors and returns its exit code.
func Fail(errOut io.Writer, err error) int {
	code := exitcode.For(err)
	switch code {
	case exitcode.UserError:
		fmt.Fprintf(errOut, "error: %v\n", err)
	case exitcode.AuthError:
		fmt.Fprintf(errOut, "error: auth error: %v\n", err)
	default:
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
	}
	return code
}
