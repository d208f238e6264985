// Package engine implements the reconciliation engine: it owns the canonical
// task collection, forwards user intents to the remote store and reloads the
// collection whenever the store reports a change.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/task"
	"tasksync/internal/view"
)

// ErrNotSignedIn is returned by mutations issued without a session.
var ErrNotSignedIn = &task.AuthError{Err: errors.New("not signed in")}

// Config holds the collaborators of an Engine.
type Config struct {
	Store   service.Store
	Auth    service.Authenticator // optional: nil disables SignIn/SignUp/SignOut delegation
	Session *session.Holder       // optional: a private holder is created when nil
	Logger  *slog.Logger
}

// Draft is the single in-progress edit of a task title.
type Draft struct {
	TaskID string
	Title  string
}

// State is a consistent copy of the engine state for rendering.
type State struct {
	Session session.Session
	Tasks   []task.Task
	Version uint64
	Query   string
	Filter  task.Filter
	Title   string
	Draft   *Draft
	Err     string
	Notice  string
	Loading bool
}

// Engine reconciles local intents with the remote store.
// All methods are safe for concurrent use.
type Engine struct {
	store  service.Store
	auth   service.Authenticator
	holder *session.Holder
	logger *slog.Logger

	projector view.Projector

	mu      sync.Mutex
	userID  string
	tasks   []task.Task
	version uint64
	query   string
	filter  task.Filter
	title   string
	draft   *Draft
	lastErr error
	notice  string

	// Reload coalescing. requested counts reload requests, completed is the
	// highest request number satisfied by a finished run. generation changes
	// on every identity transition; runs started under an older generation
	// never touch the collection.
	reloading  bool
	pending    bool
	requested  uint64
	completed  uint64
	reloadErr  error
	reloadDone chan struct{}
	generation uint64

	sub     service.Subscription
	subDone chan struct{}

	changes     chan struct{}
	stopSession func()
	wg          sync.WaitGroup

	// ctx bounds the subscription and the reloads it triggers. It outlives
	// the calls that open them and ends in Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an engine with an empty collection and no session.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	holder := cfg.Session
	if holder == nil {
		holder = session.NewHolder()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:        ctx,
		cancel:     cancel,
		store:      cfg.Store,
		auth:       cfg.Auth,
		holder:     holder,
		logger:     logger,
		filter:     task.FilterAll,
		reloadDone: make(chan struct{}),
		changes:    make(chan struct{}, 1),
	}

	events, stop := holder.Subscribe()
	e.stopSession = stop
	e.wg.Add(1)
	go e.watchSession(events)

	return e
}

// Session returns the session holder the engine reports to.
func (e *Engine) Session() *session.Holder {
	return e.holder
}

// Initialize loads the collection for s and opens the change subscription.
// An absent session clears the collection.
func (e *Engine) Initialize(ctx context.Context, s session.Session) error {
	e.closeSubscription()

	e.mu.Lock()
	if e.userID != s.UserID {
		e.generation++
		e.userID = s.UserID
		e.replaceLocked(nil)
	}
	e.mu.Unlock()

	if !s.Present() {
		e.notify()
		return nil
	}

	// Subscribe before listing so that no change committed in between is missed.
	sub, subErr := e.store.Subscribe(e.ctx)
	if subErr != nil {
		e.logger.Warn("change subscription failed", "error", subErr)
	} else {
		e.attach(sub)
	}

	if err := e.Reload(ctx); err != nil {
		return err
	}
	if subErr != nil {
		e.fail(subErr)
		return subErr
	}
	return nil
}

// Restore initializes the engine from a persisted session.
func (e *Engine) Restore(ctx context.Context, s session.Session) error {
	if !s.Present() {
		return e.Initialize(ctx, s)
	}
	if e.auth != nil {
		if err := e.auth.Restore(ctx, s); err != nil {
			e.fail(err)
			return err
		}
	}
	e.holder.Set(session.Restored, s)
	return e.Initialize(ctx, s)
}

// Reload replaces the collection with a fresh listing. If a reload is
// already running, the call is folded into a single follow-up run and
// waits for it. A failed reload keeps the last known good collection.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	e.requested++
	ticket := e.requested
	if !e.reloading {
		e.reloading = true
		e.mu.Unlock()
		e.notify()
		return e.runReload(ctx)
	}
	e.pending = true
	for e.completed < ticket {
		done := e.reloadDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
	}
	err := e.reloadErr
	e.mu.Unlock()
	return err
}

// trigger requests a reload without waiting for it.
func (e *Engine) trigger(ctx context.Context) {
	e.mu.Lock()
	e.requested++
	if e.reloading {
		e.pending = true
		e.mu.Unlock()
		return
	}
	e.reloading = true
	e.mu.Unlock()
	e.notify()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.runReload(ctx); err != nil {
			e.logger.Debug("triggered reload failed", "error", err)
		}
	}()
}

// runReload must be entered with e.reloading set. It loops while
// follow-up requests arrive, then clears the flag.
func (e *Engine) runReload(ctx context.Context) error {
	for {
		e.mu.Lock()
		gen := e.generation
		covers := e.requested
		active := e.userID != ""
		e.pending = false
		e.mu.Unlock()

		var tasks []task.Task
		var err error
		if active {
			tasks, err = e.store.ListTasks(ctx)
		}

		e.mu.Lock()
		switch {
		case !active || gen != e.generation:
			e.logger.Debug("discarding reload outside the active session")
			err = nil
		case err != nil:
			e.lastErr = err
			e.notice = ""
			e.logger.Warn("reload failed", "error", err)
		default:
			e.replaceLocked(tasks)
			e.lastErr = nil
			e.logger.Debug("reloaded tasks", "count", len(tasks))
		}
		e.reloadErr = err
		if covers > e.completed {
			e.completed = covers
		}
		close(e.reloadDone)
		e.reloadDone = make(chan struct{})

		if !e.pending {
			e.reloading = false
			e.mu.Unlock()
			e.notify()
			return err
		}
		e.mu.Unlock()
		e.notify()
	}
}

// AddTask creates a task. The collection is not touched; the ensuing
// change notification brings the new row in. The input title is cleared
// on success only.
func (e *Engine) AddTask(ctx context.Context, title string) error {
	trimmed, err := task.NormalizeTitle(title)
	if err != nil {
		e.fail(err)
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	e.clearMessages()

	if _, err := e.store.CreateTask(ctx, trimmed); err != nil {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	e.title = ""
	e.mu.Unlock()
	e.notify()
	return nil
}

// ToggleDone flips the done flag of a task. The collection only reflects
// the new value once the store confirms it through a reload.
func (e *Engine) ToggleDone(ctx context.Context, id string) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	current, ok := e.find(id)
	if !ok {
		err := &task.NotFoundError{ID: id}
		e.fail(err)
		return err
	}
	e.clearMessages()

	if err := e.store.UpdateTask(ctx, id, task.SetDone(!current.IsDone)); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// StartEdit opens the edit draft for a task, replacing any other draft.
func (e *Engine) StartEdit(id string) error {
	current, ok := e.find(id)
	if !ok {
		err := &task.NotFoundError{ID: id}
		e.fail(err)
		return err
	}
	e.mu.Lock()
	e.draft = &Draft{TaskID: current.ID, Title: current.Title}
	e.mu.Unlock()
	e.notify()
	return nil
}

// SetDraftTitle updates the working title of the open draft.
func (e *Engine) SetDraftTitle(title string) {
	e.mu.Lock()
	if e.draft != nil {
		e.draft.Title = title
	}
	e.mu.Unlock()
	e.notify()
}

// CancelEdit discards the draft.
func (e *Engine) CancelEdit() {
	e.mu.Lock()
	e.draft = nil
	e.mu.Unlock()
	e.notify()
}

// SaveEdit renames a task. An empty title is rejected and leaves the draft
// as it was. A store failure keeps the draft with the typed title so that
// nothing is lost; success discards it.
func (e *Engine) SaveEdit(ctx context.Context, id, title string) error {
	trimmed, err := task.NormalizeTitle(title)
	if err != nil {
		e.fail(err)
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	e.clearMessages()

	if err := e.store.UpdateTask(ctx, id, task.SetTitle(trimmed)); err != nil {
		e.mu.Lock()
		if e.draft != nil && e.draft.TaskID == id {
			e.draft.Title = title
		}
		e.mu.Unlock()
		e.fail(err)
		return err
	}

	e.mu.Lock()
	if e.draft != nil && e.draft.TaskID == id {
		e.draft = nil
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// DeleteTask deletes a task. A task that is already gone counts as deleted.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	e.clearMessages()

	if err := e.store.DeleteTask(ctx, id); err != nil && !task.IsNotFound(err) {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	if e.draft != nil && e.draft.TaskID == id {
		e.draft = nil
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// SignUp registers a new identity without signing in.
func (e *Engine) SignUp(ctx context.Context, email, password string) error {
	if e.auth == nil {
		return e.noAuth()
	}
	e.clearMessages()
	if err := e.auth.SignUp(ctx, email, password); err != nil {
		e.fail(err)
		return err
	}
	e.mu.Lock()
	e.notice = "signup done, now login"
	e.mu.Unlock()
	e.notify()
	return nil
}

// SignIn authenticates, publishes the session and loads its tasks.
func (e *Engine) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	if e.auth == nil {
		return session.Session{}, e.noAuth()
	}
	e.clearMessages()
	s, err := e.auth.SignIn(ctx, email, password)
	if err != nil {
		e.fail(err)
		return session.Session{}, err
	}
	e.holder.Set(session.SignedIn, s)
	return s, e.Initialize(ctx, s)
}

// SignOut tears down the subscription, clears every piece of local state
// and then ends the session in the backend.
func (e *Engine) SignOut(ctx context.Context) error {
	e.teardown()

	var err error
	if e.auth != nil {
		err = e.auth.SignOut(ctx)
	}
	e.holder.Clear(session.SignedOut)
	if err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// SetQuery sets the search query.
func (e *Engine) SetQuery(q string) {
	e.mu.Lock()
	e.query = q
	e.mu.Unlock()
	e.notify()
}

// SetFilter sets the completion filter.
func (e *Engine) SetFilter(f task.Filter) {
	e.mu.Lock()
	e.filter = f
	e.mu.Unlock()
	e.notify()
}

// SetTitle sets the working value of the new-task input.
func (e *Engine) SetTitle(title string) {
	e.mu.Lock()
	e.title = title
	e.mu.Unlock()
	e.notify()
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		Session: e.holder.Current(),
		Tasks:   e.tasks,
		Version: e.version,
		Query:   e.query,
		Filter:  e.filter,
		Title:   e.title,
		Notice:  e.notice,
		Loading: e.reloading,
	}
	if e.draft != nil {
		d := *e.draft
		st.Draft = &d
	}
	if e.lastErr != nil {
		st.Err = e.lastErr.Error()
	}
	return st
}

// Project returns the memoized projection of the current state.
func (e *Engine) Project() view.Projection {
	st := e.Snapshot()
	return e.projector.Project(st.Version, st.Tasks, st.Query, st.Filter)
}

// LastError returns the error recorded by the last failed operation.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Changes signals state changes. Signals are coalesced: a receiver that
// falls behind sees one pending signal, not one per change.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

// Close disposes the subscription and waits for background reloads.
func (e *Engine) Close() error {
	e.closeSubscription()
	e.cancel()
	e.stopSession()
	e.wg.Wait()
	return nil
}

func (e *Engine) watchSession(events <-chan session.Event) {
	defer e.wg.Done()
	for ev := range events {
		if ev.Kind == session.Invalidated {
			e.logger.Info("session invalidated, clearing local state")
			e.teardown()
		}
	}
}

func (e *Engine) teardown() {
	e.closeSubscription()

	e.mu.Lock()
	e.generation++
	e.userID = ""
	e.replaceLocked(nil)
	e.query = ""
	e.filter = task.FilterAll
	e.title = ""
	e.draft = nil
	e.lastErr = nil
	e.notice = ""
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) attach(sub service.Subscription) {
	done := make(chan struct{})

	e.mu.Lock()
	e.sub = sub
	e.subDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		for range sub.Events() {
			e.trigger(e.ctx)
		}
		e.streamEnded(sub)
	}()
}

// streamEnded records a subscription that stopped without closeSubscription
// asking for it. Live updates are lost from here on, so the user is told.
func (e *Engine) streamEnded(sub service.Subscription) {
	e.mu.Lock()
	if e.sub != sub {
		e.mu.Unlock()
		return
	}
	e.sub, e.subDone = nil, nil
	err := &task.StoreError{Op: "subscribe", Err: errors.New("change stream closed, live updates stopped")}
	e.lastErr = err
	e.notice = ""
	e.mu.Unlock()

	e.logger.Warn("change stream ended", "error", err)
	if cerr := sub.Close(); cerr != nil {
		e.logger.Debug("closing ended subscription", "error", cerr)
	}
	e.notify()
}

func (e *Engine) closeSubscription() {
	e.mu.Lock()
	sub, done := e.sub, e.subDone
	e.sub, e.subDone = nil, nil
	e.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		e.logger.Debug("closing subscription", "error", err)
	}
	<-done
}

func (e *Engine) replaceLocked(tasks []task.Task) {
	e.tasks = tasks
	e.version++
}

func (e *Engine) find(id string) (task.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return task.Task{}, false
}

func (e *Engine) requireSession() error {
	e.mu.Lock()
	signedIn := e.userID != ""
	e.mu.Unlock()
	if !signedIn {
		e.fail(ErrNotSignedIn)
		return ErrNotSignedIn
	}
	return nil
}

func (e *Engine) noAuth() error {
	err := &task.AuthError{Err: errors.New("backend does not support this operation")}
	e.fail(err)
	return err
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.notice = ""
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) clearMessages() {
	e.mu.Lock()
	e.lastErr = nil
	e.notice = ""
	e.mu.Unlock()
}

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}
