// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/task"
)

// DefaultUserID is the identity returned by SignIn on the fake.
const DefaultUserID = "user-1"

// ErrBackend is a generic injected backend failure.
var ErrBackend = errors.New("backend unavailable")

// FakeService is an in-memory implementation of service.Backend for testing.
// Mutations emit a change notification to every open subscription, the way
// the real store does.
type FakeService struct {
	mu       sync.Mutex
	tasks    []task.Task
	nextID   int
	clock    time.Time
	users    map[string]string // email -> password
	signedIn string
	subs     map[*FakeSubscription]struct{}

	// Error injection for testing
	ListTasksErr  error
	CreateTaskErr error
	UpdateTaskErr error
	DeleteTaskErr error
	SubscribeErr  error
	SignInErr     error
	SignUpErr     error
	SignOutErr    error

	// ListHook, when set, runs at the start of every ListTasks call.
	// Tests use it to block a reload in flight.
	ListHook func(ctx context.Context)

	// Call counters
	ListCalls   int
	CreateCalls int
	UpdateCalls int
	DeleteCalls int
	SignOuts    int
	Restores    int
}

// NewFakeService creates an empty FakeService signed in as DefaultUserID.
func NewFakeService() *FakeService {
	return &FakeService{
		clock:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		users:    make(map[string]string),
		signedIn: DefaultUserID,
		subs:     make(map[*FakeSubscription]struct{}),
	}
}

// Session returns the session matching the fake's signed-in user.
func (f *FakeService) Session() session.Session {
	return session.Session{UserID: DefaultUserID, Email: "me@example.com", Backend: "fake"}
}

// AddTask seeds a task. Later seeds are newer.
func (f *FakeService) AddTask(id, title string, done bool) task.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(id, title, done)
}

// SetListHook installs a hook that runs at the start of every ListTasks call.
func (f *FakeService) SetListHook(hook func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListHook = hook
}

// SetListErr sets the error returned by ListTasks.
func (f *FakeService) SetListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListTasksErr = err
}

// Tasks returns the stored rows, newest first.
func (f *FakeService) Tasks() []task.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked()
}

// Emit sends a change notification to every open subscription.
func (f *FakeService) Emit(kind task.ChangeKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLocked(kind)
}

// Subscriptions returns the number of open subscriptions.
func (f *FakeService) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Calls returns the number of ListTasks calls so far.
func (f *FakeService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ListCalls
}

// ListTasks implements service.Store.
func (f *FakeService) ListTasks(ctx context.Context) ([]task.Task, error) {
	f.mu.Lock()
	f.ListCalls++
	hook := f.ListHook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListTasksErr != nil {
		return nil, f.ListTasksErr
	}
	if f.signedIn == "" {
		return nil, &task.AuthError{Op: "list tasks", Err: errors.New("not signed in")}
	}
	var result []task.Task
	for _, t := range f.sortedLocked() {
		if t.UserID == f.signedIn {
			result = append(result, t)
		}
	}
	return result, nil
}

// CreateTask implements service.Store.
func (f *FakeService) CreateTask(ctx context.Context, title string) (task.Task, error) {
	trimmed, err := task.NormalizeTitle(title)
	if err != nil {
		return task.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.CreateTaskErr != nil {
		return task.Task{}, f.CreateTaskErr
	}
	t := f.insertLocked(f.newIDLocked(), trimmed, false)
	f.emitLocked(task.ChangeInsert)
	return t, nil
}

// UpdateTask implements service.Store.
func (f *FakeService) UpdateTask(ctx context.Context, id string, patch task.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if f.UpdateTaskErr != nil {
		return f.UpdateTaskErr
	}
	for i, t := range f.tasks {
		if t.ID != id {
			continue
		}
		if patch.Title != nil {
			f.tasks[i].Title = *patch.Title
		}
		if patch.IsDone != nil {
			f.tasks[i].IsDone = *patch.IsDone
		}
		f.emitLocked(task.ChangeUpdate)
		return nil
	}
	return &task.NotFoundError{ID: id}
}

// DeleteTask implements service.Store.
func (f *FakeService) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteTaskErr != nil {
		return f.DeleteTaskErr
	}
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			f.emitLocked(task.ChangeDelete)
			return nil
		}
	}
	return &task.NotFoundError{ID: id}
}

// Subscribe implements service.Store. Like the real adapters, the stream
// ends when ctx does.
func (f *FakeService) Subscribe(ctx context.Context) (service.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	sub := &FakeSubscription{owner: f, events: make(chan task.Change, 16), stopped: make(chan struct{})}
	f.subs[sub] = struct{}{}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.stopped:
		}
	}()
	return sub, nil
}

// DropSubscriptions ends every open stream from the store side, the way a
// server restart or a broken connection does.
func (f *FakeService) DropSubscriptions() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*FakeSubscription]struct{})
	f.mu.Unlock()

	for sub := range subs {
		sub.closeEvents()
	}
}

// SignUp implements service.Authenticator.
func (f *FakeService) SignUp(ctx context.Context, email, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignUpErr != nil {
		return f.SignUpErr
	}
	if _, ok := f.users[strings.ToLower(email)]; ok {
		return &task.AuthError{Op: "sign up", Err: errors.New("user already registered")}
	}
	f.users[strings.ToLower(email)] = password
	return nil
}

// SignIn implements service.Authenticator.
func (f *FakeService) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignInErr != nil {
		return session.Session{}, f.SignInErr
	}
	if pw, ok := f.users[strings.ToLower(email)]; ok && pw != password {
		return session.Session{}, &task.AuthError{Op: "sign in", Err: errors.New("invalid login credentials")}
	}
	f.signedIn = DefaultUserID
	return session.Session{UserID: DefaultUserID, Email: email, Backend: "fake"}, nil
}

// SignOut implements service.Authenticator. Open subscriptions are closed
// before it returns.
func (f *FakeService) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.SignOuts++
	err := f.SignOutErr
	subs := f.subs
	f.subs = make(map[*FakeSubscription]struct{})
	f.signedIn = ""
	f.mu.Unlock()

	for sub := range subs {
		sub.closeEvents()
	}
	return err
}

// Restore implements service.Authenticator.
func (f *FakeService) Restore(ctx context.Context, s session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Restores++
	f.signedIn = s.UserID
	return nil
}

func (f *FakeService) insertLocked(id, title string, done bool) task.Task {
	f.clock = f.clock.Add(time.Minute)
	t := task.Task{ID: id, Title: title, IsDone: done, UserID: DefaultUserID, CreatedAt: f.clock}
	f.tasks = append(f.tasks, t)
	return t
}

// newIDLocked mints an id no stored row uses, seeded rows included.
func (f *FakeService) newIDLocked() string {
	for {
		f.nextID++
		id := fmt.Sprintf("t%d", f.nextID)
		taken := false
		for _, t := range f.tasks {
			if t.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

func (f *FakeService) sortedLocked() []task.Task {
	result := make([]task.Task, len(f.tasks))
	copy(result, f.tasks)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (f *FakeService) emitLocked(kind task.ChangeKind) {
	for sub := range f.subs {
		select {
		case sub.events <- task.Change{Kind: kind}:
		default:
		}
	}
}

// FakeSubscription is the subscription handle returned by FakeService.
type FakeSubscription struct {
	owner   *FakeService
	events  chan task.Change
	stopped chan struct{}
	once    sync.Once
}

// Events implements service.Subscription.
func (s *FakeSubscription) Events() <-chan task.Change { return s.events }

// Close implements service.Subscription.
func (s *FakeSubscription) Close() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	s.closeEvents()
	return nil
}

func (s *FakeSubscription) closeEvents() {
	s.once.Do(func() {
		close(s.events)
		close(s.stopped)
	})
}
