// Package googletasks implements the service.Backend interface using the
// Google Tasks API. Every call targets the account's default task list.
package googletasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"tasksync/internal/config"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/task"
)

const (
	// BackendName identifies sessions issued by this backend.
	BackendName = "google"

	// DefaultListID is the special ID for the default list.
	DefaultListID = "@default"

	// PageSize is the number of tasks per page.
	PageSize = 100

	// APITimeout is the timeout for API calls.
	APITimeout = 5 * time.Second

	// DefaultPollInterval is the change detection interval.
	DefaultPollInterval = 15 * time.Second

	statusCompleted   = "completed"
	statusNeedsAction = "needsAction"

	// OAuth scope for Google Tasks
	tasksScope = "https://www.googleapis.com/auth/tasks"
)

var errUnsupported = errors.New("not supported by the google backend (run: tasksync login --backend google)")

// Options tunes a Client.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration

	// Session, when set, is cleared with session.Invalidated when Google
	// rejects the credentials.
	Session *session.Holder

	// OnToken is called with every token obtained through a refresh.
	OnToken func(*oauth2.Token)

	Logger *slog.Logger
}

// Client implements service.Backend using Google Tasks API.
type Client struct {
	oauth  *oauth2.Config
	opts   Options
	logger *slog.Logger

	// newService builds the API service for an armed token source.
	newService func(ctx context.Context, ts oauth2.TokenSource) (*tasks.Service, error)

	mu     sync.Mutex
	svc    *tasks.Service
	userID string

	subs service.SubscriptionSet
}

var _ service.Backend = (*Client)(nil)

// New creates a Google Tasks client from the OAuth client credentials in
// the config directory. The client is not signed in until Restore or Login.
func New(cfg *config.Config, opts Options) (*Client, error) {
	clientJSON, err := os.ReadFile(cfg.OAuthClientPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth_client.json: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(clientJSON, tasksScope)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth_client.json: %w", err)
	}

	c := newClient(opts)
	c.oauth = oauthConfig
	c.newService = func(ctx context.Context, ts oauth2.TokenSource) (*tasks.Service, error) {
		return tasks.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	}
	return c, nil
}

// NewWithHTTPClient creates a signed-in client over a custom HTTP client (for testing).
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, userID string, opts Options, extra ...option.ClientOption) (*Client, error) {
	svc, err := tasks.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(httpClient)}, extra...)...)
	if err != nil {
		return nil, err
	}
	c := newClient(opts)
	c.svc = svc
	c.userID = userID
	return c, nil
}

func newClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = APITimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, logger: logger}
}

// SignUp is not supported: Google accounts are created elsewhere.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	return &task.AuthError{Op: "sign up", Err: errUnsupported}
}

// SignIn is not supported: Google sign-in goes through Login.
func (c *Client) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	return session.Session{}, &task.AuthError{Op: "sign in", Err: errUnsupported}
}

// Restore arms the client with a persisted token.
func (c *Client) Restore(ctx context.Context, s session.Session) error {
	if !s.Present() || s.Token == nil {
		return &task.AuthError{Op: "restore", Err: errors.New("not signed in (run: tasksync login --backend google)")}
	}
	if s.Backend != BackendName {
		return &task.AuthError{Op: "restore", Err: fmt.Errorf("session belongs to the %s backend", s.Backend)}
	}
	if c.oauth == nil {
		return &task.AuthError{Op: "restore", Err: errors.New("no oauth client configured")}
	}

	svc, err := c.arm(s.Token)
	if err != nil {
		return &task.AuthError{Op: "restore", Err: err}
	}

	c.mu.Lock()
	c.svc = svc
	c.userID = s.UserID
	c.mu.Unlock()
	return nil
}

// SignOut closes every subscription and forgets the token.
func (c *Client) SignOut(ctx context.Context) error {
	c.subs.CloseAll()

	c.mu.Lock()
	c.svc = nil
	c.userID = ""
	c.mu.Unlock()
	return nil
}

// ListTasks returns every task of the default list, completed and hidden
// ones included, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]task.Task, error) {
	svc, userID, err := c.service()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	result := make([]task.Task, 0)
	err = svc.Tasks.List(DefaultListID).
		MaxResults(PageSize).
		ShowCompleted(true).
		ShowDeleted(false).
		ShowHidden(true).
		Pages(ctx, func(resp *tasks.Tasks) error {
			for _, t := range resp.Items {
				result = append(result, toTask(t, userID))
			}
			return nil
		})
	if err != nil {
		return nil, c.wrapError("list tasks", "", err)
	}
	// Manual reordering in the Google UI changes API order; keep the
	// collection newest first.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CreateTask creates a task at the top of the default list.
func (c *Client) CreateTask(ctx context.Context, title string) (task.Task, error) {
	trimmed, err := task.NormalizeTitle(title)
	if err != nil {
		return task.Task{}, err
	}
	svc, userID, err := c.service()
	if err != nil {
		return task.Task{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	created, err := svc.Tasks.Insert(DefaultListID, &tasks.Task{Title: trimmed}).Context(ctx).Do()
	if err != nil {
		return task.Task{}, c.wrapError("create task", "", err)
	}
	return toTask(created, userID), nil
}

// UpdateTask renames a task or changes its completion status.
func (c *Client) UpdateTask(ctx context.Context, id string, patch task.Patch) error {
	body := &tasks.Task{}
	if patch.Title != nil {
		trimmed, err := task.NormalizeTitle(*patch.Title)
		if err != nil {
			return err
		}
		body.Title = trimmed
	}
	if patch.IsDone != nil {
		if *patch.IsDone {
			body.Status = statusCompleted
		} else {
			body.Status = statusNeedsAction
			body.NullFields = []string{"Completed"}
		}
	}

	svc, _, err := c.service()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if _, err := svc.Tasks.Patch(DefaultListID, id, body).Context(ctx).Do(); err != nil {
		return c.wrapError("update task", id, err)
	}
	return nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	svc, _, err := c.service()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := svc.Tasks.Delete(DefaultListID, id).Context(ctx).Do(); err != nil {
		return c.wrapError("delete task", id, err)
	}
	return nil
}

// defaultListID returns the real id of the account's default list, which
// serves as the session identity.
func (c *Client) defaultListID(ctx context.Context, svc *tasks.Service) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	list, err := svc.Tasklists.Get(DefaultListID).Context(ctx).Do()
	if err != nil {
		return "", c.wrapError("get default list", "", err)
	}
	return list.Id, nil
}

func (c *Client) arm(tok *oauth2.Token) (*tasks.Service, error) {
	// The token source outlives the call that armed it.
	ctx := context.Background()
	ts := session.NotifyingSource(c.oauth.TokenSource(ctx, tok), tok, c.opts.OnToken)
	return c.newService(ctx, ts)
}

func (c *Client) service() (*tasks.Service, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc == nil {
		return nil, "", &task.AuthError{Err: errors.New("not signed in (run: tasksync login --backend google)")}
	}
	return c.svc, c.userID, nil
}

func toTask(t *tasks.Task, userID string) task.Task {
	// Google Tasks exposes no creation time; updated is the closest stamp.
	created, _ := time.Parse(time.RFC3339, t.Updated)
	return task.Task{
		ID:        t.Id,
		Title:     t.Title,
		IsDone:    t.Status == statusCompleted,
		UserID:    userID,
		CreatedAt: created,
	}
}

// wrapError maps API errors onto the task error taxonomy.
func (c *Client) wrapError(op, id string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context deadline exceeded") {
		return &task.StoreError{Op: op, Err: errors.New("request timed out")}
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		c.invalidate()
		return &task.AuthError{Op: op, Err: errors.New("token expired or revoked (run: tasksync login --backend google)")}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			c.invalidate()
			return &task.AuthError{Op: op, Err: errors.New("token expired or revoked (run: tasksync login --backend google)")}
		case http.StatusNotFound:
			if id != "" {
				return &task.NotFoundError{ID: id}
			}
		case http.StatusBadRequest:
			return &task.ValidationError{Field: "request", Msg: apiErr.Message}
		}
	}

	return &task.StoreError{Op: op, Err: err}
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.svc = nil
	c.userID = ""
	c.mu.Unlock()

	if c.opts.Session != nil {
		c.logger.Info("google rejected credentials, invalidating session")
		c.opts.Session.Clear(session.Invalidated)
	}
}
