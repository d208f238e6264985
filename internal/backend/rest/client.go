// Package rest implements the service.Backend interface against the
// tasksync store server (taskstored) over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/task"
)

const (
	// BackendName identifies sessions issued by this backend.
	BackendName = "rest"

	// DefaultClientID is sent with every token request.
	DefaultClientID = "tasksync-cli"

	// APITimeout is the timeout for API calls.
	APITimeout = 5 * time.Second

	tasksPath   = "/rest/v1/tasks"
	streamPath  = "/realtime/v1/tasks"
	tokenPath   = "/auth/v1/token"
	signupPath  = "/auth/v1/signup"
	logoutPath  = "/auth/v1/logout"
	maxBodySize = 1 << 20
)

// errNoSession is wrapped in an AuthError when a call needs credentials.
var errNoSession = errors.New("not signed in (run: tasksync login)")

// Options configures a Client.
type Options struct {
	// BaseURL is the store server root, e.g. http://localhost:8787.
	BaseURL  string
	ClientID string
	Timeout  time.Duration

	// HTTPClient is the transport used for every call, including token
	// requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Session, when set, is cleared with session.Invalidated as soon as the
	// server rejects the credentials.
	Session *session.Holder

	// OnToken is called with every token obtained through a refresh.
	OnToken func(*oauth2.Token)

	Logger *slog.Logger
}

// Client implements service.Backend against the store server.
type Client struct {
	base    *url.URL
	opts    Options
	oauth   *oauth2.Config
	baseCtx context.Context
	logger  *slog.Logger

	mu      sync.Mutex
	current session.Session
	authed  *http.Client

	subs service.SubscriptionSet
}

var _ service.Backend = (*Client)(nil)

// New creates a client. No network call is made.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid store url: %q", opts.BaseURL)
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = APITimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base: base,
		opts: opts,
		oauth: &oauth2.Config{
			ClientID: opts.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base.String() + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		// Token refreshes run long after the call that armed them.
		baseCtx: context.WithValue(context.Background(), oauth2.HTTPClient, opts.HTTPClient),
		logger:  logger,
	}, nil
}

// SignUp registers a new identity on the store server.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(signupPath), bytes.NewReader(body))
	if err != nil {
		return &task.AuthError{Op: "sign up", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return &task.AuthError{Op: "sign up", Err: wrapTransport(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return &task.AuthError{Op: "sign up", Err: errors.New(readError(resp))}
	}
	return nil
}

// SignIn exchanges email and password for a token with the OAuth2
// password grant.
func (c *Client) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	tok, err := c.oauth.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient), email, password)
	if err != nil {
		return session.Session{}, &task.AuthError{Op: "sign in", Err: tokenError(err)}
	}

	userID, _ := tok.Extra("user_id").(string)
	if userID == "" {
		return session.Session{}, &task.AuthError{Op: "sign in", Err: errors.New("token response carries no user id")}
	}
	tokenEmail, _ := tok.Extra("email").(string)
	if tokenEmail == "" {
		tokenEmail = email
	}

	s := session.Session{
		UserID:  userID,
		Email:   tokenEmail,
		Backend: BackendName,
		Token:   session.StripToken(tok),
	}
	c.arm(s)
	return s, nil
}

// Restore arms the client with a persisted session. The token is refreshed
// on first use if it has expired.
func (c *Client) Restore(ctx context.Context, s session.Session) error {
	if !s.Present() || s.Token == nil {
		return &task.AuthError{Op: "restore", Err: errNoSession}
	}
	if s.Backend != "" && s.Backend != BackendName {
		return &task.AuthError{Op: "restore", Err: fmt.Errorf("session belongs to the %s backend", s.Backend)}
	}
	c.arm(s)
	return nil
}

// SignOut closes every subscription, then revokes the token on the server.
// Local credentials are dropped even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.subs.CloseAll()

	c.mu.Lock()
	authed := c.authed
	c.authed = nil
	c.current = session.Session{}
	c.mu.Unlock()

	if authed == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(logoutPath), nil)
	if err != nil {
		return &task.AuthError{Op: "sign out", Err: err}
	}
	resp, err := authed.Do(req)
	if err != nil {
		return &task.AuthError{Op: "sign out", Err: wrapTransport(err)}
	}
	defer resp.Body.Close()

	// A token the server no longer knows is already signed out.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusUnauthorized {
		return &task.AuthError{Op: "sign out", Err: errors.New(readError(resp))}
	}
	return nil
}

// ListTasks returns the caller's tasks, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]task.Task, error) {
	var tasks []task.Task
	if err := c.call(ctx, "list tasks", http.MethodGet, tasksPath, nil, http.StatusOK, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return tasks, nil
}

// CreateTask inserts a task owned by the signed-in identity.
func (c *Client) CreateTask(ctx context.Context, title string) (task.Task, error) {
	trimmed, err := task.NormalizeTitle(title)
	if err != nil {
		return task.Task{}, err
	}

	var created task.Task
	err = c.call(ctx, "create task", http.MethodPost, tasksPath, map[string]string{"title": trimmed}, http.StatusCreated, &created)
	if err != nil {
		return task.Task{}, err
	}
	return created, nil
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, patch task.Patch) error {
	if patch.Title != nil {
		trimmed, err := task.NormalizeTitle(*patch.Title)
		if err != nil {
			return err
		}
		patch.Title = &trimmed
	}
	return c.callID(ctx, "update task", http.MethodPatch, id, patch)
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.callID(ctx, "delete task", http.MethodDelete, id, nil)
}

func (c *Client) callID(ctx context.Context, op, method, id string, body any) error {
	err := c.call(ctx, op, method, tasksPath+"/"+url.PathEscape(id), body, http.StatusNoContent, nil)
	var sErr *statusError
	if errors.As(err, &sErr) && sErr.code == http.StatusNotFound {
		return &task.NotFoundError{ID: id}
	}
	return err
}

// call performs an authorized JSON request and maps the outcome onto the
// task error taxonomy.
func (c *Client) call(ctx context.Context, op, method, path string, body any, want int, out any) error {
	authed, err := c.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &task.StoreError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return &task.StoreError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := authed.Do(req)
	if err != nil {
		return c.wrapError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.statusFailure(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return &task.StoreError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) statusFailure(op string, resp *http.Response) error {
	msg := readError(resp)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.invalidate()
		return &task.AuthError{Op: op, Err: errors.New("session expired or revoked (run: tasksync login)")}
	case http.StatusBadRequest:
		return &task.ValidationError{Field: "request", Msg: msg}
	default:
		return &task.StoreError{Op: op, Err: &statusError{code: resp.StatusCode, msg: msg}}
	}
}

// wrapError maps transport failures. A failed token refresh means the
// session is gone for good.
func (c *Client) wrapError(op string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		c.invalidate()
		return &task.AuthError{Op: op, Err: tokenError(rErr)}
	}
	return &task.StoreError{Op: op, Err: wrapTransport(err)}
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.authed = nil
	c.current = session.Session{}
	c.mu.Unlock()

	if c.opts.Session != nil {
		c.logger.Info("store rejected credentials, invalidating session")
		c.opts.Session.Clear(session.Invalidated)
	}
}

func (c *Client) arm(s session.Session) {
	src := session.NotifyingSource(c.oauth.TokenSource(c.baseCtx, s.Token), s.Token, c.opts.OnToken)

	c.mu.Lock()
	c.current = s
	c.authed = oauth2.NewClient(c.baseCtx, src)
	c.mu.Unlock()
}

func (c *Client) client() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authed == nil {
		return nil, &task.AuthError{Err: errNoSession}
	}
	return c.authed, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.msg, e.code)
}

func readError(resp *http.Response) string {
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if json.Unmarshal(data, &body) == nil {
		if body.Description != "" {
			return body.Description
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return http.StatusText(resp.StatusCode)
}

func tokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.ErrorDescription != "" {
			return errors.New(rErr.ErrorDescription)
		}
		if rErr.ErrorCode != "" {
			return errors.New(rErr.ErrorCode)
		}
	}
	return wrapTransport(err)
}

func wrapTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("request timed out")
	}
	return err
}
