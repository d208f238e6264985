package rest

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"tasksync/internal/session"
	"tasksync/internal/task"
	"tasksync/internal/taskstore"
)

const (
	testEmail    = "ann@example.com"
	testPassword = "secret123"
)

type harness struct {
	store  *taskstore.Store
	server *httptest.Server
	holder *session.Holder
	client *Client

	mu     sync.Mutex
	tokens []*oauth2.Token
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := taskstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{store: taskstore.NewStore(db), holder: session.NewHolder()}
	srv := taskstore.NewServer(h.store, taskstore.Options{Heartbeat: 50 * time.Millisecond})
	h.server = httptest.NewServer(srv.Handler())
	t.Cleanup(h.server.Close)

	h.client = h.newClient(t)
	return h
}

func (h *harness) newClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:    h.server.URL,
		HTTPClient: h.server.Client(),
		Session:    h.holder,
		OnToken: func(tok *oauth2.Token) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.tokens = append(h.tokens, tok)
		},
	})
	require.NoError(t, err)
	return c
}

func (h *harness) signIn(t *testing.T) session.Session {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.client.SignUp(ctx, testEmail, testPassword))
	s, err := h.client.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	h.holder.Set(session.SignedIn, s)
	return s
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestSignUpAndSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := h.signIn(t)
	assert.NotEmpty(t, s.UserID)
	assert.Equal(t, testEmail, s.Email)
	assert.Equal(t, BackendName, s.Backend)
	require.NotNil(t, s.Token)
	assert.NotEmpty(t, s.Token.RefreshToken)
	assert.True(t, s.Token.Expiry.After(time.Now()))

	err := h.client.SignUp(ctx, testEmail, testPassword)
	assert.True(t, task.IsAuth(err), "duplicate signup: %v", err)

	_, err = h.client.SignIn(ctx, testEmail, "wrong-password")
	require.Error(t, err)
	assert.True(t, task.IsAuth(err))
	assert.Contains(t, err.Error(), "invalid login credentials")
}

func TestCallsRequireSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.ListTasks(ctx)
	assert.True(t, task.IsAuth(err))
	_, err = h.client.Subscribe(ctx)
	assert.True(t, task.IsAuth(err))

	err = h.client.Restore(ctx, session.Session{})
	assert.True(t, task.IsAuth(err))
	err = h.client.Restore(ctx, session.Session{UserID: "u", Backend: "google", Token: &oauth2.Token{AccessToken: "x"}})
	assert.True(t, task.IsAuth(err))
}

func TestTaskRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.signIn(t)

	_, err := h.client.CreateTask(ctx, "   ")
	assert.ErrorIs(t, err, task.ErrEmptyTitle)

	milk, err := h.client.CreateTask(ctx, " buy milk ")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", milk.Title)
	assert.Equal(t, s.UserID, milk.UserID)

	time.Sleep(2 * time.Millisecond)
	rent, err := h.client.CreateTask(ctx, "pay rent")
	require.NoError(t, err)

	require.NoError(t, h.client.UpdateTask(ctx, milk.ID, task.SetDone(true)))
	require.NoError(t, h.client.UpdateTask(ctx, rent.ID, task.SetTitle(" pay the rent ")))
	assert.ErrorIs(t, h.client.UpdateTask(ctx, rent.ID, task.SetTitle(" ")), task.ErrEmptyTitle)

	tasks, err := h.client.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, rent.ID, tasks[0].ID)
	assert.Equal(t, "pay the rent", tasks[0].Title)
	assert.True(t, tasks[1].IsDone)

	require.NoError(t, h.client.DeleteTask(ctx, milk.ID))
	err = h.client.DeleteTask(ctx, milk.ID)
	assert.True(t, task.IsNotFound(err))
	err = h.client.UpdateTask(ctx, milk.ID, task.SetDone(false))
	assert.True(t, task.IsNotFound(err))
}

func TestListTasksEmpty(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	tasks, err := h.client.ListTasks(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestSubscribeDeliversChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t)

	sub, err := h.client.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	_, err = h.client.CreateTask(ctx, "buy milk")
	require.NoError(t, err)

	select {
	case c, ok := <-sub.Events():
		require.True(t, ok)
		assert.Equal(t, task.ChangeInsert, c.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestSignOutClosesSubscriptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t)

	sub, err := h.client.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.client.subs.Len())

	require.NoError(t, h.client.SignOut(ctx))
	assert.Equal(t, 0, h.client.subs.Len())

	for range sub.Events() {
	}
	require.NoError(t, sub.Close())

	_, err = h.client.ListTasks(ctx)
	assert.True(t, task.IsAuth(err))

	// Signing out twice is harmless.
	require.NoError(t, h.client.SignOut(ctx))
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.signIn(t)

	stale := *s.Token
	stale.Expiry = time.Now().Add(-time.Minute)
	s.Token = &stale

	restored := h.newClient(t)
	require.NoError(t, restored.Restore(ctx, s))

	_, err := restored.ListTasks(ctx)
	require.NoError(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.tokens, 1)
	assert.NotEqual(t, stale.AccessToken, h.tokens[0].AccessToken)
	assert.NotEqual(t, stale.RefreshToken, h.tokens[0].RefreshToken)
}

func TestRevokedTokenInvalidatesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.signIn(t)

	events, stop := h.holder.Subscribe()
	defer stop()

	require.NoError(t, h.store.Revoke(ctx, s.Token.AccessToken))

	_, err := h.client.ListTasks(ctx)
	require.Error(t, err)
	assert.True(t, task.IsAuth(err))
	assert.False(t, h.holder.Current().Present())

	select {
	case ev := <-events:
		assert.Equal(t, session.Invalidated, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("no invalidation event")
	}
}

func TestReadEvents(t *testing.T) {
	body := strings.Join([]string{
		": connected",
		"",
		"event:change",
		`data:{"type":"INSERT"}`,
		"",
		": heartbeat",
		"",
		"event: other",
		`data: {"type":"DELETE"}`,
		"",
		"event: change",
		`data: {"type":"UPDATE"}`,
		"",
		`data: {"type":"DELETE"}`,
		"",
		"",
	}, "\n")

	out := make(chan task.Change, 8)
	err := readEvents(context.Background(), strings.NewReader(body), out)
	require.Error(t, err)
	close(out)

	var kinds []task.ChangeKind
	for c := range out {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []task.ChangeKind{task.ChangeInsert, task.ChangeUpdate, task.ChangeDelete}, kinds)
}

func TestReadEventsDropsUnterminatedFrame(t *testing.T) {
	body := "event: change\ndata: {\"type\":\"INSERT\"}\n\nevent: change\ndata: {\"type\":\"DELETE\"}\n"

	out := make(chan task.Change, 8)
	err := readEvents(context.Background(), strings.NewReader(body), out)
	require.Error(t, err)
	close(out)

	var kinds []task.ChangeKind
	for c := range out {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []task.ChangeKind{task.ChangeInsert}, kinds)
}

func TestReadEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan task.Change)
	err := readEvents(ctx, strings.NewReader("data: {\"type\":\"INSERT\"}\n\n"), out)
	assert.True(t, errors.Is(err, context.Canceled))
}
