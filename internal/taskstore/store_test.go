package taskstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db)
	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func createUser(t *testing.T, s *Store, email string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "secret123")
	require.NoError(t, err)
	return u
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestCreateUserValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "no-at-sign", "secret123")
	assert.True(t, task.IsValidation(err))

	_, err = s.CreateUser(ctx, "a@b.c", "short")
	assert.True(t, task.IsValidation(err))

	_, err = s.CreateUser(ctx, "a@b.c", "secret123")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, " A@B.C ", "secret123")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthenticateAndTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "ann@example.com")

	_, err := s.Authenticate(ctx, "ann@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	g, err := s.Authenticate(ctx, "ANN@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, g.User.ID)
	assert.NotEmpty(t, g.AccessToken)
	assert.NotEqual(t, g.AccessToken, g.RefreshToken)

	userID, err := s.UserForToken(ctx, g.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	refreshed, err := s.Refresh(ctx, g.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, refreshed.User.ID)

	// Rotation revokes the old pair.
	_, err = s.UserForToken(ctx, g.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.Refresh(ctx, g.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, s.Revoke(ctx, refreshed.AccessToken))
	_, err = s.UserForToken(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAccessTokenExpires(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createUser(t, s, "ann@example.com")

	g, err := s.Authenticate(ctx, "ann@example.com", "secret123")
	require.NoError(t, err)

	s.Now = func() time.Time { return g.ExpiresAt.Add(time.Second) }
	_, err = s.UserForToken(ctx, g.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTaskCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "ann@example.com")

	_, err := s.CreateTask(ctx, u.ID, "   ")
	assert.ErrorIs(t, err, task.ErrEmptyTitle)

	first, err := s.CreateTask(ctx, u.ID, "  buy milk ")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", first.Title)
	assert.False(t, first.IsDone)

	second, err := s.CreateTask(ctx, u.ID, "pay rent")
	require.NoError(t, err)

	tasks, err := s.ListTasks(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.ID, tasks[0].ID, "newest first")
	assert.Equal(t, first.ID, tasks[1].ID)
	assert.Equal(t, first.CreatedAt, tasks[1].CreatedAt)

	require.NoError(t, s.UpdateTask(ctx, u.ID, first.ID, task.SetDone(true)))
	require.NoError(t, s.UpdateTask(ctx, u.ID, first.ID, task.SetTitle(" oat milk ")))

	err = s.UpdateTask(ctx, u.ID, first.ID, task.SetTitle(" "))
	assert.True(t, task.IsValidation(err))
	err = s.UpdateTask(ctx, u.ID, first.ID, task.Patch{})
	assert.True(t, task.IsValidation(err))

	tasks, err = s.ListTasks(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "oat milk", tasks[1].Title)
	assert.True(t, tasks[1].IsDone)

	require.NoError(t, s.DeleteTask(ctx, u.ID, first.ID))
	assert.ErrorIs(t, s.DeleteTask(ctx, u.ID, first.ID), ErrNotFound)
	assert.ErrorIs(t, s.UpdateTask(ctx, u.ID, first.ID, task.SetDone(false)), ErrNotFound)
}

func TestTasksAreScopedToOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ann := createUser(t, s, "ann@example.com")
	bob := createUser(t, s, "bob@example.com")

	annTask, err := s.CreateTask(ctx, ann.ID, "ann's task")
	require.NoError(t, err)

	tasks, err := s.ListTasks(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NotNil(t, tasks)

	err = s.UpdateTask(ctx, bob.ID, annTask.ID, task.SetDone(true))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, s.DeleteTask(ctx, bob.ID, annTask.ID), ErrNotFound)
}
