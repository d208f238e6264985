package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tasksync/internal/task"
)

// AccessTTL is the lifetime of an access token.
const AccessTTL = time.Hour

const minPasswordLen = 6

var (
	// ErrNotFound is returned when a row does not exist for the caller.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned by CreateUser for a registered email.
	ErrEmailTaken = errors.New("user already registered")

	// ErrInvalidCredentials is returned for a wrong email/password pair.
	ErrInvalidCredentials = errors.New("invalid login credentials")

	// ErrInvalidToken is returned for unknown, revoked or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// User is a registered identity.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Grant is an issued pair of tokens.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// Store runs every query of the task store. Task queries always take the
// caller's user id, so one identity can never observe another's rows.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

// CreateUser registers an identity with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return User{}, &task.ValidationError{Field: "email", Msg: "invalid email"}
	}
	if len(password) < minPasswordLen {
		return User{}, &task.ValidationError{Field: "password", Msg: fmt.Sprintf("password should be at least %d characters", minPasswordLen)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{ID: uuid.NewString(), Email: email, CreatedAt: s.Now().UTC()}
	_, err = s.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Email, string(hash), user.CreatedAt.UnixMicro())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// Authenticate checks a password and issues a fresh grant.
func (s *Store) Authenticate(ctx context.Context, email, password string) (Grant, error) {
	var user User
	var hash string
	var created int64
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		normalizeEmail(email)).Scan(&user.ID, &user.Email, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrInvalidCredentials
	}
	if err != nil {
		return Grant{}, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Grant{}, ErrInvalidCredentials
	}
	user.CreatedAt = time.UnixMicro(created).UTC()
	return s.issue(ctx, user)
}

// Refresh exchanges a refresh token for a new grant. The old pair is revoked.
func (s *Store) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	var user User
	err := s.DB.QueryRowContext(ctx, `
		SELECT u.id, u.email FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.refresh_token = ?`, refreshToken).Scan(&user.ID, &user.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrInvalidToken
	}
	if err != nil {
		return Grant{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM sessions WHERE refresh_token = ?", refreshToken); err != nil {
		return Grant{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	return s.issue(ctx, user)
}

// UserForToken resolves an access token to its user id.
func (s *Store) UserForToken(ctx context.Context, accessToken string) (string, error) {
	var userID string
	var expires int64
	err := s.DB.QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM sessions WHERE access_token = ?",
		accessToken).Scan(&userID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup access token: %w", err)
	}
	if s.Now().UnixMicro() >= expires {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Revoke deletes the session behind an access token.
func (s *Store) Revoke(ctx context.Context, accessToken string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM sessions WHERE access_token = ?", accessToken)
	return err
}

// ListTasks returns the caller's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]task.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, title, is_done, user_id, created_at FROM tasks
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]task.Task, 0)
	for rows.Next() {
		var t task.Task
		var created int64
		if err := rows.Scan(&t.ID, &t.Title, &t.IsDone, &t.UserID, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = time.UnixMicro(created).UTC()
		result = append(result, t)
	}
	return result, rows.Err()
}

// CreateTask inserts a task owned by userID.
func (s *Store) CreateTask(ctx context.Context, userID, title string) (task.Task, error) {
	trimmed, err := task.NormalizeTitle(title)
	if err != nil {
		return task.Task{}, err
	}
	t := task.Task{
		ID:        uuid.NewString(),
		Title:     trimmed,
		UserID:    userID,
		CreatedAt: s.Now().UTC().Truncate(time.Microsecond),
	}
	_, err = s.DB.ExecContext(ctx,
		"INSERT INTO tasks (id, title, is_done, user_id, created_at) VALUES (?, ?, 0, ?, ?)",
		t.ID, t.Title, t.UserID, t.CreatedAt.UnixMicro())
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// UpdateTask applies a patch to one of the caller's tasks.
func (s *Store) UpdateTask(ctx context.Context, userID, id string, patch task.Patch) error {
	if patch.Empty() {
		return &task.ValidationError{Field: "patch", Msg: "nothing to update"}
	}

	var sets []string
	var args []any
	if patch.Title != nil {
		trimmed, err := task.NormalizeTitle(*patch.Title)
		if err != nil {
			return err
		}
		sets = append(sets, "title = ?")
		args = append(args, trimmed)
	}
	if patch.IsDone != nil {
		sets = append(sets, "is_done = ?")
		args = append(args, *patch.IsDone)
	}
	args = append(args, id, userID)

	res, err := s.DB.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteTask deletes one of the caller's tasks.
func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM tasks WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) issue(ctx context.Context, user User) (Grant, error) {
	g := Grant{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    s.Now().Add(AccessTTL),
		User:         user,
	}
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO sessions (access_token, refresh_token, user_id, expires_at) VALUES (?, ?, ?, ?)",
		g.AccessToken, g.RefreshToken, user.ID, g.ExpiresAt.UnixMicro())
	if err != nil {
		return Grant{}, fmt.Errorf("insert session: %w", err)
	}
	return g, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
