package taskstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tasksync/internal/task"
)

// DefaultHeartbeat is the interval between keep-alive comments on a change stream.
const DefaultHeartbeat = 25 * time.Second

const (
	ctxUserID = "taskstore.user_id"
	ctxToken  = "taskstore.token"
)

// Server is the store's HTTP API.
type Server struct {
	store     *Store
	hub       *Hub
	metrics   *Metrics
	logger    *slog.Logger
	router    *gin.Engine
	heartbeat time.Duration
}

// Options configures a Server. Zero values pick defaults.
type Options struct {
	Metrics   *Metrics
	Logger    *slog.Logger
	Heartbeat time.Duration
}

// NewServer wires the routes onto a new gin engine.
func NewServer(store *Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}

	router := gin.New()
	s := &Server{
		store:     store,
		hub:       NewHub(opts.Metrics),
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		router:    router,
		heartbeat: opts.Heartbeat,
	}

	router.Use(gin.Recovery(), s.metrics.middleware(), s.logRequests())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	auth := router.Group("/auth/v1")
	{
		auth.POST("/signup", s.handleSignUp)
		auth.POST("/token", s.handleToken)
		auth.POST("/logout", s.requireBearer(), s.handleLogout)
	}

	rest := router.Group("/rest/v1", s.requireBearer())
	{
		rest.GET("/tasks", s.handleListTasks)
		rest.POST("/tasks", s.handleCreateTask)
		rest.PATCH("/tasks/:id", s.handleUpdateTask)
		rest.DELETE("/tasks/:id", s.handleDeleteTask)
	}

	router.GET("/realtime/v1/tasks", s.requireBearer(), s.handleStream)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the change-notification hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abortError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.store.UserForToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				abortError(c, http.StatusUnauthorized, err.Error())
				return
			}
			s.internalError(c, "resolve token", err)
			return
		}
		c.Set(ctxUserID, userID)
		c.Set(ctxToken, token)
		c.Next()
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.CreateUser(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		var verr *task.ValidationError
		switch {
		case errors.As(err, &verr):
			abortError(c, http.StatusBadRequest, verr.Msg)
		case errors.Is(err, ErrEmailTaken):
			abortError(c, http.StatusUnprocessableEntity, err.Error())
		default:
			s.internalError(c, "sign up", err)
		}
		return
	}

	s.logger.Info("user registered", "user_id", user.ID)
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "email": user.Email})
}

// handleToken implements the OAuth2 token endpoint for the password and
// refresh_token grants.
func (s *Server) handleToken(c *gin.Context) {
	var (
		grant Grant
		err   error
	)

	switch c.PostForm("grant_type") {
	case "password":
		grant, err = s.store.Authenticate(c.Request.Context(), c.PostForm("username"), c.PostForm("password"))
	case "refresh_token":
		grant, err = s.store.Refresh(c.Request.Context(), c.PostForm("refresh_token"))
	default:
		oauthError(c, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be password or refresh_token")
		return
	}

	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidToken) {
			oauthError(c, http.StatusBadRequest, "invalid_grant", err.Error())
			return
		}
		s.internalError(c, "issue token", err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"access_token":  grant.AccessToken,
		"refresh_token": grant.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    int(grant.ExpiresAt.Sub(s.store.Now()).Seconds()),
		"user_id":       grant.User.ID,
		"email":         grant.User.Email,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	token := c.GetString(ctxToken)
	if err := s.store.Revoke(c.Request.Context(), token); err != nil {
		s.internalError(c, "revoke token", err)
		return
	}
	s.hub.CloseToken(token)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.store.ListTasks(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		s.internalError(c, "list tasks", err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := c.GetString(ctxUserID)
	created, err := s.store.CreateTask(c.Request.Context(), userID, req.Title)
	if err != nil {
		s.mutationError(c, "create task", err)
		return
	}

	s.hub.Publish(userID, task.ChangeInsert)
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var patch task.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := c.GetString(ctxUserID)
	if err := s.store.UpdateTask(c.Request.Context(), userID, c.Param("id"), patch); err != nil {
		s.mutationError(c, "update task", err)
		return
	}

	s.hub.Publish(userID, task.ChangeUpdate)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	if err := s.store.DeleteTask(c.Request.Context(), userID, c.Param("id")); err != nil {
		s.mutationError(c, "delete task", err)
		return
	}

	s.hub.Publish(userID, task.ChangeDelete)
	c.Status(http.StatusNoContent)
}

// handleStream serves the caller's change notifications as server-sent events.
func (s *Server) handleStream(c *gin.Context) {
	events, cancel := s.hub.Subscribe(c.GetString(ctxUserID), c.GetString(ctxToken))
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	fmt.Fprint(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("change", change)
			return true
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			return true
		}
	})
}

func (s *Server) mutationError(c *gin.Context, op string, err error) {
	var verr *task.ValidationError
	switch {
	case errors.As(err, &verr):
		abortError(c, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, ErrNotFound):
		abortError(c, http.StatusNotFound, "task not found")
	default:
		s.internalError(c, op, err)
	}
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op, "error", err)
	abortError(c, http.StatusInternalServerError, "internal error")
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func oauthError(c *gin.Context, status int, code, desc string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": desc})
}
