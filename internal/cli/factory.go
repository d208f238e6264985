package cli

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"tasksync/internal/backend/googletasks"
	"tasksync/internal/backend/rest"
	"tasksync/internal/config"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/task"
)

// NewBackend creates the backend selected by cfg.Settings.Backend. Tokens
// obtained by a refresh are written back to the saved session.
func NewBackend(ctx context.Context, cfg *config.Config, holder *session.Holder, logger *slog.Logger) (service.Backend, error) {
	onToken := persistToken(session.FileStore{Path: cfg.TokenPath()}, holder, logger)

	switch cfg.Settings.Backend {
	case config.BackendGoogle:
		if !cfg.HasOAuthClient() {
			return nil, &task.AuthError{Err: fmt.Errorf("oauth_client.json not found in %s", cfg.Dir)}
		}
		c, err := googletasks.New(cfg, googletasks.Options{
			Timeout:      cfg.Settings.Timeout,
			PollInterval: cfg.Settings.PollInterval,
			Session:      holder,
			OnToken:      onToken,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendREST, "":
		c, err := rest.New(rest.Options{
			BaseURL:  cfg.Settings.StoreURL,
			ClientID: cfg.Settings.ClientID,
			Timeout:  cfg.Settings.Timeout,
			Session:  holder,
			OnToken:  onToken,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Settings.Backend)
	}
}

func persistToken(store session.FileStore, holder *session.Holder, logger *slog.Logger) func(*oauth2.Token) {
	return func(tok *oauth2.Token) {
		s := holder.Current()
		if !s.Present() {
			return
		}
		s.Token = tok
		if err := store.Save(s); err != nil {
			logger.Warn("saving refreshed token", "path", store.Path, "error", err)
			return
		}
		logger.Debug("saved refreshed token", "expiry", tok.Expiry)
	}
}
