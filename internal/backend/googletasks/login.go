package googletasks

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"tasksync/internal/session"
	"tasksync/internal/task"
)

const (
	// OAuth callback timeout
	oauthCallbackTimeout = 5 * time.Minute

	// Token exchange timeout
	tokenExchangeTimeout = 30 * time.Second

	// Starting port for OAuth callback server
	oauthStartPort = 8085

	// Max port attempts
	oauthMaxPortAttempts = 5
)

// Login runs the browser authorization-code flow with PKCE. The URL to open
// is printed to prompt. On success the client is signed in and the new
// session is returned; its identity is the default list's real id.
func (c *Client) Login(ctx context.Context, prompt io.Writer) (session.Session, error) {
	if c.oauth == nil {
		return session.Session{}, &task.AuthError{Op: "login", Err: fmt.Errorf("no oauth client configured")}
	}

	port, listener, err := findAvailablePort()
	if err != nil {
		return session.Session{}, &task.AuthError{Op: "login", Err: fmt.Errorf("could not bind to local port for OAuth callback")}
	}
	defer listener.Close()

	oauthConfig := *c.oauth
	oauthConfig.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", port)

	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()
	authURL := oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	fmt.Fprintln(prompt, "Open this URL in your browser:")
	fmt.Fprintln(prompt, authURL)

	code, err := waitForCode(ctx, listener, state)
	if err != nil {
		return session.Session{}, &task.AuthError{Op: "login", Err: err}
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()

	token, err := oauthConfig.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return session.Session{}, &task.AuthError{Op: "login", Err: fmt.Errorf("failed to exchange code for token: %w", err)}
	}
	token = session.StripToken(token)

	svc, err := c.arm(token)
	if err != nil {
		return session.Session{}, &task.AuthError{Op: "login", Err: err}
	}
	listID, err := c.defaultListID(ctx, svc)
	if err != nil {
		return session.Session{}, err
	}

	c.mu.Lock()
	c.svc = svc
	c.userID = listID
	c.mu.Unlock()

	return session.Session{UserID: listID, Backend: BackendName, Token: token}, nil
}

// waitForCode serves the OAuth callback until a code arrives.
func waitForCode(ctx context.Context, listener net.Listener, state string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "No code in callback", http.StatusBadRequest)
			select {
			case errCh <- fmt.Errorf("no code in callback"):
			default:
			}
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h1>Authentication successful</h1><p>You may close this window.</p></body></html>")
		select {
		case codeCh <- code:
		default:
		}
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	select {
	case code := <-codeCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-time.After(oauthCallbackTimeout):
		return "", fmt.Errorf("oauth callback timed out")
	case <-ctx.Done():
		return "", fmt.Errorf("cancelled")
	}
}

// findAvailablePort tries to find an available port starting from oauthStartPort.
func findAvailablePort() (int, net.Listener, error) {
	for i := 0; i < oauthMaxPortAttempts; i++ {
		port := oauthStartPort + i
		addr := fmt.Sprintf("localhost:%d", port)
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			return port, listener, nil
		}
	}
	return 0, nil, fmt.Errorf("no available port found")
}
