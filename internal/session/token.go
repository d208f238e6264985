package session

import (
	"sync"

	"golang.org/x/oauth2"
)

// NotifyingSource wraps base and calls onToken with every token it has not
// handed out before, so refreshed credentials can be persisted.
func NotifyingSource(base oauth2.TokenSource, current *oauth2.Token, onToken func(*oauth2.Token)) oauth2.TokenSource {
	src := &notifyingSource{base: base, onToken: onToken}
	if current != nil {
		src.last = current.AccessToken
	}
	return src
}

type notifyingSource struct {
	base    oauth2.TokenSource
	onToken func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (s *notifyingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	fresh := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if fresh && s.onToken != nil {
		s.onToken(StripToken(tok))
	}
	return tok, nil
}

// StripToken copies the standard fields of tok, dropping the raw token
// response so that only those are persisted.
func StripToken(tok *oauth2.Token) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
