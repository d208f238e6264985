// Package session holds the current authentication identity.
package session

import (
	"sync"

	"golang.org/x/oauth2"
)

// Session is the signed-in identity. The zero value is the absent session.
type Session struct {
	UserID  string        `json:"user_id"`
	Email   string        `json:"email,omitempty"`
	Backend string        `json:"backend,omitempty"`
	Token   *oauth2.Token `json:"token,omitempty"`
}

// Present reports whether the session carries an identity.
func (s Session) Present() bool {
	return s.UserID != ""
}

// EventKind describes an identity transition.
type EventKind string

const (
	SignedIn    EventKind = "signed_in"
	SignedOut   EventKind = "signed_out"
	Restored    EventKind = "restored"
	Invalidated EventKind = "invalidated"
)

// Event is delivered to subscribers on every identity transition.
type Event struct {
	Kind    EventKind
	Session Session
}

// Holder owns the current session and fans out transitions.
type Holder struct {
	mu      sync.RWMutex
	current Session
	subs    map[int]chan Event
	nextID  int
}

// NewHolder creates a holder with no session.
func NewHolder() *Holder {
	return &Holder{subs: make(map[int]chan Event)}
}

// Current returns the current session (possibly absent).
func (h *Holder) Current() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Set replaces the current session and notifies subscribers with kind.
func (h *Holder) Set(kind EventKind, s Session) {
	h.mu.Lock()
	h.current = s
	h.broadcastLocked(Event{Kind: kind, Session: s})
	h.mu.Unlock()
}

// Clear drops the current session. kind is SignedOut or Invalidated.
func (h *Holder) Clear(kind EventKind) {
	h.mu.Lock()
	if !h.current.Present() {
		h.mu.Unlock()
		return
	}
	h.current = Session{}
	h.broadcastLocked(Event{Kind: kind})
	h.mu.Unlock()
}

// Subscribe registers for transitions. The returned func unsubscribes and
// closes the channel. Slow subscribers miss events rather than block the holder.
func (h *Holder) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, 8)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

func (h *Holder) broadcastLocked(ev Event) {
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
