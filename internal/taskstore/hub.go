package taskstore

import (
	"sync"

	"tasksync/internal/task"
)

const subscriberBuffer = 16

type subscriber struct {
	userID string
	token  string
	ch     chan task.Change
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans change notifications out to the owner's open streams.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]*subscriber
	metrics *Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{subs: make(map[int]*subscriber), metrics: metrics}
}

// Subscribe opens a stream for userID. The returned channel is closed by
// cancel or when the token is revoked.
func (h *Hub) Subscribe(userID, token string) (<-chan task.Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	sub := &subscriber{userID: userID, token: token, ch: make(chan task.Change, subscriberBuffer)}
	h.subs[id] = sub
	h.gaugeLocked()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			s.close()
			h.gaugeLocked()
		}
	}
	return sub.ch, cancel
}

// Publish delivers a change to every stream of userID. A full stream drops
// the notification; one queued change already forces a reload.
func (h *Hub) Publish(userID string, kind task.ChangeKind) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		if s.userID != userID {
			continue
		}
		select {
		case s.ch <- task.Change{Kind: kind}:
			if h.metrics != nil {
				h.metrics.notifications.WithLabelValues(string(kind)).Inc()
			}
		default:
		}
	}
}

// CloseToken ends every stream opened with token.
func (h *Hub) CloseToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.subs {
		if s.token == token {
			delete(h.subs, id)
			s.close()
		}
	}
	h.gaugeLocked()
}

// Len returns the number of open streams.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) gaugeLocked() {
	if h.metrics != nil {
		h.metrics.subscribers.Set(float64(len(h.subs)))
	}
}
