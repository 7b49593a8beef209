// Package realtime provides the topic-based fan-out hub that delivers
// applied deltas to subscribed client connections. One topic per batch id;
// the hub is transport-agnostic and trusts already-authenticated session
// handles.
package realtime

import (
	"context"
	"sync"

	"agritrace/internal/logger"
	"agritrace/internal/models"
)

// Session is one client connection's seat in the hub. Deltas are delivered
// through a buffered send queue, which gives FIFO delivery per session and
// lets Publish stay non-blocking: a session that cannot keep up loses
// messages rather than stalling the topic.
type Session struct {
	id   string
	send chan *models.Delta

	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

func NewSession(id string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 32
	}
	return &Session{
		id:     id,
		send:   make(chan *models.Delta, buffer),
		topics: make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// C is the session's receive channel; it is closed when the session is
// dropped from the hub.
func (s *Session) C() <-chan *models.Delta { return s.send }

// offer enqueues without blocking. Reports whether the delta was accepted.
func (s *Session) offer(d *models.Delta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- d:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) track(batchID string) {
	s.mu.Lock()
	s.topics[batchID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) untrack(batchID string) {
	s.mu.Lock()
	delete(s.topics, batchID)
	s.mu.Unlock()
}

func (s *Session) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// Hub maintains topic membership and fans published deltas out to exactly
// the sessions subscribed to that batch's topic. Membership and the topic
// map change under one lock, so an empty-topic cleanup can never race a
// concurrent subscribe onto an orphaned membership set.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Session
	logger *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[string]*Session),
		logger: log,
	}
}

// Subscribe adds the session to the batch's topic. Subscribing twice is a
// no-op.
func (h *Hub) Subscribe(s *Session, batchID string) {
	if batchID == "" {
		return
	}
	h.mu.Lock()
	subs, ok := h.topics[batchID]
	if !ok {
		subs = make(map[string]*Session)
		h.topics[batchID] = subs
	}
	subs[s.id] = s
	h.mu.Unlock()
	s.track(batchID)
}

// Unsubscribe removes the session from the batch's topic. Unknown topics and
// absent memberships are no-ops.
func (h *Hub) Unsubscribe(s *Session, batchID string) {
	h.mu.Lock()
	if subs, ok := h.topics[batchID]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(h.topics, batchID)
		}
	}
	h.mu.Unlock()
	s.untrack(batchID)
}

// Drop removes the session from every topic it joined and closes its send
// channel. Safe to call more than once; disconnects are never an error.
func (h *Hub) Drop(s *Session) {
	for _, batchID := range s.snapshot() {
		h.Unsubscribe(s, batchID)
	}
	s.close()
}

// Publish delivers the delta to every current subscriber of its batch topic,
// at most once each. A topic with zero subscribers is a no-op. Implements
// the engine's Publisher contract; the error return is always nil because
// per-session drops are not publish failures.
func (h *Hub) Publish(ctx context.Context, d *models.Delta) error {
	h.mu.RLock()
	subs, ok := h.topics[d.BatchID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	sessions := make([]*Session, 0, len(subs))
	for _, s := range subs {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if !s.offer(d) {
			h.logger.Warn("dropping delta for slow or closed session",
				"session", s.id, "batch_id", d.BatchID, "type", d.Type)
		}
	}
	return nil
}

// Subscribers reports the current subscriber count for a batch topic.
func (h *Hub) Subscribers(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[batchID])
}
