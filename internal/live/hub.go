package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"consultation-service/internal/events"
)

const sendBuffer = 32

// Subscriber is one connected viewer of a session's live feed.
type Subscriber struct {
	ID        string
	SessionID string
	UserID    string

	send chan events.Envelope
	once sync.Once
}

// Updates delivers envelopes for the subscribed session. It is closed on unsubscribe.
func (s *Subscriber) Updates() <-chan events.Envelope { return s.send }

func (s *Subscriber) close() { s.once.Do(func() { close(s.send) }) }

// Hub fans session notifications out to live subscribers in this process.
// Nothing here is authoritative: losing the hub loses only pending pushes.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscriber
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{subs: make(map[string]map[string]*Subscriber), log: log}
}

var _ events.Notifier = (*Hub)(nil)

func (h *Hub) Subscribe(sessionID, userID string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		send:      make(chan events.Envelope, sendBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[string]*Subscriber)
	}
	h.subs[sessionID][sub.ID] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.SessionID]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(h.subs, sub.SessionID)
		}
	}
	sub.close()
}

// Subscribers returns how many viewers a session currently has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Publish delivers env to the subscribers of its session_id. Slow subscribers miss updates.
func (h *Hub) Publish(_ context.Context, env events.Envelope) error {
	sessionID, _ := env.Payload["session_id"].(string)
	if sessionID == "" {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[sessionID] {
		select {
		case sub.send <- env:
		default:
			h.log.Warn("live feed subscriber lagging, update dropped",
				"session_id", sessionID, "subscriber_id", sub.ID, "event_type", string(env.EventType))
		}
	}
	return nil
}
