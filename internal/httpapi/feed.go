package httpapi

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"consultation-service/internal/live"
	"consultation-service/internal/session"
	"consultation-service/pkg/logger"
)

type feedSnapshot struct {
	Type    string          `json:"type"`
	Session session.Session `json:"session"`
}

func (h Handlers) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(h.FeedOrigins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(h.FeedOrigins, r.Header.Get("Origin"))
		}
	}
	return u
}

// Feed upgrades to a websocket that pushes the session snapshot, then every
// lifecycle notification for the session until either side goes away.
func (h Handlers) Feed(c *gin.Context) {
	s, id, ok := h.loadReadable(c)
	if !ok {
		return
	}
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "live feed not configured", "kind": session.KindInternal})
		return
	}

	sub := h.Hub.Subscribe(s.ID, id.UserID)
	defer h.Hub.Unsubscribe(sub)

	// Re-read after subscribing so the snapshot cannot predate a missed update.
	if fresh, err := h.Engine.Get(c.Request.Context(), s.ID); err == nil {
		s = fresh
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied.
		logger.FromGin(c).Debug("feed upgrade failed", "session_id", s.ID, "err", err)
		return
	}
	log := logger.FromGin(c).With("session_id", s.ID, "user_id", id.UserID)
	log.Info("live feed opened")
	if err := live.Serve(conn, sub, feedSnapshot{Type: "snapshot", Session: s}); err != nil {
		log.Debug("live feed closed", "err", err)
	}
}

