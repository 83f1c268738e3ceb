package httpapi

import (
	"net/http"
	"time"

	"consultation-service/internal/auth"
	"consultation-service/internal/live"
	"consultation-service/internal/rbac"
	"consultation-service/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Engine *session.Engine
	Hub    *live.Hub
	// Auth is only needed for the local token endpoint.
	Auth *auth.Manager
	// FeedOrigins restricts websocket origins; empty means same-origin only.
	FeedOrigins []string
}

// identity is the authenticated caller.
type identity struct {
	UserID string
	OrgID  string
	Role   string
}

func callerIdentity(c *gin.Context) (identity, bool) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return identity{}, false
	}
	role, _ := auth.Role(ctx)
	return identity{UserID: uid, OrgID: auth.OrgID(ctx), Role: role}, true
}

// canRead reports whether id may see s: its participants, plus staff with cross-session visibility.
// Coordinators are confined to their own organisation.
func (id identity) canRead(s session.Session) bool {
	if s.IsParticipant(id.UserID) {
		return true
	}
	if !rbac.CanReadAnySession(id.Role) {
		return false
	}
	if id.Role == rbac.RoleCoordinator {
		return s.OrgID == "" || s.OrgID == id.OrgID
	}
	return true
}

// loadReadable fetches the :id session and checks read access.
func (h Handlers) loadReadable(c *gin.Context) (session.Session, identity, bool) {
	id, ok := callerIdentity(c)
	if !ok {
		return session.Session{}, identity{}, false
	}
	s, err := h.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return session.Session{}, identity{}, false
	}
	if !id.canRead(s) {
		writeError(c, session.ErrForbidden)
		return session.Session{}, identity{}, false
	}
	return s, id, true
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id" binding:"required"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role" binding:"required,oneof=clinician patient coordinator service super_admin"`
}

// Login issues a JWT token pair.
//
// NOTE: Local/staging only. Credentials are not checked; production tokens come from the identity provider.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.OrgID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Usage ---

type usageQuery struct {
	Year  int `form:"year"`
	Month int `form:"month"`
}

// UsageMetrics returns the monthly attendee-minute report.
// RBAC: coordinator or super_admin.
func (h Handlers) UsageMetrics(c *gin.Context) {
	var q usageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	r, err := h.Engine.UsageMetrics(c.Request.Context(), q.Year, q.Month)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
