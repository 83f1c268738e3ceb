package httpapi

import (
	"net/http"
	"time"

	"consultation-service/internal/rbac"
	"consultation-service/internal/session"

	"github.com/gin-gonic/gin"
)

type createSessionRequest struct {
	BookingType     string    `json:"booking_type" binding:"required,oneof=CLINIC_BASED DIRECT_BOOKED"`
	CallerID        string    `json:"caller_id" binding:"required"`
	CalleeID        string    `json:"callee_id" binding:"required"`
	ExternalRef     string    `json:"external_ref"`
	OrgID           string    `json:"org_id"`
	ScheduledStart  time.Time `json:"scheduled_start_time" binding:"required"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason"`
}

// CreateSession schedules a consultation.
// RBAC: clinician, coordinator or service. Staff may only create inside their own organisation.
func (h Handlers) CreateSession(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	orgID := req.OrgID
	if orgID == "" {
		orgID = id.OrgID
	}
	if id.OrgID != "" && orgID != id.OrgID && !rbac.IsSuperAdmin(id.Role) {
		writeError(c, session.ErrForbidden)
		return
	}

	s, err := h.Engine.Create(c.Request.Context(), session.CreateInput{
		BookingType:     session.BookingType(req.BookingType),
		CallerID:        req.CallerID,
		CalleeID:        req.CalleeID,
		ExternalRef:     req.ExternalRef,
		OrgID:           orgID,
		ScheduledStart:  req.ScheduledStart,
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

type listQuery struct {
	ParticipantID string `form:"participant_id"`
	Role          string `form:"role"`
	Status        string `form:"status"`
	OrgID         string `form:"org_id"`
	Page          int    `form:"page"`
	PageSize      int    `form:"page_size"`
}

// ListSessions pages through sessions. Participants only ever see their own;
// coordinators are confined to their organisation.
func (h Handlers) ListSessions(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	f := session.ListFilter{
		ParticipantID: q.ParticipantID,
		Role:          session.Role(q.Role),
		Status:        session.Status(q.Status),
		OrgID:         q.OrgID,
		Page:          q.Page,
		PageSize:      q.PageSize,
	}
	switch {
	case !rbac.CanReadAnySession(id.Role):
		if f.ParticipantID != "" && f.ParticipantID != id.UserID {
			writeError(c, session.ErrForbidden)
			return
		}
		f.ParticipantID = id.UserID
	case id.Role == rbac.RoleCoordinator:
		if f.OrgID != "" && f.OrgID != id.OrgID {
			writeError(c, session.ErrForbidden)
			return
		}
		f.OrgID = id.OrgID
	}

	page, err := h.Engine.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h Handlers) GetSession(c *gin.Context) {
	s, _, ok := h.loadReadable(c)
	if !ok {
		return
	}
	attendees, err := h.Engine.Attendees(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "attendees": attendees})
}

func (h Handlers) ListEvents(c *gin.Context) {
	s, _, ok := h.loadReadable(c)
	if !ok {
		return
	}
	evs, err := h.Engine.Events(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "events": evs})
}

// StartSession provisions the remote meeting ahead of the first join.
func (h Handlers) StartSession(c *gin.Context) {
	s, _, ok := h.loadReadable(c)
	if !ok {
		return
	}
	out, err := h.Engine.StartMeeting(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type joinRequest struct {
	Role       string `json:"role" binding:"omitempty,oneof=CALLER CALLEE"`
	DeviceType string `json:"device_type" binding:"max=32"`
	ClientInfo string `json:"client_info" binding:"max=512"`
}

// JoinSession admits the authenticated participant. The role comes from the session, not the request.
func (h Handlers) JoinSession(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req joinRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	clientInfo := req.ClientInfo
	if clientInfo == "" {
		clientInfo = truncate(c.Request.UserAgent(), 512)
	}

	res, err := h.Engine.Join(c.Request.Context(), session.JoinInput{
		SessionID:     c.Param("id"),
		ParticipantID: id.UserID,
		Role:          session.Role(req.Role),
		Client: session.ClientMeta{
			DeviceType: req.DeviceType,
			ClientInfo: clientInfo,
			IPAddress:  c.ClientIP(),
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type leaveRequest struct {
	Role string `json:"role" binding:"omitempty,oneof=CALLER CALLEE"`
}

func (h Handlers) LeaveSession(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req leaveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	s, err := h.Engine.Leave(c.Request.Context(), session.LeaveInput{
		SessionID:     c.Param("id"),
		ParticipantID: id.UserID,
		Role:          session.Role(req.Role),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type endRequest struct {
	Notes         string `json:"notes" binding:"max=5000"`
	QualityRating *int   `json:"quality_rating" binding:"omitempty,min=1,max=5"`
}

func (h Handlers) EndSession(c *gin.Context) {
	s, id, ok := h.loadReadable(c)
	if !ok {
		return
	}
	var req endRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	out, err := h.Engine.End(c.Request.Context(), session.EndInput{
		SessionID:     s.ID,
		EndedBy:       id.UserID,
		Notes:         req.Notes,
		QualityRating: req.QualityRating,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required,min=10,max=500"`
}

func (h Handlers) CancelSession(c *gin.Context) {
	s, id, ok := h.loadReadable(c)
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	out, err := h.Engine.Cancel(c.Request.Context(), session.CancelInput{
		SessionID:   s.ID,
		CancelledBy: id.UserID,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// MarkNoShow is the manual no-show override.
// RBAC: coordinator or service.
func (h Handlers) MarkNoShow(c *gin.Context) {
	s, id, ok := h.loadReadable(c)
	if !ok {
		return
	}
	out, err := h.Engine.MarkNoShow(c.Request.Context(), s.ID, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type notesRequest struct {
	Notes string `json:"notes" binding:"required,max=5000"`
}

func (h Handlers) UpdateNotes(c *gin.Context) {
	s, id, ok := h.loadReadable(c)
	if !ok {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	out, err := h.Engine.UpdateNotes(c.Request.Context(), s.ID, id.UserID, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
