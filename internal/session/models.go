package session

import (
	"time"

	"consultation-service/internal/meeting"
)

// Session is a two-party consultation.
//
// Invariants:
// - ScheduledEnd is after ScheduledStart.
// - Terminal statuses never change.
// - Meeting, ActualStart and ActualEnd are written once.
// - Cancellation metadata is only set on cancel.
type Session struct {
	ID          string      `json:"session_id" db:"id"`
	BookingType BookingType `json:"booking_type" db:"booking_type"`

	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	// ExternalRef is the booking/appointment this session belongs to.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`
	OrgID       string `json:"org_id,omitempty" db:"org_id"`

	Status Status `json:"status" db:"status"`

	ScheduledStart  time.Time  `json:"scheduled_start_time" db:"scheduled_start"`
	ScheduledEnd    time.Time  `json:"scheduled_end_time" db:"scheduled_end"`
	DurationMinutes int        `json:"duration_minutes" db:"duration_minutes"`
	ActualStart     *time.Time `json:"actual_start_time,omitempty" db:"actual_start"`
	ActualEnd       *time.Time `json:"actual_end_time,omitempty" db:"actual_end"`

	Reason        string `json:"reason,omitempty" db:"reason"`
	Notes         string `json:"notes,omitempty" db:"notes"`
	QualityRating *int   `json:"quality_rating,omitempty" db:"quality_rating"`

	CallerJoinedAt *time.Time `json:"caller_joined_at,omitempty" db:"caller_joined_at"`
	CalleeJoinedAt *time.Time `json:"callee_joined_at,omitempty" db:"callee_joined_at"`
	CallerLeftAt   *time.Time `json:"caller_left_at,omitempty" db:"caller_left_at"`
	CalleeLeftAt   *time.Time `json:"callee_left_at,omitempty" db:"callee_left_at"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledBy        string     `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancellationReason string     `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	EndedBy            string     `json:"ended_by,omitempty" db:"ended_by"`

	Meeting *meeting.Handle `json:"meeting,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RoleOf returns the role participantID holds in s.
func (s Session) RoleOf(participantID string) (Role, bool) {
	switch participantID {
	case "":
		return "", false
	case s.CallerID:
		return RoleCaller, true
	case s.CalleeID:
		return RoleCallee, true
	}
	return "", false
}

// IsParticipant reports whether id is the caller or the callee.
func (s Session) IsParticipant(id string) bool {
	_, ok := s.RoleOf(id)
	return ok
}

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusWaiting   Status = "WAITING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusWaiting, StatusActive, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Role string

const (
	RoleCaller Role = "CALLER"
	RoleCallee Role = "CALLEE"
)

type BookingType string

const (
	BookingClinic BookingType = "CLINIC_BASED"
	BookingDirect BookingType = "DIRECT_BOOKED"
)

// Attendee is one participant's connection record for a session.
// At most one exists per (SessionID, ParticipantID); re-joins update it.
type Attendee struct {
	ID            string `json:"attendee_record_id" db:"id"`
	SessionID     string `json:"session_id" db:"session_id"`
	ParticipantID string `json:"participant_id" db:"participant_id"`
	Role          Role   `json:"role" db:"role"`

	ProviderAttendeeID string `json:"attendee_id,omitempty" db:"provider_attendee_id"`
	ExternalUserID     string `json:"external_user_id,omitempty" db:"external_user_id"`
	JoinToken          string `json:"-" db:"join_token"`

	JoinedAt *time.Time `json:"joined_at,omitempty" db:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty" db:"left_at"`
	Active   bool       `json:"is_active" db:"is_active"`

	DeviceType string `json:"device_type,omitempty" db:"device_type"`
	ClientInfo string `json:"client_info,omitempty" db:"client_info"`
	IPAddress  string `json:"-" db:"ip_address"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ClientMeta is coarse client information captured on join.
type ClientMeta struct {
	DeviceType string `validate:"max=32"`
	ClientInfo string `validate:"max=512"`
	IPAddress  string `validate:"omitempty,ip"`
}

type CreateInput struct {
	BookingType BookingType `validate:"required,oneof=CLINIC_BASED DIRECT_BOOKED"`
	CallerID    string      `validate:"required,max=128"`
	CalleeID    string      `validate:"required,max=128,nefield=CallerID"`
	ExternalRef string      `validate:"max=128"`
	OrgID       string      `validate:"max=128"`

	ScheduledStart time.Time `validate:"required"`
	// DurationMinutes of zero selects the configured default.
	DurationMinutes int    `validate:"gte=0"`
	Reason          string `validate:"max=1000"`
}

type JoinInput struct {
	SessionID     string `validate:"required"`
	ParticipantID string `validate:"required"`
	// Role is optional; when given it must match the participant's role in the session.
	Role   Role `validate:"omitempty,oneof=CALLER CALLEE"`
	Client ClientMeta
}

type LeaveInput struct {
	SessionID     string `validate:"required"`
	ParticipantID string `validate:"required"`
	Role          Role   `validate:"omitempty,oneof=CALLER CALLEE"`
}

type EndInput struct {
	SessionID     string `validate:"required"`
	EndedBy       string
	Notes         string `validate:"max=5000"`
	QualityRating *int   `validate:"omitempty,min=1,max=5"`
}

type CancelInput struct {
	SessionID   string `validate:"required"`
	CancelledBy string
	Reason      string `validate:"required,max=500"`
}

// JoinResult carries what a participant needs to connect. Credential is the joiner's own and nobody else's.
type JoinResult struct {
	Session    Session            `json:"session"`
	Meeting    meeting.Handle     `json:"meeting"`
	Role       Role               `json:"role"`
	Credential meeting.Credential `json:"attendee"`
}

type ListFilter struct {
	ParticipantID string
	// Role narrows ParticipantID to the caller or callee side. Ignored without ParticipantID.
	Role   Role
	Status Status
	OrgID  string

	Page     int
	PageSize int
}

type Page struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

func (f ListFilter) offset() int { return (f.Page - 1) * f.PageSize }
