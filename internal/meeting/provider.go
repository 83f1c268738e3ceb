package meeting

import (
	"context"
	"errors"
	"strings"
)

// Provider is the provider-agnostic contract for remote meetings.
//
// Rules:
// - No provider SDK calls outside meeting adapters.
// - CreateMeeting must be safe to call twice with the same idempotency token.
// - DeleteMeeting / DeleteAttendee treat "already gone" as success.
// - Every call is a network call and may fail transiently; adapters own retry/backoff.
type Provider interface {
	Name() string

	CreateMeeting(ctx context.Context, req CreateMeetingRequest) (Handle, error)
	CreateAttendee(ctx context.Context, req CreateAttendeeRequest) (Credential, error)
	DeleteMeeting(ctx context.Context, meetingID string) error
	DeleteAttendee(ctx context.Context, meetingID, attendeeID string) error
	GetMeeting(ctx context.Context, meetingID string) (Handle, error)
}

// ErrMeetingNotFound is returned by GetMeeting when the provider no longer knows the meeting.
var ErrMeetingNotFound = errors.New("meeting: not found")

// Endpoints are the media placement URLs participants need to connect.
type Endpoints struct {
	AudioHost     string `json:"audio_host_url,omitempty"`
	AudioFallback string `json:"audio_fallback_url,omitempty"`
	Signaling     string `json:"signaling_url,omitempty"`
	TurnControl   string `json:"turn_control_url,omitempty"`
	ScreenData    string `json:"screen_data_url,omitempty"`
	ScreenViewing string `json:"screen_viewing_url,omitempty"`
	ScreenSharing string `json:"screen_sharing_url,omitempty"`
}

// Handle identifies a provisioned remote meeting.
type Handle struct {
	MeetingID         string    `json:"meeting_id"`
	ExternalMeetingID string    `json:"external_meeting_id"`
	Region            string    `json:"media_region"`
	Endpoints         Endpoints `json:"media_placement"`
}

type Participant struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type CreateMeetingRequest struct {
	// IdempotencyToken collapses duplicate create requests into one meeting.
	IdempotencyToken  string
	ExternalMeetingID string
	Participants      []Participant
}

type CreateAttendeeRequest struct {
	MeetingID     string
	ParticipantID string
	Role          string
}

// Credential is a per-attendee join credential. JoinToken is a secret.
type Credential struct {
	AttendeeID     string `json:"attendee_id"`
	ExternalUserID string `json:"external_user_id"`
	JoinToken      string `json:"join_token"`
}

// ExternalMeetingID is the provider-visible meeting name for a session.
func ExternalMeetingID(sessionID string) string {
	return "consult-" + sessionID
}

// ExternalUserID is the provider-visible attendee name: "<role>-<participant>".
func ExternalUserID(role, participantID string) string {
	return strings.ToLower(role) + "-" + participantID
}
