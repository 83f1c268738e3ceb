package audit

import "time"

// Event is an immutable, append-only record of something that happened to a session.
//
// Invariants:
// - Events are never updated or deleted.
// - session_id is required.
// - Per session, events are read back in the order they were appended.
//
// Storage (Postgres): table session_events, INSERT-only, with a bigserial
// sequence column used for ordering.
type Event struct {
	ID        string `json:"event_id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`

	Kind        Kind   `json:"event_type" db:"kind"`
	Description string `json:"event_description,omitempty" db:"description"`

	// ActorID is the participant or operator causing the event; empty for system actions.
	ActorID string `json:"user_id,omitempty" db:"actor_id"`

	OccurredAt time.Time `json:"event_timestamp" db:"occurred_at"`
}

type Kind string

const (
	KindSessionCreated   Kind = "SESSION_CREATED"
	KindMeetingCreated   Kind = "MEETING_CREATED"
	KindUserJoined       Kind = "USER_JOINED"
	KindUserLeft         Kind = "USER_LEFT"
	KindSessionEnded     Kind = "SESSION_ENDED"
	KindSessionCancelled Kind = "SESSION_CANCELLED"
	KindSessionNoShow    Kind = "SESSION_NO_SHOW"
	KindNotesUpdated     Kind = "NOTES_UPDATED"
)
