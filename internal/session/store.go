package session

import (
	"context"
	"time"

	"consultation-service/internal/audit"
	"consultation-service/internal/usage"
)

// Store is the transactional persistence contract for sessions.
//
// Every mutation goes through Create or Update so that the session row, attendee rows,
// audit events and usage samples written by one operation commit together.
type Store interface {
	// Create inserts s and runs fn in the same transaction.
	Create(ctx context.Context, s Session, fn TxFunc) error
	// Update locks session id, runs fn, and commits if fn returns nil.
	// It returns the session as last saved inside fn (or as loaded if fn saved nothing).
	Update(ctx context.Context, id string, fn TxFunc) (Session, error)

	Get(ctx context.Context, id string) (Session, error)
	Attendees(ctx context.Context, sessionID string) ([]Attendee, error)
	List(ctx context.Context, f ListFilter) ([]Session, int, error)
	Events(ctx context.Context, sessionID string) ([]audit.Event, error)

	// DueForNoShow returns ids of sessions still SCHEDULED or WAITING whose scheduled end is before cutoff.
	DueForNoShow(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// TxFunc is the unit of work executed while a session is locked.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is the view of one locked session inside Store.Update.
// Tx satisfies audit.Repository so audit.Service can write through it.
type Tx interface {
	Session() Session
	Attendee(participantID string) (Attendee, bool)
	Attendees() []Attendee

	Save(ctx context.Context, s Session) error
	SaveAttendee(ctx context.Context, a Attendee) error
	Append(ctx context.Context, e audit.Event) error
	RecordUsage(ctx context.Context, s usage.Sample) error
}
