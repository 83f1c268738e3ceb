package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// There are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader lists a session's history in append order.
type Reader interface {
	ListBySession(ctx context.Context, sessionID string) ([]Event, error)
}

// Service stamps and validates audit events before they reach a Repository.
// The repository may be transaction-scoped so events commit with the state change they describe.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// NewServiceWithClock is NewService with an injected clock.
func NewServiceWithClock(repo Repository, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, clock: clock}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" || e.Kind == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record is a shorthand for Append.
func (s *Service) Record(ctx context.Context, sessionID string, kind Kind, actorID, description string) error {
	return s.Append(ctx, Event{
		SessionID:   sessionID,
		Kind:        kind,
		ActorID:     actorID,
		Description: description,
	})
}
