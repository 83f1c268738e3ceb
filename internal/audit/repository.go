package audit

import (
	"context"
	"database/sql"
)

// NOTE: This repository assumes the following table exists:
// - session_events (INSERT-only; seq BIGSERIAL orders events appended in the same instant)

// InsertEvent appends e inside the caller's transaction.
func InsertEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	const q = `
INSERT INTO session_events (id, session_id, kind, description, actor_id, occurred_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
`
	_, err := tx.ExecContext(ctx, q, e.ID, e.SessionID, string(e.Kind), e.Description, e.ActorID, e.OccurredAt)
	return err
}

// PostgresRepo reads audit history.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

var _ Reader = (*PostgresRepo)(nil)

func (r *PostgresRepo) ListBySession(ctx context.Context, sessionID string) ([]Event, error) {
	const q = `
SELECT id, session_id, kind, description, COALESCE(actor_id, ''), occurred_at
FROM session_events
WHERE session_id = $1
ORDER BY occurred_at ASC, seq ASC
`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &e.Description, &e.ActorID, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
