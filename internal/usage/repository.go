package usage

import (
	"context"
	"database/sql"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - session_metrics (append-only samples)
// - sessions

// PostgresRepo reads usage aggregates from Postgres.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) SumUsage(ctx context.Context, from, to time.Time) (Totals, error) {
	const q = `
SELECT COALESCE(SUM(attendee_minutes), 0), COUNT(DISTINCT session_id)
FROM session_metrics
WHERE recorded_at >= $1 AND recorded_at < $2
`
	var t Totals
	if err := r.db.QueryRowContext(ctx, q, from, to).Scan(&t.Minutes, &t.Sessions); err != nil {
		return Totals{}, err
	}
	return t, nil
}

func (r *PostgresRepo) CountSessionsCreated(ctx context.Context, from, to time.Time) (int, error) {
	const q = `
SELECT COUNT(*)
FROM sessions
WHERE created_at >= $1 AND created_at < $2
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, from, to).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) CountLiveSessions(ctx context.Context) (int, error) {
	const q = `
SELECT COUNT(*)
FROM sessions
WHERE status IN ('ACTIVE', 'WAITING')
`
	var n int
	if err := r.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// InsertSample appends a sample inside the caller's transaction.
func InsertSample(ctx context.Context, tx *sql.Tx, s Sample) error {
	const q = `
INSERT INTO session_metrics (id, session_id, participant_id, attendee_minutes, recorded_at, session_completed)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := tx.ExecContext(ctx, q, s.ID, s.SessionID, s.ParticipantID, s.Minutes, s.RecordedAt, s.SessionCompleted)
	return err
}
