package session

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the bootstrap DDL for the tables PostgresStore, audit.PostgresRepo
// and usage.PostgresRepo use. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		booking_type TEXT NOT NULL CHECK (booking_type IN ('CLINIC_BASED', 'DIRECT_BOOKED')),
		caller_id TEXT NOT NULL,
		callee_id TEXT NOT NULL,
		external_ref TEXT,
		org_id TEXT,
		status TEXT NOT NULL,
		scheduled_start TIMESTAMPTZ NOT NULL,
		scheduled_end TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL,
		actual_start TIMESTAMPTZ,
		actual_end TIMESTAMPTZ,
		reason TEXT,
		notes TEXT,
		quality_rating SMALLINT CHECK (quality_rating BETWEEN 1 AND 5),
		caller_joined_at TIMESTAMPTZ,
		callee_joined_at TIMESTAMPTZ,
		caller_left_at TIMESTAMPTZ,
		callee_left_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		cancelled_by TEXT,
		cancellation_reason TEXT,
		ended_by TEXT,
		meeting_id TEXT,
		external_meeting_id TEXT,
		media_region TEXT,
		media_placement JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (scheduled_end > scheduled_start),
		CHECK (caller_id <> callee_id)
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_caller_idx ON sessions (caller_id, scheduled_start DESC)`,
	`CREATE INDEX IF NOT EXISTS sessions_callee_idx ON sessions (callee_id, scheduled_start DESC)`,
	`CREATE INDEX IF NOT EXISTS sessions_org_idx ON sessions (org_id, scheduled_start DESC)`,
	`CREATE INDEX IF NOT EXISTS sessions_noshow_idx ON sessions (scheduled_end) WHERE status IN ('SCHEDULED', 'WAITING')`,

	`CREATE TABLE IF NOT EXISTS session_attendees (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions (id),
		participant_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('CALLER', 'CALLEE')),
		provider_attendee_id TEXT,
		external_user_id TEXT,
		join_token TEXT,
		joined_at TIMESTAMPTZ,
		left_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT false,
		device_type TEXT,
		client_info TEXT,
		ip_address TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (session_id, participant_id)
	)`,

	`CREATE TABLE IF NOT EXISTS session_events (
		seq BIGSERIAL UNIQUE,
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions (id),
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		actor_id TEXT,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS session_events_session_idx ON session_events (session_id, occurred_at, seq)`,

	`CREATE TABLE IF NOT EXISTS session_metrics (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions (id),
		participant_id TEXT NOT NULL,
		attendee_minutes INTEGER NOT NULL CHECK (attendee_minutes >= 1),
		recorded_at TIMESTAMPTZ NOT NULL,
		session_completed BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS session_metrics_recorded_idx ON session_metrics (recorded_at)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
