package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"consultation-service/internal/audit"
	"consultation-service/internal/meeting"
	"consultation-service/internal/usage"
	"consultation-service/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
// - sessions
// - session_attendees, with UNIQUE (session_id, participant_id)
// - session_events (immutable append-only)
// - session_metrics (immutable append-only)

// PostgresStore implements Store on Postgres. Update holds the session row lock
// (SELECT ... FOR UPDATE) for the whole unit of work.
type PostgresStore struct {
	db          *sql.DB
	events      *audit.PostgresRepo
	lockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, events: audit.NewPostgresRepo(db), lockTimeout: 5 * time.Second}
}

var _ Store = (*PostgresStore)(nil)

const sessionColumns = `
id, booking_type, caller_id, callee_id, COALESCE(external_ref, ''), COALESCE(org_id, ''), status,
scheduled_start, scheduled_end, duration_minutes, actual_start, actual_end,
COALESCE(reason, ''), COALESCE(notes, ''), quality_rating,
caller_joined_at, callee_joined_at, caller_left_at, callee_left_at,
cancelled_at, COALESCE(cancelled_by, ''), COALESCE(cancellation_reason, ''), COALESCE(ended_by, ''),
meeting_id, external_meeting_id, media_region, media_placement,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                             Session
		bookingType, status           string
		meetingID, externalID, region sql.NullString
		placement                     []byte
	)
	if err := row.Scan(
		&s.ID, &bookingType, &s.CallerID, &s.CalleeID, &s.ExternalRef, &s.OrgID, &status,
		&s.ScheduledStart, &s.ScheduledEnd, &s.DurationMinutes, &s.ActualStart, &s.ActualEnd,
		&s.Reason, &s.Notes, &s.QualityRating,
		&s.CallerJoinedAt, &s.CalleeJoinedAt, &s.CallerLeftAt, &s.CalleeLeftAt,
		&s.CancelledAt, &s.CancelledBy, &s.CancellationReason, &s.EndedBy,
		&meetingID, &externalID, &region, &placement,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.BookingType = BookingType(bookingType)
	s.Status = Status(status)

	if meetingID.Valid && meetingID.String != "" {
		h := meeting.Handle{MeetingID: meetingID.String, ExternalMeetingID: externalID.String, Region: region.String}
		if len(placement) > 0 {
			if err := json.Unmarshal(placement, &h.Endpoints); err != nil {
				return Session{}, fmt.Errorf("decode media placement for %s: %w", s.ID, err)
			}
		}
		s.Meeting = &h
	}
	return s, nil
}

func meetingColumns(s Session) (any, any, any, any, error) {
	if s.Meeting == nil {
		return nil, nil, nil, nil, nil
	}
	placement, err := json.Marshal(s.Meeting.Endpoints)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return s.Meeting.MeetingID, s.Meeting.ExternalMeetingID, s.Meeting.Region, placement, nil
}

func insertSession(ctx context.Context, tx *sql.Tx, s Session) error {
	const q = `
INSERT INTO sessions (
  id, booking_type, caller_id, callee_id, external_ref, org_id, status,
  scheduled_start, scheduled_end, duration_minutes, reason, notes, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,NULLIF($5, ''),NULLIF($6, ''),$7,$8,$9,$10,$11,$12,$13,$14
)
`
	_, err := tx.ExecContext(ctx, q,
		s.ID, string(s.BookingType), s.CallerID, s.CalleeID, s.ExternalRef, s.OrgID, string(s.Status),
		s.ScheduledStart, s.ScheduledEnd, s.DurationMinutes, s.Reason, s.Notes, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// updateSession writes every mutable column. The meeting columns are only written
// while still NULL so the first handle always wins.
func updateSession(ctx context.Context, tx *sql.Tx, s Session) error {
	mID, extID, region, placement, err := meetingColumns(s)
	if err != nil {
		return err
	}
	const q = `
UPDATE sessions SET
  status = $2,
  actual_start = $3,
  actual_end = $4,
  notes = $5,
  quality_rating = $6,
  caller_joined_at = $7,
  callee_joined_at = $8,
  caller_left_at = $9,
  callee_left_at = $10,
  cancelled_at = $11,
  cancelled_by = NULLIF($12, ''),
  cancellation_reason = NULLIF($13, ''),
  ended_by = NULLIF($14, ''),
  meeting_id = COALESCE(meeting_id, $15),
  external_meeting_id = COALESCE(external_meeting_id, $16),
  media_region = COALESCE(media_region, $17),
  media_placement = COALESCE(media_placement, $18),
  updated_at = $19
WHERE id = $1
`
	res, err := tx.ExecContext(ctx, q,
		s.ID, string(s.Status), s.ActualStart, s.ActualEnd, s.Notes, s.QualityRating,
		s.CallerJoinedAt, s.CalleeJoinedAt, s.CallerLeftAt, s.CalleeLeftAt,
		s.CancelledAt, s.CancelledBy, s.CancellationReason, s.EndedBy,
		mID, extID, region, placement,
		s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func lockSession(ctx context.Context, tx *sql.Tx, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	return scanSession(tx.QueryRowContext(ctx, q, id))
}

const attendeeColumns = `
id, session_id, participant_id, role, COALESCE(provider_attendee_id, ''), COALESCE(external_user_id, ''),
COALESCE(join_token, ''), joined_at, left_at, is_active,
COALESCE(device_type, ''), COALESCE(client_info, ''), COALESCE(ip_address, ''), created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadAttendees(ctx context.Context, q queryer, sessionID string) ([]Attendee, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+attendeeColumns+` FROM session_attendees WHERE session_id = $1 ORDER BY created_at, participant_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Attendee{}
	for rows.Next() {
		var a Attendee
		var role string
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.ParticipantID, &role, &a.ProviderAttendeeID, &a.ExternalUserID,
			&a.JoinToken, &a.JoinedAt, &a.LeftAt, &a.Active,
			&a.DeviceType, &a.ClientInfo, &a.IPAddress, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.Role = Role(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

func upsertAttendee(ctx context.Context, tx *sql.Tx, a Attendee) error {
	const q = `
INSERT INTO session_attendees (
  id, session_id, participant_id, role, provider_attendee_id, external_user_id, join_token,
  joined_at, left_at, is_active, device_type, client_info, ip_address, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,NULLIF($5, ''),NULLIF($6, ''),NULLIF($7, ''),$8,$9,$10,NULLIF($11, ''),NULLIF($12, ''),NULLIF($13, ''),$14,$15
)
ON CONFLICT (session_id, participant_id) DO UPDATE SET
  provider_attendee_id = COALESCE(session_attendees.provider_attendee_id, EXCLUDED.provider_attendee_id),
  external_user_id = COALESCE(session_attendees.external_user_id, EXCLUDED.external_user_id),
  join_token = COALESCE(session_attendees.join_token, EXCLUDED.join_token),
  joined_at = EXCLUDED.joined_at,
  left_at = EXCLUDED.left_at,
  is_active = EXCLUDED.is_active,
  device_type = COALESCE(EXCLUDED.device_type, session_attendees.device_type),
  client_info = COALESCE(EXCLUDED.client_info, session_attendees.client_info),
  ip_address = COALESCE(EXCLUDED.ip_address, session_attendees.ip_address),
  updated_at = EXCLUDED.updated_at
`
	_, err := tx.ExecContext(ctx, q,
		a.ID, a.SessionID, a.ParticipantID, string(a.Role), a.ProviderAttendeeID, a.ExternalUserID, a.JoinToken,
		a.JoinedAt, a.LeftAt, a.Active, a.DeviceType, a.ClientInfo, a.IPAddress, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, s Session, fn TxFunc) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertSession(ctx, tx, s); err != nil {
			if utils.IsUniqueViolation(err) {
				return fmt.Errorf("session %s already exists: %w", s.ID, err)
			}
			return err
		}
		if fn == nil {
			return nil
		}
		return fn(ctx, &pgTx{tx: tx, session: s, attendees: map[string]Attendee{}})
	})
}

func (p *PostgresStore) Update(ctx context.Context, id string, fn TxFunc) (Session, error) {
	var out Session
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := utils.SetLockTimeout(ctx, tx, p.lockTimeout); err != nil {
			return err
		}
		s, err := lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		attendees, err := loadAttendees(ctx, tx, id)
		if err != nil {
			return err
		}
		t := &pgTx{tx: tx, session: s, attendees: make(map[string]Attendee, len(attendees))}
		for _, a := range attendees {
			t.attendees[a.ParticipantID] = a
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		out = t.session
		return nil
	})
	if err != nil {
		if utils.IsLockTimeout(err) {
			return Session{}, fmt.Errorf("session %s is busy: %w", id, err)
		}
		return Session{}, err
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(p.db.QueryRowContext(ctx, q, id))
}

func (p *PostgresStore) Attendees(ctx context.Context, sessionID string) ([]Attendee, error) {
	if _, err := p.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return loadAttendees(ctx, p.db, sessionID)
}

func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]Session, int, error) {
	f = f.normalized()
	where, args := listWhere(f)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM sessions%s ORDER BY scheduled_start DESC, id DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, where, len(args)+1, len(args)+2)
	rows, err := p.db.QueryContext(ctx, q, append(args, f.PageSize, f.offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func listWhere(f ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ParticipantID != "" {
		switch f.Role {
		case RoleCaller:
			conds = append(conds, "caller_id = "+arg(f.ParticipantID))
		case RoleCallee:
			conds = append(conds, "callee_id = "+arg(f.ParticipantID))
		default:
			p := arg(f.ParticipantID)
			conds = append(conds, "(caller_id = "+p+" OR callee_id = "+p+")")
		}
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.OrgID != "" {
		conds = append(conds, "org_id = "+arg(f.OrgID))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (p *PostgresStore) Events(ctx context.Context, sessionID string) ([]audit.Event, error) {
	return p.events.ListBySession(ctx, sessionID)
}

func (p *PostgresStore) DueForNoShow(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	const q = `
SELECT id
FROM sessions
WHERE status IN ('SCHEDULED', 'WAITING') AND scheduled_end < $1
ORDER BY scheduled_end ASC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgTx struct {
	tx        *sql.Tx
	session   Session
	attendees map[string]Attendee
}

func (t *pgTx) Session() Session { return t.session }

func (t *pgTx) Attendee(participantID string) (Attendee, bool) {
	a, ok := t.attendees[participantID]
	return a, ok
}

func (t *pgTx) Attendees() []Attendee { return sortedAttendees(t.attendees) }

func (t *pgTx) Save(ctx context.Context, s Session) error {
	if s.ID != t.session.ID {
		return errors.New("session: save of a different session inside transaction")
	}
	if err := updateSession(ctx, t.tx, s); err != nil {
		return err
	}
	t.session = s
	return nil
}

func (t *pgTx) SaveAttendee(ctx context.Context, a Attendee) error {
	if a.SessionID != t.session.ID {
		return errors.New("session: attendee belongs to a different session")
	}
	if err := upsertAttendee(ctx, t.tx, a); err != nil {
		return err
	}
	t.attendees[a.ParticipantID] = a
	return nil
}

func (t *pgTx) Append(ctx context.Context, e audit.Event) error {
	return audit.InsertEvent(ctx, t.tx, e)
}

func (t *pgTx) RecordUsage(ctx context.Context, s usage.Sample) error {
	return usage.InsertSample(ctx, t.tx, s)
}
