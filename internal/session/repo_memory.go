package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"consultation-service/internal/audit"
	"consultation-service/internal/usage"
)

// MemoryStore is an in-memory Store for local runs and tests.
// One mutex serialises all transactions. It also serves usage.Repository.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]Session
	attendees map[string]map[string]Attendee
	events    map[string][]audit.Event
	samples   []usage.Sample

	// FailCommit, when set, aborts the next transaction with this error after fn runs.
	FailCommit error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]Session),
		attendees: make(map[string]map[string]Attendee),
		events:    make(map[string][]audit.Event),
	}
}

var _ Store = (*MemoryStore)(nil)
var _ usage.Repository = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, s Session, fn TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return errors.New("session: duplicate id")
	}
	tx := m.begin(s, nil)
	if fn != nil {
		if err := fn(ctx, tx); err != nil {
			return err
		}
	}
	return m.commit(tx)
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn TxFunc) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	tx := m.begin(s, m.attendees[id])
	if err := fn(ctx, tx); err != nil {
		return Session{}, err
	}
	if err := m.commit(tx); err != nil {
		return Session{}, err
	}
	return tx.session, nil
}

func (m *MemoryStore) begin(s Session, attendees map[string]Attendee) *memTx {
	tx := &memTx{session: s, attendees: make(map[string]Attendee, len(attendees))}
	for k, a := range attendees {
		tx.attendees[k] = a
	}
	return tx
}

func (m *MemoryStore) commit(tx *memTx) error {
	if m.FailCommit != nil {
		err := m.FailCommit
		m.FailCommit = nil
		return err
	}
	id := tx.session.ID
	m.sessions[id] = tx.session
	if len(tx.attendees) > 0 {
		m.attendees[id] = tx.attendees
	}
	m.events[id] = append(m.events[id], tx.events...)
	m.samples = append(m.samples, tx.samples...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Attendees(_ context.Context, sessionID string) ([]Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return sortedAttendees(m.attendees[sessionID]), nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]Session, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f = f.normalized()
	var matched []Session
	for _, s := range m.sessions {
		if matches(s, f) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ScheduledStart.Equal(matched[j].ScheduledStart) {
			return matched[i].ScheduledStart.After(matched[j].ScheduledStart)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	from := f.offset()
	if from >= total {
		return []Session{}, total, nil
	}
	to := from + f.PageSize
	if to > total {
		to = total
	}
	return matched[from:to], total, nil
}

func matches(s Session, f ListFilter) bool {
	if f.ParticipantID != "" {
		switch f.Role {
		case RoleCaller:
			if s.CallerID != f.ParticipantID {
				return false
			}
		case RoleCallee:
			if s.CalleeID != f.ParticipantID {
				return false
			}
		default:
			if !s.IsParticipant(f.ParticipantID) {
				return false
			}
		}
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.OrgID != "" && s.OrgID != f.OrgID {
		return false
	}
	return true
}

func (m *MemoryStore) Events(_ context.Context, sessionID string) ([]audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	evs := m.events[sessionID]
	out := make([]audit.Event, len(evs))
	copy(out, evs)
	// Stable: events with equal timestamps keep append order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *MemoryStore) DueForNoShow(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Session
	for _, s := range m.sessions {
		if (s.Status == StatusScheduled || s.Status == StatusWaiting) && s.ScheduledEnd.Before(cutoff) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledEnd.Before(due[j].ScheduledEnd) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, s := range due {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// Samples returns every recorded usage sample.
func (m *MemoryStore) Samples() []usage.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]usage.Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

func (m *MemoryStore) SumUsage(_ context.Context, from, to time.Time) (usage.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t usage.Totals
	seen := map[string]bool{}
	for _, s := range m.samples {
		if s.RecordedAt.Before(from) || !s.RecordedAt.Before(to) {
			continue
		}
		t.Minutes += s.Minutes
		if !seen[s.SessionID] {
			seen[s.SessionID] = true
			t.Sessions++
		}
	}
	return t, nil
}

func (m *MemoryStore) CountSessionsCreated(_ context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !s.CreatedAt.Before(from) && s.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountLiveSessions(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive || s.Status == StatusWaiting {
			n++
		}
	}
	return n, nil
}

type memTx struct {
	session   Session
	attendees map[string]Attendee
	events    []audit.Event
	samples   []usage.Sample
}

func (t *memTx) Session() Session { return t.session }

func (t *memTx) Attendee(participantID string) (Attendee, bool) {
	a, ok := t.attendees[participantID]
	return a, ok
}

func (t *memTx) Attendees() []Attendee { return sortedAttendees(t.attendees) }

func (t *memTx) Save(_ context.Context, s Session) error {
	if s.ID != t.session.ID {
		return errors.New("session: save of a different session inside transaction")
	}
	t.session = s
	return nil
}

func (t *memTx) SaveAttendee(_ context.Context, a Attendee) error {
	if a.SessionID != t.session.ID {
		return errors.New("session: attendee belongs to a different session")
	}
	t.attendees[a.ParticipantID] = a
	return nil
}

func (t *memTx) Append(_ context.Context, e audit.Event) error {
	t.events = append(t.events, e)
	return nil
}

func (t *memTx) RecordUsage(_ context.Context, s usage.Sample) error {
	t.samples = append(t.samples, s)
	return nil
}

func sortedAttendees(in map[string]Attendee) []Attendee {
	out := make([]Attendee, 0, len(in))
	for _, a := range in {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ParticipantID < out[j].ParticipantID) })
	return out
}
