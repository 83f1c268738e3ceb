package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"consultation-service/internal/audit"
	"consultation-service/internal/events"
	"consultation-service/internal/meeting"
	"consultation-service/internal/usage"
	"consultation-service/pkg/logger"
)

// SystemActor is recorded for transitions made by the service itself (sweeper, bus commands).
const SystemActor = "system"

// Config holds the lifecycle policy knobs.
type Config struct {
	MinDurationMinutes     int
	MaxDurationMinutes     int
	DefaultDurationMinutes int

	// NoShowGrace is how long after ScheduledEnd an unstarted session becomes NO_SHOW.
	NoShowGrace time.Duration
	// ProvisionLockTTL bounds how long the provisioning lock is held without renewal.
	ProvisionLockTTL time.Duration

	// PublicURL, when set, adds a join_url to the created notification.
	PublicURL string

	// NotifyBuffer bounds queued notifications; NotifyTimeout bounds each delivery.
	NotifyBuffer  int
	NotifyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinDurationMinutes <= 0 {
		c.MinDurationMinutes = 15
	}
	if c.MaxDurationMinutes <= 0 {
		c.MaxDurationMinutes = 120
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = 30
	}
	if c.NoShowGrace <= 0 {
		c.NoShowGrace = 15 * time.Minute
	}
	if c.ProvisionLockTTL <= 0 {
		c.ProvisionLockTTL = 30 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 2 * time.Second
	}
	return c
}

// Engine is the single entry point for session mutations.
//
// Every operation consults the transition table before any side effect, performs
// provider calls outside the row lock, and re-validates once the lock is held.
// Notifications are queued after commit, delivered off the caller's path and never fail the operation.
type Engine struct {
	store    Store
	provider meeting.Provider
	notifier events.Notifier
	dispatch *events.Dispatcher
	locker   Locker
	usage    *usage.Service

	cfg      Config
	validate *validator.Validate
	clock    func() time.Time
	log      *slog.Logger
}

type Option func(*Engine)

func WithNotifier(n events.Notifier) Option { return func(e *Engine) { e.notifier = n } }
func WithLocker(l Locker) Option            { return func(e *Engine) { e.locker = l } }
func WithUsage(u *usage.Service) Option     { return func(e *Engine) { e.usage = u } }
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func NewEngine(store Store, provider meeting.Provider, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		provider: provider,
		notifier: events.Nop{},
		locker:   NewLocalLocker(),
		cfg:      cfg.withDefaults(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatch = events.NewDispatcher(e.notifier, e.log, e.cfg.NotifyBuffer, e.cfg.NotifyTimeout)
	return e
}

// FlushNotifications waits until every notification queued so far has been delivered.
func (e *Engine) FlushNotifications(ctx context.Context) error {
	return e.dispatch.Flush(ctx)
}

// Close stops accepting notifications and drains the queue until ctx ends.
func (e *Engine) Close(ctx context.Context) error {
	return e.dispatch.Close(ctx)
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

func (e *Engine) logger(ctx context.Context) *slog.Logger {
	if l := logger.From(ctx); l != slog.Default() {
		return l
	}
	return e.log
}

// Create schedules a new session in SCHEDULED.
func (e *Engine) Create(ctx context.Context, in CreateInput) (Session, error) {
	if in.DurationMinutes == 0 {
		in.DurationMinutes = e.cfg.DefaultDurationMinutes
	}
	if err := e.validate.Struct(in); err != nil {
		return Session{}, validationError(err)
	}
	if in.DurationMinutes < e.cfg.MinDurationMinutes || in.DurationMinutes > e.cfg.MaxDurationMinutes {
		return Session{}, fmt.Errorf("%w: duration_minutes must be between %d and %d",
			ErrValidation, e.cfg.MinDurationMinutes, e.cfg.MaxDurationMinutes)
	}
	if in.BookingType == BookingClinic && strings.TrimSpace(in.ExternalRef) == "" {
		return Session{}, fmt.Errorf("%w: clinic bookings require an external booking reference", ErrValidation)
	}

	now := e.now()
	start := in.ScheduledStart.UTC()
	s := Session{
		ID:              uuid.NewString(),
		BookingType:     in.BookingType,
		CallerID:        in.CallerID,
		CalleeID:        in.CalleeID,
		ExternalRef:     strings.TrimSpace(in.ExternalRef),
		OrgID:           in.OrgID,
		Status:          StatusScheduled,
		ScheduledStart:  start,
		ScheduledEnd:    start.Add(time.Duration(in.DurationMinutes) * time.Minute),
		DurationMinutes: in.DurationMinutes,
		Reason:          in.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := e.store.Create(ctx, s, func(ctx context.Context, tx Tx) error {
		return e.auditor(tx).Record(ctx, s.ID, audit.KindSessionCreated, "", "Consultation session scheduled")
	})
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}

	e.logger(ctx).Info("session created", "session_id", s.ID, "booking_type", s.BookingType)
	payload := map[string]any{
		"session_id":           s.ID,
		"caller_id":            s.CallerID,
		"callee_id":            s.CalleeID,
		"external_ref":         s.ExternalRef,
		"booking_type":         string(s.BookingType),
		"scheduled_start_time": s.ScheduledStart,
		"scheduled_end_time":   s.ScheduledEnd,
	}
	if e.cfg.PublicURL != "" {
		payload["join_url"] = e.cfg.PublicURL + "/sessions/" + s.ID + "/join"
	}
	e.notify(ctx, events.SessionCreated, payload)
	return s, nil
}

// Get returns a session by id.
func (e *Engine) Get(ctx context.Context, id string) (Session, error) {
	return e.store.Get(ctx, id)
}

// Attendees returns the attendee records of a session.
func (e *Engine) Attendees(ctx context.Context, id string) ([]Attendee, error) {
	return e.store.Attendees(ctx, id)
}

// Events returns the audit trail of a session in order.
func (e *Engine) Events(ctx context.Context, id string) ([]audit.Event, error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Events(ctx, id)
}

// List returns one page of sessions ordered by scheduled start, newest first.
func (e *Engine) List(ctx context.Context, f ListFilter) (Page, error) {
	if f.Role != "" && f.Role != RoleCaller && f.Role != RoleCallee {
		return Page{}, fmt.Errorf("%w: role must be CALLER or CALLEE", ErrValidation)
	}
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	f = f.normalized()
	sessions, total, err := e.store.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return Page{Sessions: sessions, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// UsageMetrics returns the monthly usage report. Zero year/month select the current month.
func (e *Engine) UsageMetrics(ctx context.Context, year, month int) (usage.Report, error) {
	if e.usage == nil {
		return usage.Report{}, errors.New("usage metering not configured")
	}
	r, err := e.usage.Monthly(ctx, year, month)
	if errors.Is(err, usage.ErrInvalidRequest) {
		return usage.Report{}, fmt.Errorf("%w: year/month out of range", ErrValidation)
	}
	return r, err
}

func (e *Engine) auditor(tx Tx) *audit.Service {
	return audit.NewServiceWithClock(tx, e.now)
}

func (e *Engine) notify(ctx context.Context, t events.Type, payload map[string]any) {
	if err := e.dispatch.Publish(ctx, events.New(t, e.now(), payload)); err != nil {
		e.logger(ctx).Warn("event dropped", "event_type", string(t), "err", err)
	}
}

// requireActor rejects anonymous mutations.
func requireActor(actor string) error {
	a := strings.TrimSpace(actor)
	if a == "" || strings.EqualFold(a, "unknown") {
		return fmt.Errorf("%w: an identified actor is required", ErrValidation)
	}
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
