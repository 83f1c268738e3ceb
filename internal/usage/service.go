package usage

import (
	"context"
	"errors"
	"math"
	"time"
)

var ErrInvalidRequest = errors.New("usage: invalid request")

// Repository abstracts data access for usage aggregation.
// Implementations read immutable samples plus session bookkeeping.
type Repository interface {
	SumUsage(ctx context.Context, from, to time.Time) (Totals, error)
	CountSessionsCreated(ctx context.Context, from, to time.Time) (int, error)
	// CountLiveSessions counts sessions currently ACTIVE or WAITING.
	CountLiveSessions(ctx context.Context) (int, error)
}

type Service struct {
	repo  Repository
	cap   int
	clock func() time.Time
}

func NewService(repo Repository, monthlyCap int) *Service {
	return &Service{repo: repo, cap: monthlyCap, clock: time.Now}
}

// WithClock replaces the clock used for the "current month" default.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Monthly aggregates usage for year/month. Zero values default to the current UTC year/month.
func (s *Service) Monthly(ctx context.Context, year, month int) (Report, error) {
	if s.repo == nil {
		return Report{}, errors.New("usage: repository not configured")
	}
	now := s.clock().UTC()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	if month < 1 || month > 12 || year < 1970 || year > 9999 {
		return Report{}, ErrInvalidRequest
	}

	from, to := MonthRange(year, time.Month(month))

	totals, err := s.repo.SumUsage(ctx, from, to)
	if err != nil {
		return Report{}, err
	}
	created, err := s.repo.CountSessionsCreated(ctx, from, to)
	if err != nil {
		return Report{}, err
	}
	live, err := s.repo.CountLiveSessions(ctx)
	if err != nil {
		return Report{}, err
	}

	out := Report{
		Year:                year,
		Month:               month,
		AttendeeMinutesUsed: totals.Minutes,
		SessionsCreated:     created,
		LiveSessions:        live,
		MonthlyCap:          s.cap,
		Remaining:           remaining(s.cap, totals.Minutes),
	}
	if totals.Sessions > 0 {
		out.AverageSessionMinutes = round2(float64(totals.Minutes) / float64(totals.Sessions))
	}
	if s.cap > 0 {
		pct := round2(float64(totals.Minutes) / float64(s.cap) * 100)
		out.PercentUsed = &pct
	}
	return out, nil
}

func remaining(cap, used int) int {
	if used >= cap {
		return 0
	}
	return cap - used
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
