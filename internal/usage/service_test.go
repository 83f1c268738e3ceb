package usage

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubRepo struct {
	totals  Totals
	created int
	live    int

	from, to time.Time
	err      error
}

func (r *stubRepo) SumUsage(ctx context.Context, from, to time.Time) (Totals, error) {
	r.from, r.to = from, to
	return r.totals, r.err
}

func (r *stubRepo) CountSessionsCreated(ctx context.Context, from, to time.Time) (int, error) {
	return r.created, nil
}

func (r *stubRepo) CountLiveSessions(ctx context.Context) (int, error) { return r.live, nil }

func TestMinutes(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		leave time.Time
		want  int
	}{
		{"thirty seconds bills one", base.Add(30 * time.Second), 1},
		{"three minutes ten", base.Add(3*time.Minute + 10*time.Second), 3},
		{"exact minute", base.Add(time.Minute), 1},
		{"zero", base, 1},
		{"clock skew", base.Add(-time.Minute), 1},
		{"long", base.Add(45*time.Minute + 59*time.Second), 45},
	}
	for _, tc := range cases {
		if got := Minutes(base, tc.leave); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestMonthly_DefaultsToCurrentMonth(t *testing.T) {
	repo := &stubRepo{totals: Totals{Minutes: 250, Sessions: 5}, created: 7, live: 2}
	now := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)
	svc := NewService(repo, 1000).WithClock(func() time.Time { return now })

	out, err := svc.Monthly(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if out.Year != 2024 || out.Month != 2 {
		t.Fatalf("expected 2024-02, got %d-%d", out.Year, out.Month)
	}
	if !repo.from.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) || !repo.to.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected range %s - %s", repo.from, repo.to)
	}
	if out.Remaining != 750 || out.SessionsCreated != 7 || out.LiveSessions != 2 {
		t.Fatalf("unexpected report: %+v", out)
	}
	if out.PercentUsed == nil || *out.PercentUsed != 25 {
		t.Fatalf("expected 25%% used, got %v", out.PercentUsed)
	}
	if out.AverageSessionMinutes != 50 {
		t.Fatalf("expected average 50, got %v", out.AverageSessionMinutes)
	}
}

func TestMonthly_RemainingNeverNegative(t *testing.T) {
	repo := &stubRepo{totals: Totals{Minutes: 1200}}
	svc := NewService(repo, 1000)

	out, err := svc.Monthly(context.Background(), 2024, 12)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if out.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", out.Remaining)
	}
	if !repo.to.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected december to roll into next year, got %s", repo.to)
	}
}

func TestMonthly_ZeroCapOmitsPercentage(t *testing.T) {
	svc := NewService(&stubRepo{totals: Totals{Minutes: 10}}, 0)

	out, err := svc.Monthly(context.Background(), 2024, 1)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if out.PercentUsed != nil {
		t.Fatalf("expected no percentage when cap is 0")
	}
	if out.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", out.Remaining)
	}
}

func TestMonthly_RoundsPercentage(t *testing.T) {
	svc := NewService(&stubRepo{totals: Totals{Minutes: 1, Sessions: 1}}, 3)

	out, err := svc.Monthly(context.Background(), 2024, 1)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if out.PercentUsed == nil || *out.PercentUsed != 33.33 {
		t.Fatalf("expected 33.33, got %v", out.PercentUsed)
	}
}

func TestMonthly_RejectsInvalidMonth(t *testing.T) {
	svc := NewService(&stubRepo{}, 1000)
	if _, err := svc.Monthly(context.Background(), 2024, 13); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestMonthly_PropagatesRepoError(t *testing.T) {
	svc := NewService(&stubRepo{err: errors.New("db down")}, 1000)
	if _, err := svc.Monthly(context.Background(), 2024, 1); err == nil {
		t.Fatalf("expected error")
	}
}
