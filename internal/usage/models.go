package usage

import "time"

// Sample is one metered interval: a participant's connected time between a join and a leave.
// Samples are append-only.
type Sample struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	Minutes       int       `json:"attendee_minutes" db:"attendee_minutes"`
	RecordedAt    time.Time `json:"recorded_at" db:"recorded_at"`

	// SessionCompleted reflects the session status at the time of the leave.
	SessionCompleted bool `json:"session_completed" db:"session_completed"`
}

// Totals are the raw aggregates a Repository returns for a period.
type Totals struct {
	Minutes int
	// Sessions is the number of distinct sessions with at least one sample in the period.
	Sessions int
}

// Report is the monthly usage view.
type Report struct {
	Year  int `json:"year"`
	Month int `json:"month"`

	AttendeeMinutesUsed int `json:"attendee_minutes_used"`
	SessionsCreated     int `json:"sessions_created"`
	LiveSessions        int `json:"live_sessions"`

	AverageSessionMinutes float64 `json:"average_session_duration_minutes"`

	MonthlyCap int `json:"monthly_cap"`
	Remaining  int `json:"remaining_minutes"`
	// PercentUsed is only set when MonthlyCap > 0.
	PercentUsed *float64 `json:"percent_used,omitempty"`
}
