package session

import (
	"context"
	"testing"

	"consultation-service/internal/events"
)

func TestAppointmentCommands(t *testing.T) {
	h := newHarness(t)
	cmds := AppointmentCommands{Engine: h.engine}
	ctx := context.Background()

	id, err := cmds.CreateForAppointment(ctx, events.VideoRequest{
		AppointmentID:  "apt-7",
		CallerID:       "doc-1",
		CalleeID:       "pat-1",
		OrgID:          "clinic-9",
		ChiefComplaint: "persistent cough",
	}, scenarioStart)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s, _ := h.engine.Get(ctx, id)
	if s.BookingType != BookingDirect || s.ExternalRef != "apt-7" || s.OrgID != "clinic-9" || s.Reason != "persistent cough" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.DurationMinutes != 30 {
		t.Fatalf("expected default duration, got %d", s.DurationMinutes)
	}

	if err := cmds.StartMeeting(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := cmds.EndSession(ctx, id, "", "closed by scheduler"); err != nil {
		t.Fatalf("end: %v", err)
	}
	s, _ = h.engine.Get(ctx, id)
	if s.Status != StatusCompleted || s.EndedBy != SystemActor || s.Notes != "closed by scheduler" {
		t.Fatalf("unexpected ended session: %+v", s)
	}
	if h.notified(t).Count(events.ConsultationCompleted) != 1 {
		t.Fatalf("expected consultation completed notification")
	}
}

func TestAppointmentCommands_InvalidCreate(t *testing.T) {
	h := newHarness(t)
	_, err := AppointmentCommands{Engine: h.engine}.CreateForAppointment(context.Background(), events.VideoRequest{
		AppointmentID: "apt-8", CallerID: "doc-1",
	}, scenarioStart)
	if KindOf(err) != KindValidation || IsRetryable(err) {
		t.Fatalf("expected permanent validation failure, got %v", err)
	}
}
