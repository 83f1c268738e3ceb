package session

import (
	"context"
	"time"

	"consultation-service/internal/events"
)

// AppointmentCommands adapts the engine to inbound scheduling commands from the bus.
type AppointmentCommands struct {
	Engine *Engine
}

var _ events.Commands = AppointmentCommands{}

func (c AppointmentCommands) CreateForAppointment(ctx context.Context, req events.VideoRequest, start time.Time) (string, error) {
	s, err := c.Engine.Create(ctx, CreateInput{
		BookingType:    BookingDirect,
		CallerID:       req.CallerID,
		CalleeID:       req.CalleeID,
		ExternalRef:    req.AppointmentID,
		OrgID:          req.OrgID,
		ScheduledStart: start,
		Reason:         req.ChiefComplaint,
	})
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (c AppointmentCommands) StartMeeting(ctx context.Context, sessionID string) error {
	_, err := c.Engine.StartMeeting(ctx, sessionID)
	return err
}

// EndSession ends on behalf of the appointments service. The bus is an authenticated
// channel, so an omitted ended_by is attributed to the system actor.
func (c AppointmentCommands) EndSession(ctx context.Context, sessionID, endedBy, notes string) error {
	if endedBy == "" {
		endedBy = SystemActor
	}
	_, err := c.Engine.End(ctx, EndInput{SessionID: sessionID, EndedBy: endedBy, Notes: notes})
	return err
}
