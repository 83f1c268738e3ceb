package events

import "time"

// Type is both the envelope event_type and the topic routing key.
type Type string

const (
	SessionCreated        Type = "video.session.created"
	SessionStarted        Type = "video.session.started"
	SessionEnded          Type = "video.session.ended"
	SessionCancelled      Type = "video.session.cancelled"
	SessionNoShow         Type = "video.session.no_show"
	SessionCreationFailed Type = "video.session.creation_failed"
	UserJoined            Type = "video.user.joined"
	UserLeft              Type = "video.user.left"

	// ConsultationCompleted lives in the appointments namespace so the appointments service receives it.
	ConsultationCompleted Type = "appointment.consultation.completed"
)

// Envelope is the self-contained message published to the bus.
type Envelope struct {
	EventType Type           `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// New builds an envelope stamped in UTC.
func New(t Type, at time.Time, payload map[string]any) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{EventType: t, Timestamp: at.UTC(), Payload: payload}
}

// RoutingKey is the topic key the envelope is published under.
func (e Envelope) RoutingKey() string { return string(e.EventType) }
