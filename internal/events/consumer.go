package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"consultation-service/pkg/logger"
)

// Inbound scheduling commands published by the appointments service.
const (
	CommandCreate = "appointment.video.create"
	CommandStart  = "appointment.video.start"
	CommandEnd    = "appointment.video.end"
)

// VideoRequest is the data block of an inbound scheduling command.
type VideoRequest struct {
	AppointmentID  string `json:"appointment_id"`
	SessionID      string `json:"session_id"`
	CallerID       string `json:"doctor_id"`
	CalleeID       string `json:"patient_id"`
	OrgID          string `json:"clinic_id"`
	ScheduledTime  string `json:"scheduled_time"`
	ChiefComplaint string `json:"chief_complaint"`
	EndedBy        string `json:"ended_by"`
	Notes          string `json:"notes"`
}

type inboundMessage struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Payload   json.RawMessage `json:"payload"`
}

// Commands is what the consumer drives. The session engine provides the implementation.
type Commands interface {
	CreateForAppointment(ctx context.Context, req VideoRequest, scheduledStart time.Time) (sessionID string, err error)
	StartMeeting(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID, endedBy, notes string) error
}

// Disposition is what happens to a delivery after handling.
type Disposition int

const (
	Ack Disposition = iota
	Requeue
)

var errMalformed = errors.New("events: malformed command")

// Consumer turns scheduling commands into engine calls.
// Malformed or permanently failing messages are acked and dropped; retryable failures are requeued.
type Consumer struct {
	cmds      Commands
	publisher Notifier
	retryable func(error) bool
	clock     func() time.Time
	log       *slog.Logger

	exchange string
	queue    string
}

type ConsumerConfig struct {
	Exchange string
	Queue    string

	// Retryable decides whether a failed command is requeued. Nil means never.
	Retryable func(error) bool
}

func NewConsumer(cmds Commands, publisher Notifier, cfg ConsumerConfig, log *slog.Logger) *Consumer {
	if publisher == nil {
		publisher = Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Consumer{
		cmds:      cmds,
		publisher: publisher,
		retryable: retryable,
		clock:     time.Now,
		log:       log,
		exchange:  cfg.Exchange,
		queue:     cfg.Queue,
	}
}

// Handle processes one delivery body. routingKey is used when the body carries no event_type.
func (c *Consumer) Handle(ctx context.Context, routingKey string, body []byte) Disposition {
	log := c.log.With("routing_key", routingKey)
	ctx = logger.With(ctx, log)

	kind, req, err := decodeCommand(routingKey, body)
	if err != nil {
		log.Warn("dropping malformed command", "err", err)
		return Ack
	}

	switch kind {
	case CommandCreate:
		err = c.handleCreate(ctx, req)
	case CommandStart:
		err = c.cmds.StartMeeting(ctx, req.SessionID)
	case CommandEnd:
		err = c.cmds.EndSession(ctx, req.SessionID, req.EndedBy, req.Notes)
	default:
		log.Warn("dropping unknown command", "event_type", kind)
		return Ack
	}

	if err == nil {
		return Ack
	}
	if c.retryable(err) {
		log.Error("command failed, requeueing", "event_type", kind, "err", err)
		return Requeue
	}
	log.Warn("command rejected", "event_type", kind, "err", err)
	return Ack
}

func (c *Consumer) handleCreate(ctx context.Context, req VideoRequest) error {
	start := c.clock().UTC()
	if req.ScheduledTime != "" {
		t, err := parseTime(req.ScheduledTime)
		if err != nil {
			return c.creationFailed(ctx, req, fmt.Errorf("%w: scheduled_time: %v", errMalformed, err))
		}
		start = t
	}

	sessionID, err := c.cmds.CreateForAppointment(ctx, req, start)
	if err != nil {
		if c.retryable(err) {
			return err
		}
		return c.creationFailed(ctx, req, err)
	}
	logger.From(ctx).Info("session created for appointment", "appointment_id", req.AppointmentID, "session_id", sessionID)
	return nil
}

func (c *Consumer) creationFailed(ctx context.Context, req VideoRequest, cause error) error {
	env := New(SessionCreationFailed, c.clock(), map[string]any{
		"appointment_id": req.AppointmentID,
		"error":          cause.Error(),
	})
	if err := c.publisher.Publish(ctx, env); err != nil {
		logger.From(ctx).Warn("publish creation failure", "appointment_id", req.AppointmentID, "err", err)
	}
	return cause
}

func decodeCommand(routingKey string, body []byte) (string, VideoRequest, error) {
	var msg inboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", VideoRequest{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	kind := msg.EventType
	if kind == "" {
		kind = routingKey
	}

	data := msg.Data
	if len(data) == 0 {
		data = msg.Payload
	}
	if len(data) == 0 {
		return "", VideoRequest{}, fmt.Errorf("%w: missing data", errMalformed)
	}
	var req VideoRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", VideoRequest{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	switch kind {
	case CommandCreate:
		if req.AppointmentID == "" || req.CallerID == "" || req.CalleeID == "" {
			return "", VideoRequest{}, fmt.Errorf("%w: appointment_id, doctor_id and patient_id are required", errMalformed)
		}
	case CommandStart, CommandEnd:
		if req.SessionID == "" {
			return "", VideoRequest{}, fmt.Errorf("%w: session_id is required", errMalformed)
		}
	}
	return kind, req, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// Run declares the queue, binds it to the command keys and consumes until ctx is done
// or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareExchange(ch, c.exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // auto-deleted
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	for _, key := range []string{CommandCreate, CommandStart, CommandEnd} {
		if err := ch.QueueBind(c.queue, key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	c.log.Info("consuming scheduling commands", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("events: delivery channel closed")
			}
			switch c.Handle(ctx, msg.RoutingKey, msg.Body) {
			case Requeue:
				_ = msg.Nack(false, true)
			default:
				_ = msg.Ack(false)
			}
		}
	}
}
