package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publishChannel is the subset of *amqp.Channel the publisher needs.
type publishChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// dialTimeout bounds the TCP connect when the publisher reconnects.
const dialTimeout = 5 * time.Second

// RabbitPublisher publishes envelopes as persistent JSON messages on a durable topic exchange.
// A closed channel (or connection) is reopened on the next publish. Only one caller
// redials at a time; the others wait for it or give up when their context ends.
type RabbitPublisher struct {
	exchange string

	mu sync.Mutex
	ch publishChannel

	// dialing is a one-slot semaphore guarding open and conn.
	dialing chan struct{}
	open    func() (publishChannel, error)

	url  string
	conn *amqp.Connection
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	p := &RabbitPublisher{url: url, exchange: exchange, dialing: make(chan struct{}, 1)}
	p.open = p.dialChannel

	ctx, cancel := context.WithTimeout(context.Background(), 2*dialTimeout)
	defer cancel()
	if _, err := p.channel(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func newPublisherWithOpener(exchange string, open func() (publishChannel, error)) *RabbitPublisher {
	return &RabbitPublisher{exchange: exchange, open: open, dialing: make(chan struct{}, 1)}
}

func (p *RabbitPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrPublish, env.EventType, err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublish, env.EventType, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    env.Timestamp,
		Type:         string(env.EventType),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, env.RoutingKey(), false, false, msg); err != nil {
		if ch.IsClosed() {
			p.forget(ch)
		}
		return fmt.Errorf("%w: %s: %v", ErrPublish, env.EventType, err)
	}
	return nil
}

func (p *RabbitPublisher) current() publishChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch
	}
	return nil
}

func (p *RabbitPublisher) forget(ch publishChannel) {
	p.mu.Lock()
	if p.ch == ch {
		p.ch = nil
	}
	p.mu.Unlock()
}

// channel returns the open channel, redialing outside p.mu when it is gone.
func (p *RabbitPublisher) channel(ctx context.Context) (publishChannel, error) {
	if ch := p.current(); ch != nil {
		return ch, nil
	}

	select {
	case p.dialing <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for reconnect: %w", ctx.Err())
	}
	defer func() { <-p.dialing }()

	// Someone else may have reconnected while we waited.
	if ch := p.current(); ch != nil {
		return ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}

	p.mu.Lock()
	p.ch = ch
	p.mu.Unlock()
	return ch, nil
}

// dialChannel runs with the dialing slot held.
func (p *RabbitPublisher) dialChannel() (publishChannel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.DialConfig(p.url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(dialTimeout),
		})
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		p.conn = conn
	}
	return p.conn.Channel()
}

func (p *RabbitPublisher) Close() error {
	p.dialing <- struct{}{}
	defer func() { <-p.dialing }()

	p.mu.Lock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	p.mu.Unlock()

	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// DeclareExchange declares the durable topic exchange used for lifecycle events.
func DeclareExchange(ch interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}
