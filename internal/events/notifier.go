package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPublish wraps every delivery failure. Callers log it; it never fails the operation that produced the event.
var ErrPublish = errors.New("events: publish failed")

// Notifier delivers lifecycle envelopes to downstream consumers.
type Notifier interface {
	Publish(ctx context.Context, env Envelope) error
}

// Nop drops every envelope. Used when the bus is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

// Logged writes every envelope to Log. Used in place of the bus when RABBITMQ_URL is unset.
type Logged struct {
	Log *slog.Logger
}

func (l Logged) Publish(ctx context.Context, env Envelope) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "event", "event_type", string(env.EventType), "payload", env.Payload)
	return nil
}

// Fanout publishes to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPublish, errors.Join(errs...))
}

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu   sync.Mutex
	envs []Envelope

	// Err, when set, is returned (wrapped) from Publish after recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	if r.Err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, r.Err)
	}
	return nil
}

func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

func (r *Recorder) Types() []Type {
	envs := r.Envelopes()
	out := make([]Type, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.EventType)
	}
	return out
}

// Count returns how many envelopes of type t were published.
func (r *Recorder) Count(t Type) int {
	n := 0
	for _, e := range r.Envelopes() {
		if e.EventType == t {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.envs = nil
	r.mu.Unlock()
}
