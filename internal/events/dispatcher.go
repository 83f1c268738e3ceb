package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultDispatchBuffer  = 256
	defaultDispatchTimeout = 2 * time.Second
)

// Dispatcher moves publishing off the caller's path. Envelopes are queued in a
// bounded buffer and delivered in order by one worker; each delivery gets its
// own deadline. A full queue drops the envelope and reports ErrPublish.
type Dispatcher struct {
	next    Notifier
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan dispatchJob
	done   chan struct{}
}

type dispatchJob struct {
	ctx     context.Context
	env     Envelope
	barrier chan struct{}
}

// NewDispatcher starts the delivery worker. Zero buffer or timeout selects the defaults.
func NewDispatcher(next Notifier, log *slog.Logger, buffer int, timeout time.Duration) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultDispatchBuffer
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	if next == nil {
		next = Nop{}
	}
	d := &Dispatcher{
		next:    next,
		timeout: timeout,
		log:     log,
		queue:   make(chan dispatchJob, buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues env and returns immediately.
func (d *Dispatcher) Publish(ctx context.Context, env Envelope) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("%w: %s: dispatcher closed", ErrPublish, env.EventType)
	}
	select {
	case d.queue <- dispatchJob{ctx: context.WithoutCancel(ctx), env: env}:
		return nil
	default:
		return fmt.Errorf("%w: %s: dispatch queue full", ErrPublish, env.EventType)
	}
}

// Flush waits until everything queued before the call has been delivered.
func (d *Dispatcher) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil
	}
	select {
	case d.queue <- dispatchJob{barrier: barrier}:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting envelopes and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j dispatchJob) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- d.next.Publish(ctx, j.env) }()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		// A notifier that ignores its context must not stall the queue.
		err = fmt.Errorf("%w: %s: %v", ErrPublish, j.env.EventType, ctx.Err())
	}
	if err != nil {
		d.log.Warn("event publish failed",
			"event_type", string(j.env.EventType), "session_id", j.env.Payload["session_id"], "err", err)
	}
}
