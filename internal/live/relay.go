package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"consultation-service/internal/events"
)

// DefaultChannel is the Redis pub/sub channel shared by all instances.
const DefaultChannel = "consultation:live"

// RedisRelay carries live notifications between instances. Publish sends to
// Redis; Run receives from Redis and hands every message to the local hub,
// including the ones this instance published.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, hub *Hub, log *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{rdb: rdb, channel: channel, hub: hub, log: log}
}

var _ events.Notifier = (*RedisRelay)(nil)

func (r *RedisRelay) Publish(ctx context.Context, env events.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("live relay: encode: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("live relay: publish: %w", err)
	}
	return nil
}

// Run subscribes until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("live relay: subscribe %s: %w", r.channel, err)
	}
	r.log.Info("live relay subscribed", "channel", r.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, payload string) {
	var env events.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn("live relay: dropping malformed message", "err", err)
		return
	}
	_ = r.hub.Publish(ctx, env)
}
