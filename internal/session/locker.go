package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"consultation-service/pkg/utils"
)

// Locker serialises meeting provisioning for one session across callers.
// It narrows the window for duplicate provider calls; the row lock and the
// provider idempotency token are what keep the data correct.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

var ErrLockBusy = errors.New("session: lock busy")

func noop() {}

// LocalLocker is an in-process per-key mutex.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localKey
}

type localKey struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*localKey)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &localKey{ch: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-k.ch
				l.done(key, k)
			})
		}, nil
	case <-ctx.Done():
		l.done(key, k)
		return noop, ctx.Err()
	}
}

func (l *LocalLocker) done(key string, k *localKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

// RedisLocker is a distributed lock built on SET NX PX and Lua compare-and-delete.
// While held, the lock is extended every ttl/2 until unlock.
type RedisLocker struct {
	rdb  *redis.Client
	wait time.Duration
	poll time.Duration
}

// NewRedisLocker returns a locker that waits up to wait for a busy key.
func NewRedisLocker(rdb *redis.Client, wait time.Duration) *RedisLocker {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{rdb: rdb, wait: wait, poll: 50 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := utils.AcquireLock(ctx, l.rdb, key, token, ttl)
		if err != nil {
			return noop, err
		}
		if ok {
			return l.hold(key, token, ttl), nil
		}
		if time.Now().After(deadline) {
			return noop, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return noop, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *RedisLocker) hold(key, token string, ttl time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(ttl / 2)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), ttl/2)
				held, err := utils.ExtendLock(ctx, l.rdb, key, token, ttl)
				cancel()
				if err != nil || !held {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = utils.ReleaseLock(ctx, l.rdb, key, token)
		})
	}
}
