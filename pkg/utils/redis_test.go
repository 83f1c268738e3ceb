package utils

import (
	"context"
	"testing"
	"time"
)

func TestLockScriptsCompile(t *testing.T) {
	if lockReleaseScript == nil || lockExtendScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireLock_RejectsBadArgs(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireLock(ctx, nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := ReleaseLock(ctx, nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if got.PoolSize != 20 || got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
