package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "k", time.Second)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
	if len(l.keys) != 0 {
		t.Fatalf("expected key bookkeeping to be released, got %d", len(l.keys))
	}
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a", time.Second)
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b", time.Second)
	if err != nil {
		t.Fatalf("lock b should not wait on a: %v", err)
	}
	unlockB()
}

func TestLocalLocker_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocalLocker()
	unlock, _ := l.Lock(context.Background(), "k", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	release, err := l.Lock(ctx, "k", time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	release()

	unlock()
	unlock()
	if _, err := l.Lock(context.Background(), "k", time.Second); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
}
