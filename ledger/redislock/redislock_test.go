package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, 5*time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if !mr.Exists("k") {
		t.Fatal("expected lock key to exist")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(waitCtx, "k", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second Lock to wait until deadline, got %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	if mr.Exists("k") {
		t.Fatal("expected lock key to be deleted")
	}

	unlock2, err := l.Lock(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
	_ = unlock2(ctx)
}

func TestUnlockDoesNotDeleteForeignHolder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, 0)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}

	// Expire the lock and let another holder take it.
	mr.FastForward(2 * time.Second)
	if err := mr.Set("k", "someone-else"); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	if err := unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if got, _ := mr.Get("k"); got != "someone-else" {
		t.Fatalf("expected foreign lock to survive, got %q", got)
	}
}

func TestLockRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, 0)
	mr.Close()

	if _, err := l.Lock(context.Background(), "k", time.Second); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
