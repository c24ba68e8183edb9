package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisThrottlerSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	throttler := NewRedisThrottler(client, "test:")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := throttler.Allow(ctx, "fn:acct-1", 2, time.Minute, testStart.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("expected start %d to be allowed", i)
		}
	}

	ok, wait, err := throttler.Allow(ctx, "fn:acct-1", 2, time.Minute, testStart.Add(10*time.Second))
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatalf("expected third start inside the window to be refused")
	}
	if wait != 50*time.Second {
		t.Fatalf("expected 50s until the oldest start expires, got %s", wait)
	}

	ok, _, err = throttler.Allow(ctx, "fn:acct-2", 2, time.Minute, testStart.Add(10*time.Second))
	if err != nil || !ok {
		t.Fatalf("expected other key to be independent, got ok=%v err=%v", ok, err)
	}

	ok, _, err = throttler.Allow(ctx, "fn:acct-1", 2, time.Minute, testStart.Add(61*time.Second))
	if err != nil || !ok {
		t.Fatalf("expected start after the window to be allowed, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryThrottlerMatchesRedisWindow(t *testing.T) {
	throttler := NewMemoryThrottler()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := throttler.Allow(ctx, "k", 2, time.Minute, testStart.Add(time.Duration(i)*time.Second)); !ok {
			t.Fatalf("expected start %d to be allowed", i)
		}
	}
	ok, wait, _ := throttler.Allow(ctx, "k", 2, time.Minute, testStart.Add(10*time.Second))
	if ok || wait != 50*time.Second {
		t.Fatalf("expected refusal with 50s wait, got ok=%v wait=%s", ok, wait)
	}
	if ok, _, _ := throttler.Allow(ctx, "k", 2, time.Minute, testStart.Add(61*time.Second)); !ok {
		t.Fatalf("expected start after the window to be allowed")
	}
}
