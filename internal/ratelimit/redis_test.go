package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	limiter, err := NewRedisLimiter("redis://"+s.Addr(), limit, window)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter, s
}

func TestNewRedisLimiter(t *testing.T) {
	limiter, s := setupTestLimiter(t, 3, time.Minute)

	res, err := limiter.Allow(context.Background(), "192.0.2.1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !res.Allowed || res.Remaining != 2 {
		t.Fatalf("unexpected first hit: %+v", res)
	}
	if len(s.Keys()) != 1 {
		t.Fatalf("expected one window key, got %v", s.Keys())
	}
}

func TestNewRedisLimiterUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	if _, err := NewRedisLimiter("redis://"+addr, 1, time.Minute); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestNewRedisLimiterBadURL(t *testing.T) {
	if _, err := NewRedisLimiter("not a url", 1, time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAllowBlocksOverBudget(t *testing.T) {
	limiter, _ := setupTestLimiter(t, 2, time.Minute)
	now := time.Date(2026, 10, 14, 12, 0, 10, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "192.0.2.1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d should be allowed", i+1)
		}
		if res.Remaining != 1-i {
			t.Errorf("hit %d: expected remaining %d, got %d", i+1, 1-i, res.Remaining)
		}
	}

	res, err := limiter.Allow(ctx, "192.0.2.1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("third hit should be blocked")
	}
	if res.RetryAfter != 50*time.Second {
		t.Errorf("expected retry after 50s, got %s", res.RetryAfter)
	}

	other, err := limiter.Allow(ctx, "192.0.2.2")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !other.Allowed {
		t.Fatal("other clients have their own budget")
	}
}

func TestAllowResetsInNextWindow(t *testing.T) {
	limiter, _ := setupTestLimiter(t, 1, time.Minute)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	if res, _ := limiter.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("first hit should be allowed")
	}
	if res, _ := limiter.Allow(ctx, "k"); res.Allowed {
		t.Fatal("second hit should be blocked")
	}

	now = now.Add(time.Minute)
	if res, _ := limiter.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("hit in the next window should be allowed")
	}
}

func TestAllowSetsExpiry(t *testing.T) {
	limiter, s := setupTestLimiter(t, 5, 30*time.Second)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if _, err := limiter.Allow(context.Background(), "k"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	key := "ratelimit:k:" + "1791979200"
	if !s.Exists(key) {
		t.Fatalf("expected key %s, have %v", key, s.Keys())
	}
	if ttl := s.TTL(key); ttl != 30*time.Second {
		t.Errorf("expected ttl 30s, got %s", ttl)
	}

	s.FastForward(31 * time.Second)
	if s.Exists(key) {
		t.Fatal("window key should expire")
	}
}

func TestAllowReportsRedisFailure(t *testing.T) {
	limiter, s := setupTestLimiter(t, 1, time.Minute)
	s.Close()

	res, err := limiter.Allow(context.Background(), "k")
	if err == nil {
		t.Fatal("expected error when redis is down")
	}
	if !res.Allowed {
		t.Fatal("failures must leave the request allowed")
	}
}
