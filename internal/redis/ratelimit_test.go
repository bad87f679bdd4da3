package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/store"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) *RateLimiter {
	t.Helper()
	client, _ := setupTestRedis(t)
	return NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  limit,
		Window: window,
	})
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
		if result.Limit != 5 {
			t.Errorf("expected limit 5, got %d", result.Limit)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "ip:10.0.0.1")
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "ip:a")
	}

	result, _ := limiter.Allow(ctx, "ip:b")
	if !result.Allowed {
		t.Fatal("ip:b should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter := setupTestRateLimiter(t, 10, time.Minute)
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "ip:a", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("should be allowed")
	}
	if result.Remaining != 5 {
		t.Errorf("expected remaining 5, got %d", result.Remaining)
	}

	result, _ = limiter.AllowN(ctx, "ip:a", 6)
	if result.Allowed {
		t.Fatal("should be blocked")
	}
}

func TestRateLimiter_UnavailableRedis(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: 1, Window: time.Minute})
	mr.Close()

	_, err := limiter.Allow(context.Background(), "ip:a")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	start := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	clock := start
	limiter.now = func() time.Time { return clock }

	limiter.Allow(ctx, "ip:a")
	clock = start.Add(20 * time.Second)
	limiter.Allow(ctx, "ip:a")

	result, _ := limiter.Allow(ctx, "ip:a")
	if result.Allowed {
		t.Fatal("third request inside the window should be blocked")
	}
	if want := start.Add(time.Minute); !result.ResetAt.Equal(want) {
		t.Errorf("expected reset at %v (oldest hit + window), got %v", want, result.ResetAt)
	}

	// The first hit has left the window, the second has not
	clock = start.Add(61 * time.Second)
	result, _ = limiter.Allow(ctx, "ip:a")
	if !result.Allowed {
		t.Fatal("request should be allowed once the oldest hit expires")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}
