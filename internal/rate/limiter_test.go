package rate

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

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testLimiterConfig() Config {
	return Config{
		EnableIPThrottle:      true,
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	}
}

func TestLoginThrottlePerUser(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := New(rdb, testLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.CheckLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("attempt %d blocked early: %v", i+1, err)
		}
		if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("IncrementLogin failed: %v", err)
		}
	}

	// The increment past the budget reports the limit itself.
	if err := limiter.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited on over-budget increment", err)
	}
	if err := limiter.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited after budget exhausted", err)
	}

	// A different identifier is unaffected.
	if err := limiter.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("unrelated user throttled: %v", err)
	}
}

func TestLoginThrottlePerIP(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := New(rdb, testLimiterConfig())
	ctx := context.Background()

	// Different usernames, same source address.
	for i := 0; i < 4; i++ {
		if err := limiter.IncrementLogin(ctx, "user"+string(rune('a'+i)), "10.0.0.1"); err != nil && !errors.Is(err, ErrRateLimited) {
			t.Fatalf("IncrementLogin failed: %v", err)
		}
	}

	if err := limiter.CheckLogin(ctx, "other", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited for hot IP", err)
	}
}

func TestLoginThrottleWindowExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := New(rdb, testLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil && !errors.Is(err, ErrRateLimited) {
			t.Fatalf("IncrementLogin failed: %v", err)
		}
	}
	if err := limiter.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	mr.FastForward(time.Minute + time.Second)

	if err := limiter.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("still throttled after window: %v", err)
	}
}

func TestResetLogin(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := New(rdb, testLimiterConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.IncrementLogin(ctx, "alice", "10.0.0.1"); err != nil {
			t.Fatalf("IncrementLogin failed: %v", err)
		}
	}

	if err := limiter.ResetLogin(ctx, "alice", "10.0.0.1"); err != nil {
		t.Fatalf("ResetLogin failed: %v", err)
	}

	if err := limiter.CheckLogin(ctx, "alice", "10.0.0.1"); err != nil {
		t.Fatalf("throttled after reset: %v", err)
	}

	attempts, err := limiter.GetLoginAttempts(ctx, "alice")
	if err != nil {
		t.Fatalf("GetLoginAttempts failed: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("attempts = %d, want 0 after reset", attempts)
	}
}

func TestGetLoginAttempts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := New(rdb, testLimiterConfig())
	ctx := context.Background()

	attempts, err := limiter.GetLoginAttempts(ctx, "alice")
	if err != nil {
		t.Fatalf("GetLoginAttempts failed: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("attempts = %d, want 0 with no key", attempts)
	}

	if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("IncrementLogin failed: %v", err)
	}
	attempts, err = limiter.GetLoginAttempts(ctx, "alice")
	if err != nil {
		t.Fatalf("GetLoginAttempts failed: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRedisDownMapsToUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()

	limiter := New(rdb, testLimiterConfig())

	if err := limiter.CheckLogin(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("err = %v, want ErrRedisUnavailable", err)
	}
}
