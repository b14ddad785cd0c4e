package exchange

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter()

	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := rl.waitOrder(context.Background()); err != nil {
			t.Fatalf("waitOrder() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("waitOrder() took %v, expected immediate within burst capacity", elapsed)
		}
	}
}

func TestRateLimiterContextCancelled(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter()
	// Drain Query's burst capacity, then a subsequent wait should respect ctx cancellation.
	for i := 0; i < 150; i++ {
		_ = rl.waitQuery(context.Background())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.waitQuery(ctx); err == nil {
		t.Error("expected context deadline error once burst capacity is exhausted")
	}
}
