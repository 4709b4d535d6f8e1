package executor

import (
	"context"
	"testing"
	"time"
)

func TestPoolRunExecutesJob(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2})
	defer p.Close()

	ran := false
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.Run(ctx, func() { ran = true }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatalf("job did not run")
	}
}

func TestPoolRunRespectsContextCancellation(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1})
	defer p.Close()

	// Occupy the single worker with a slow job.
	blocker := make(chan struct{})
	go p.Run(context.Background(), func() { <-blocker })
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, func() {}); err == nil {
		t.Fatalf("expected context deadline error while worker is occupied")
	}
	close(blocker)
}

func TestPoolRunThrottlesToConfiguredRate(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 4, CallsPerSecond: 20, Burst: 1})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Run(ctx, func() {}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	elapsed := time.Since(start)

	// 3 calls at 20/s with burst 1 must take at least 2 refill intervals
	// (~100ms) since the first call drains the only token immediately.
	if elapsed < 90*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= ~100ms (rate limiter did not throttle)", elapsed)
	}
}

func TestPoolRunUnlimitedByDefault(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := p.Run(ctx, func() {}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("50 unlimited calls took too long, limiter must be active unexpectedly")
	}
}
