package ailimiter

import (
	"context"
	"testing"
	"time"
)

func TestNewLimiterStartsAtBurstCapacity(t *testing.T) {
	t.Parallel()
	l := New(5, 10, time.Second, 0)
	stats := l.Stats()
	if stats.AvailableTokens != 10 {
		t.Errorf("AvailableTokens = %v, want 10 (max(ceil(2*5),5))", stats.AvailableTokens)
	}
}

func TestAcquireImmediateWhenTokensAvailable(t *testing.T) {
	t.Parallel()
	l := New(100, 10, time.Second, 0)

	start := time.Now()
	acq, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer acq.Release()

	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Acquire took %v, want near-instant with tokens available", elapsed)
	}
}

func TestAcquireBlocksWhenBucketEmpty(t *testing.T) {
	t.Parallel()
	l := New(2, 10, 2*time.Second, 1) // burst capacity of exactly 1 token

	ctx := context.Background()
	first, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	start := time.Now()
	second, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer second.Release()

	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("second Acquire returned after %v, want to have waited for refill", elapsed)
	}
}

func TestAcquireTimesOutWhenQueueTimeoutExceeded(t *testing.T) {
	t.Parallel()
	l := New(0.1, 10, 100*time.Millisecond, 1)

	ctx := context.Background()
	first, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = l.Acquire(ctx)
	if err == nil {
		t.Fatal("expected timeout error when bucket stays empty past queue timeout")
	}
	stats := l.Stats()
	if stats.TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", stats.TotalTimeouts)
	}
}

func TestAcquireBoundedByConcurrencySemaphore(t *testing.T) {
	t.Parallel()
	l := New(1000, 1, time.Second, 1000) // plenty of tokens, concurrency=1

	ctx := context.Background()
	first, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		first.Release()
		close(released)
	}()

	start := time.Now()
	second, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer second.Release()

	<-released
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("second Acquire returned after %v, want to have waited on the concurrency semaphore", elapsed)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	t.Parallel()
	l := New(0.01, 10, 5*time.Second, 1)

	ctx := context.Background()
	first, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Acquire(cancelCtx)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestUpdateMaxConcurrentDoesNotBreakInFlightRelease(t *testing.T) {
	t.Parallel()
	l := New(1000, 1, time.Second, 1000)

	acq, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	l.UpdateMaxConcurrent(5)

	// Release must not panic or deadlock even though the limiter's current
	// semaphore has been swapped out from under this acquisition.
	acq.Release()

	// New acquisitions should use the new concurrency bound.
	acq2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("post-swap Acquire: %v", err)
	}
	acq2.Release()
}

// TestAcquireGivesEachPhaseItsOwnQueueTimeout covers the two-phase budget:
// the token wait and the semaphore wait are independent queues, each
// entitled to the full queueTimeout, not a single budget split between
// them. Here the token wait takes ~100ms and the semaphore wait (bounded
// by when the first acquisition releases) takes another ~100ms — each
// individually under the 150ms queueTimeout, but their sum (~200ms)
// exceeds it. A shared deadline across both phases would time out; two
// independent deadlines must not.
func TestAcquireGivesEachPhaseItsOwnQueueTimeout(t *testing.T) {
	t.Parallel()
	l := New(10, 1, 150*time.Millisecond, 1) // burst=1, refill to 1 token takes ~100ms

	ctx := context.Background()
	first, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		first.Release()
	}()

	start := time.Now()
	second, err := l.Acquire(ctx)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("second Acquire: %v (elapsed %v); each wait phase should get its own 150ms budget", err, elapsed)
	}
	defer second.Release()

	if elapsed < 180*time.Millisecond {
		t.Errorf("second Acquire returned after %v, want to have waited through both phases (~200ms)", elapsed)
	}
}

func TestUpdateRPSAffectsFutureRefill(t *testing.T) {
	t.Parallel()
	l := New(1, 10, time.Second, 1)
	ctx := context.Background()

	first, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer first.Release()

	l.UpdateRPS(1000)

	start := time.Now()
	second, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer second.Release()

	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("second Acquire took %v, want fast refill after RPS bump", elapsed)
	}
}
