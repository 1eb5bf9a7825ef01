// Package ailimiter rate-limits calls into the external AI analyzer: a
// continuously-refilling token bucket bounds sustained throughput, and a
// semaphore caps in-flight concurrency. Both are reconfigurable at runtime
// without corrupting acquisitions already in flight.
package ailimiter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Stats is a snapshot of the limiter's internal counters.
type Stats struct {
	QueueDepth      int64
	TotalAcquired   int64
	TotalTimeouts   int64
	AvailableTokens float64
}

// Limiter bounds AI request throughput: acquire a token from a bucket that
// refills at rps tokens/second up to burst, then a slot on a concurrency
// semaphore capped at maxConcurrent. Each of the two waits is bounded by
// its own queueTimeout.
type Limiter struct {
	mu            sync.Mutex
	tokens        float64
	capacity      float64
	rps           float64
	lastRefill    time.Time
	queueTimeout  time.Duration
	sem           *semaphore.Weighted
	maxConcurrent int64

	queueDepth    atomic.Int64
	totalAcquired atomic.Int64
	totalTimeouts atomic.Int64
}

// New creates a Limiter. burst defaults to max(ceil(2*rps), 5) when burst<=0.
func New(rps float64, maxConcurrent int, queueTimeout time.Duration, burst float64) *Limiter {
	if burst <= 0 {
		burst = math.Max(math.Ceil(2*rps), 5)
	}
	return &Limiter{
		tokens:        burst,
		capacity:      burst,
		rps:           rps,
		lastRefill:    time.Now(),
		queueTimeout:  queueTimeout,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: int64(maxConcurrent),
	}
}

// Acquisition is returned by Acquire; call Release when the caller's AI
// request completes. Only the semaphore slot is released — the consumed
// token is gone for good (that's the point of rate limiting).
type Acquisition struct {
	limiter *Limiter
	sem     *semaphore.Weighted // the exact instance this acquisition holds a slot on
}

// Release frees the concurrency slot held by this acquisition, on the same
// semaphore instance it was acquired from — even if UpdateMaxConcurrent has
// since swapped in a replacement.
func (a *Acquisition) Release() {
	a.sem.Release(1)
	a.limiter.queueDepth.Add(-1)
}

// Acquire waits for one rate-limit token and one concurrency slot, in that
// order. If either wait exceeds the configured queueTimeout, it returns an
// error and the caller should treat this as an AI failure.
func (l *Limiter) Acquire(ctx context.Context) (*Acquisition, error) {
	l.queueDepth.Add(1)

	l.mu.Lock()
	timeout := l.queueTimeout
	l.mu.Unlock()

	// Each phase gets its own full queueTimeout budget — the token wait
	// and the concurrency-semaphore wait are independent queues, per
	// spec.md's "if either wait exceeds queue_timeout" (not their sum).
	tokenDeadline := time.Now().Add(timeout)
	if err := l.waitForToken(ctx, tokenDeadline); err != nil {
		l.totalTimeouts.Add(1)
		l.queueDepth.Add(-1)
		return nil, err
	}

	sem := l.currentSemaphore()
	semDeadline := time.Now().Add(timeout)
	acquireCtx, cancel := context.WithDeadline(ctx, semDeadline)
	defer cancel()
	if err := sem.Acquire(acquireCtx, 1); err != nil {
		l.totalTimeouts.Add(1)
		l.queueDepth.Add(-1)
		return nil, fmt.Errorf("ai rate limiter: concurrency wait timed out: %w", err)
	}

	l.totalAcquired.Add(1)
	return &Acquisition{limiter: l, sem: sem}, nil
}

func (l *Limiter) currentSemaphore() *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sem
}

func (l *Limiter) waitForToken(ctx context.Context, deadline time.Time) error {
	for {
		if l.tryTakeToken() {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("ai rate limiter: token wait timed out")
		}

		l.mu.Lock()
		tokensNeeded := 1 - l.tokens
		rps := l.rps
		l.mu.Unlock()

		wait := time.Duration(tokensNeeded / rps * float64(time.Second))
		if wait > remaining {
			wait = remaining
		}
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *Limiter) tryTakeToken() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens = math.Min(l.tokens+elapsed*l.rps, l.capacity)
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// UpdateRPS changes the sustained refill rate and burst capacity. Does not
// affect tokens already consumed or acquisitions in flight.
func (l *Limiter) UpdateRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	l.capacity = math.Max(math.Ceil(2*rps), 5)
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
}

// UpdateMaxConcurrent swaps in a fresh semaphore with the new limit.
// In-flight holders of the old semaphore continue to run unaffected; they
// release into the old semaphore, which is simply discarded.
func (l *Limiter) UpdateMaxConcurrent(maxConcurrent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sem = semaphore.NewWeighted(int64(maxConcurrent))
	l.maxConcurrent = int64(maxConcurrent)
}

// UpdateQueueTimeout changes how long Acquire waits before giving up.
func (l *Limiter) UpdateQueueTimeout(timeout time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queueTimeout = timeout
}

// Stats returns a snapshot of the limiter's counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	tokens := l.tokens
	l.mu.Unlock()

	return Stats{
		QueueDepth:      l.queueDepth.Load(),
		TotalAcquired:   l.totalAcquired.Load(),
		TotalTimeouts:   l.totalTimeouts.Load(),
		AvailableTokens: tokens,
	}
}
