package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter paces work items
type Limiter interface {
	// Allow takes a token if one is available
	Allow() bool
	// Wait blocks until a token is taken or ctx is done
	Wait(ctx context.Context) error
	// Reset refills the limiter
	Reset()
}

// TokenBucket adds one token every interval, up to capacity. A full bucket
// allows a burst of capacity items.
type TokenBucket struct {
	capacity   int
	interval   time.Duration
	tokens     int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket. capacity is clamped to at least 1.
func NewTokenBucket(capacity int, interval time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	tb := &TokenBucket{
		capacity: capacity,
		interval: interval,
		tokens:   capacity,
		now:      time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

// PerMinute returns a bucket allowing itemsPerMinute with bursts of burst.
// It returns nil when itemsPerMinute is not positive, meaning no limit.
func PerMinute(itemsPerMinute, burst int) *TokenBucket {
	if itemsPerMinute <= 0 {
		return nil
	}
	return NewTokenBucket(burst, time.Minute/time.Duration(itemsPerMinute))
}

// Allow checks if an item can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		timer := time.NewTimer(tb.untilNext())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

// Available returns the current number of tokens
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// refill adds the tokens earned since the last refill. Must hold mu.
func (tb *TokenBucket) refill() {
	if tb.interval <= 0 {
		tb.tokens = tb.capacity
		return
	}

	now := tb.now()
	earned := int(now.Sub(tb.lastRefill) / tb.interval)
	if earned <= 0 {
		return
	}

	tb.tokens += earned
	if tb.tokens >= tb.capacity {
		tb.tokens = tb.capacity
		tb.lastRefill = now
		return
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(earned) * tb.interval)
}

func (tb *TokenBucket) untilNext() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	wait := tb.interval - tb.now().Sub(tb.lastRefill)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}
