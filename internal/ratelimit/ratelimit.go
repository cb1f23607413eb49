// Package ratelimit provides the fixed-window token bucket that throttles bot
// participant creation.
//
// Unlike a continuously leaking bucket, permits are restored all at once:
// [Bucket.Refill] resets the count to capacity, and [Bucket.Run] calls it once
// per window until its context ends.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the refill interval used when none is configured.
const DefaultWindow = time.Minute

// Bucket is a refillable token bucket. The zero value is not usable; create
// one with [New]. All methods are safe for concurrent use.
type Bucket struct {
	capacity int
	window   time.Duration

	mu        sync.Mutex
	available int
	refilled  time.Time
}

// New returns a full bucket of capacity permits refilled every window.
// Non-positive values are clamped to 1 permit and [DefaultWindow].
func New(capacity int, window time.Duration) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Bucket{
		capacity:  capacity,
		window:    window,
		available: capacity,
		refilled:  time.Now(),
	}
}

// TryAcquire takes one permit if available. It never blocks.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available <= 0 {
		return false
	}
	b.available--
	return true
}

// Refill restores the bucket to full capacity.
func (b *Bucket) Refill() {
	b.mu.Lock()
	b.available = b.capacity
	b.refilled = time.Now()
	b.mu.Unlock()
}

// Available returns the number of permits currently left.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// Capacity returns the bucket size.
func (b *Bucket) Capacity() int { return b.capacity }

// Window returns the refill interval.
func (b *Bucket) Window() time.Duration { return b.window }

// RetryAfter estimates how long until the next refill.
func (b *Bucket) RetryAfter(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.available > 0 {
		return 0
	}
	return max(b.refilled.Add(b.window).Sub(now), 0)
}

// Run refills the bucket once per window until ctx is cancelled.
func (b *Bucket) Run(ctx context.Context) {
	t := time.NewTicker(b.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Refill()
			slog.Debug("rate limiter refilled", "capacity", b.capacity)
		}
	}
}
