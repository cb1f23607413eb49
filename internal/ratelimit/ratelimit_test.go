package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBucket_CapacityThenRefill(t *testing.T) {
	t.Parallel()
	b := New(3, time.Hour)

	for i := range 3 {
		if !b.TryAcquire() {
			t.Fatalf("acquire %d failed, want success", i+1)
		}
	}
	if b.TryAcquire() {
		t.Fatal("4th acquire succeeded, want failure")
	}
	if b.Available() != 0 {
		t.Errorf("Available() = %d, want 0", b.Available())
	}

	b.Refill()
	if !b.TryAcquire() {
		t.Fatal("acquire after refill failed")
	}
	if got := b.Available(); got != 2 {
		t.Errorf("Available() = %d, want 2", got)
	}
}

func TestBucket_Defaults(t *testing.T) {
	t.Parallel()
	b := New(0, 0)
	if b.Capacity() != 1 || b.Window() != DefaultWindow {
		t.Errorf("got capacity %d window %v", b.Capacity(), b.Window())
	}
}

func TestBucket_NoDoubleGrant(t *testing.T) {
	t.Parallel()
	const capacity = 50
	b := New(capacity, time.Hour)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != capacity {
		t.Errorf("granted = %d, want %d", got, capacity)
	}
}

func TestBucket_RetryAfter(t *testing.T) {
	t.Parallel()
	b := New(1, time.Minute)
	now := time.Now()
	if d := b.RetryAfter(now); d != 0 {
		t.Errorf("RetryAfter with permits = %v, want 0", d)
	}
	b.TryAcquire()
	if d := b.RetryAfter(now); d <= 0 || d > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", d)
	}
}

func TestBucket_RunRefills(t *testing.T) {
	t.Parallel()
	b := New(2, 10*time.Millisecond)
	b.TryAcquire()
	b.TryAcquire()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for b.Available() != 2 {
		select {
		case <-deadline:
			t.Fatal("bucket was not refilled by Run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
