package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/callbridge/pkg/provider"
)

// RetryPolicy describes capped exponential backoff. The delay before attempt
// n+1 is InitialBackoff * Multiplier^(n-1), never more than MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is used for zero-value fields.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2,
}

// WithDefaults returns p with zero fields taken from [DefaultRetryPolicy].
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return p
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return min(time.Duration(d), p.MaxBackoff)
}

// Retryable reports whether a failed attempt is worth repeating. Open
// breakers, context errors and permanent provider errors are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitOpen):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// A stage timeout surfaces as a provider error wrapping
		// DeadlineExceeded; only the caller's own ctx stops the loop.
		var pe *provider.Error
		return errors.As(err, &pe) && pe.Temporary()
	default:
		return provider.IsTemporary(err)
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned wrapped with
// the attempt count.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for functions that return a value.
func RetryWithResult[R any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (R, error)) (R, error) {
	p = p.WithDefaults()
	var zero R
	for attempt := 1; ; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("resilience: retry interrupted: %w", errors.Join(ctx.Err(), err))
		}
		if !Retryable(err) {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("resilience: gave up after %d attempts: %w", attempt, err)
		}

		t := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("resilience: retry interrupted: %w", errors.Join(ctx.Err(), err))
		case <-t.C:
		}
	}
}
