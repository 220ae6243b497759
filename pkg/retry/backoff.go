package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	errs "postvault/pkg/errors"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay to wait before the given attempt
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness to avoid synchronized retries (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))

	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		// Random value between -jitter and +jitter
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff selects a backoff strategy based on the error type.
// Rate limit responses back off far longer than ordinary network blips.
type ErrorTypeBackoff struct {
	Network     BackoffStrategy
	RateLimit   BackoffStrategy
	ServerError BackoffStrategy
	Default     BackoffStrategy
}

// NewErrorTypeBackoff creates an error-type based backoff selector
func NewErrorTypeBackoff() *ErrorTypeBackoff {
	return &ErrorTypeBackoff{
		Network: &ExponentialBackoff{
			BaseDelay:    1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		RateLimit: &ExponentialBackoff{
			BaseDelay:    30 * time.Second,
			MaxDelay:     5 * time.Minute,
			Multiplier:   1.5,
			JitterFactor: 0.3,
		},
		ServerError: &ExponentialBackoff{
			BaseDelay:    5 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Default: DefaultExponentialBackoff(),
	}
}

// ForError returns the strategy matching the error's type
func (etb *ErrorTypeBackoff) ForError(err error) BackoffStrategy {
	var apiErr *errs.Error
	if !errors.As(err, &apiErr) {
		return etb.Default
	}
	switch apiErr.Type {
	case errs.ErrorTypeNetwork:
		return etb.Network
	case errs.ErrorTypeRateLimit:
		return etb.RateLimit
	case errs.ErrorTypeServerError:
		return etb.ServerError
	default:
		return etb.Default
	}
}
