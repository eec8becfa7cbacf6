package compute

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy controls how Client retries a request the backend reported as
// transient.
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt. 1 disables retries.
	MaxAttempts int

	// BaseDelay is doubled on every retry, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable decides whether a classified failure is worth another
	// attempt. Nil uses DefaultRetryable.
	Retryable func(*Error) bool
}

// DefaultRetryPolicy waits 1s, 2s, 4s... up to a minute between at most
// three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxRetries,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Validate checks the policy's bounds.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp RetryPolicy) retryable(e *Error) bool {
	if rp.Retryable != nil {
		return rp.Retryable(e)
	}
	return DefaultRetryable(e)
}

// DefaultRetryable retries rate limits, overload and server errors. Quota,
// model and authentication failures and client errors are never retried:
// repeating them cannot succeed.
func DefaultRetryable(e *Error) bool {
	if e == nil || e.Kind.Recoverable() || e.Kind == KindAuthenticationFailed {
		return false
	}
	if errors.Is(e, context.Canceled) || errors.Is(e, context.DeadlineExceeded) {
		return false
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	case 0:
		// Transport failure before any response.
		return e.Cause != nil
	}
	return e.StatusCode >= 500
}

// computeBackoff returns min(base * 2^attempt, maxDelay) plus up to base/2 of
// jitter. attempt is zero-based.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
		delay = maxDelay
	}

	half := int64(base / 2)
	if half <= 0 {
		return delay
	}
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(half))
	} else {
		jitter = time.Duration(rand.Int63n(half)) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay + jitter
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
