// Package retry is the one retry policy shared by source fetches and media
// transfers: a bounded number of retries, a backoff function and a
// retryable-error predicate.
package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tphakala/cmsbridge/internal/errors"
)

// Policy describes how an operation is retried. The zero value runs the
// operation once.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Backoff returns the wait before retry n (1-based).
	Backoff func(attempt int) time.Duration

	// Retryable reports whether err is worth another attempt. Nil means
	// DefaultRetryable.
	Retryable func(err error) bool
}

// Linear waits base × attempt before each retry.
func Linear(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// NewLinear is the policy used throughout the pipeline.
func NewLinear(maxRetries int, base time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Backoff: Linear(base)}
}

// NotifyFunc is called before each retry with the failed attempt number
// and the wait that follows.
type NotifyFunc func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// the policy or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify NotifyFunc) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	b := &attemptBackOff{fn: p.Backoff}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0))), ctx)

	operation := func() error {
		err := op(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) {
			notify(err, b.attempt, wait)
		}
	}

	return backoff.RetryNotify(operation, policy, onRetry)
}

// attemptBackOff adapts a per-attempt function to backoff.BackOff.
type attemptBackOff struct {
	fn      func(int) time.Duration
	attempt int
}

func (a *attemptBackOff) NextBackOff() time.Duration {
	a.attempt++
	if a.fn == nil {
		return 0
	}
	return a.fn(a.attempt)
}

func (a *attemptBackOff) Reset() {
	a.attempt = 0
}

// DefaultRetryable retries network faults, 5xx, 408 and 429. Context
// cancellation, configuration, not-found and validation errors and other
// 4xx statuses are final.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var enhancedErr *errors.EnhancedError
	if errors.As(err, &enhancedErr) {
		switch enhancedErr.Category {
		case errors.CategoryConfiguration, errors.CategoryNotFound, errors.CategoryValidation, errors.CategoryAuth:
			return false
		}
		if status, ok := enhancedErr.GetContext()["status_code"].(int); ok {
			return retryableStatus(status)
		}
	}

	return true
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 400 && status < 500:
		return false
	default:
		return true
	}
}
