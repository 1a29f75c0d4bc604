package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/cmsbridge/internal/errors"
)

func statusErr(status int) error {
	return errors.Newf("status %d", status).
		Category(errors.CategoryHTTP).
		Context("status_code", status).
		Build()
}

func TestPolicy_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	p := NewLinear(2, time.Millisecond)

	calls := 0
	var waits []time.Duration
	var attempts []int
	err := p.Do(t.Context(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient %d", calls)
		}
		return nil
	}, func(_ error, attempt int, wait time.Duration) {
		attempts = append(attempts, attempt)
		waits = append(waits, wait)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestPolicy_ExhaustsAndReturnsLastError(t *testing.T) {
	t.Parallel()

	p := NewLinear(2, time.Millisecond)

	calls := 0
	err := p.Do(t.Context(), func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	}, nil)

	require.EqualError(t, err, "attempt 3")
	assert.Equal(t, 3, calls)
}

func TestPolicy_ZeroValueRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Policy{}.Do(t.Context(), func(context.Context) error {
		calls++
		return fmt.Errorf("boom")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	p := NewLinear(5, time.Millisecond)

	calls := 0
	err := p.Do(t.Context(), func(context.Context) error {
		calls++
		return statusErr(404)
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "status 404")
}

func TestPolicy_ContextCancelled(t *testing.T) {
	t.Parallel()

	p := NewLinear(3, time.Hour)
	ctx, cancel := context.WithCancel(t.Context())

	err := p.Do(ctx, func(context.Context) error {
		cancel()
		return fmt.Errorf("transient")
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", fmt.Errorf("connection reset"), true},
		{"server error", statusErr(503), true},
		{"rate limited", statusErr(429), true},
		{"request timeout", statusErr(408), true},
		{"bad request", statusErr(400), false},
		{"unauthorized", statusErr(401), false},
		{"cancelled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), false},
		{"not found category", errors.Newf("gone").Category(errors.CategoryNotFound).Build(), false},
		{"auth category", errors.Newf("denied").Category(errors.CategoryAuth).Build(), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DefaultRetryable(tt.err))
		})
	}
}
