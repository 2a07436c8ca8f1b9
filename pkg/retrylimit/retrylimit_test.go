package retrylimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (s statusErr) Error() string   { return http.StatusText(int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func fastConfig(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.RateLimitDelay = time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastConfig(5)
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	err := WithRetryConfig(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil, cfg)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryStopsOnFatal(t *testing.T) {
	calls := 0
	cause := errors.New("gone")
	err := WithRetryConfig(context.Background(), func(context.Context) error {
		calls++
		return Fatal(cause)
	}, nil, fastConfig(5))

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Fatal(nil))
}

func TestRetryMaxAttempts(t *testing.T) {
	calls := 0
	cause := statusErr(http.StatusBadGateway)
	err := WithRetryConfig(context.Background(), func(context.Context) error {
		calls++
		return cause
	}, nil, fastConfig(3))

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.ErrorIs(t, err, cause)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetryConfig(ctx, func(context.Context) error { return nil }, nil, fastConfig(3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdaptiveLimiterBounds(t *testing.T) {
	lim := NewAdaptiveLimiter(4, 1, 8, 1, 0.5)
	lim.RateLimited()
	assert.Equal(t, 2.0, lim.CurrentLimit())
	lim.RateLimited()
	lim.RateLimited()
	assert.Equal(t, 1.0, lim.CurrentLimit())

	err := WithRetryConfig(context.Background(), func(context.Context) error {
		return statusErr(http.StatusTooManyRequests)
	}, lim, fastConfig(2))
	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.Equal(t, 1.0, lim.CurrentLimit())
}
