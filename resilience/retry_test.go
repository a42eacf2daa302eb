package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lexflow/types"
)

func transientErr(msg string) error {
	return types.NewError(types.ErrConnection, msg).WithRetryable(true)
}

// ---------------------------------------------------------------------------
// Policy.Backoff
// ---------------------------------------------------------------------------

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{
		BaseWait:   1 * time.Second,
		MaxWait:    10 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped at MaxWait
		{9, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_BackoffJitterStaysInBounds(t *testing.T) {
	p := Policy{
		BaseWait:   1 * time.Second,
		MaxWait:    10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.Backoff(attempt)
			assert.GreaterOrEqual(t, d, p.BaseWait)
			assert.LessOrEqual(t, d, p.MaxWait+p.MaxWait/4)
		}
	}
}

// ---------------------------------------------------------------------------
// doRetry: attempt accounting
// ---------------------------------------------------------------------------

func TestDoRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := doRetry(context.Background(), Policy{MaxAttempts: 3, BaseWait: time.Millisecond}, zap.NewNop(),
		func(ctx context.Context) (any, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDoRetry_RecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	result, err := doRetry(context.Background(), Policy{MaxAttempts: 3, BaseWait: time.Millisecond}, zap.NewNop(),
		func(ctx context.Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, transientErr("connection refused")
			}
			return 42, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestDoRetry_NeverExceedsMaxAttempts(t *testing.T) {
	calls := 0
	_, err := doRetry(context.Background(), Policy{MaxAttempts: 3, BaseWait: time.Millisecond}, zap.NewNop(),
		func(ctx context.Context) (any, error) {
			calls++
			return nil, transientErr("still down")
		})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, ErrExhausted)
	// Original error stays reachable through the chain
	assert.Equal(t, types.ErrConnection, types.GetErrorCode(err))
}

func TestDoRetry_NonTransientFailsImmediately(t *testing.T) {
	calls := 0
	_, err := doRetry(context.Background(), Policy{MaxAttempts: 5, BaseWait: time.Millisecond}, zap.NewNop(),
		func(ctx context.Context) (any, error) {
			calls++
			return nil, types.NewError(types.ErrMalformedResponse, "bad json")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDoRetry_ContextCancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := doRetry(ctx, Policy{MaxAttempts: 3, BaseWait: 10 * time.Second}, zap.NewNop(),
			func(ctx context.Context) (any, error) {
				calls++
				return nil, transientErr("down")
			})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not abort on cancellation")
	}
}

func TestDoRetry_OnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	policy := Policy{
		MaxAttempts: 3,
		BaseWait:    time.Millisecond,
		Multiplier:  2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}

	_, _ = doRetry(context.Background(), policy, zap.NewNop(), func(ctx context.Context) (any, error) {
		return nil, transientErr("down")
	})

	assert.Equal(t, []int{2, 3}, attempts)
	require.Len(t, delays, 2)
	assert.Equal(t, time.Millisecond, delays[0])
	assert.Equal(t, 2*time.Millisecond, delays[1])
}

// ---------------------------------------------------------------------------
// IsTransient classification
// ---------------------------------------------------------------------------

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable provider error", transientErr("boom"), true},
		{"upstream timeout marked retryable", types.NewError(types.ErrUpstreamTimeout, "slow").WithRetryable(true), true},
		{"malformed response", types.NewError(types.ErrMalformedResponse, "bad json"), false},
		{"not found", types.NewError(types.ErrNotFound, "no such case"), false},
		{"invalid request", types.NewError(types.ErrInvalidRequest, "bad"), false},
		{"middleware timeout", &TimeoutError{Resource: "x", Limit: time.Second}, false},
		{"circuit open", &OpenError{Resource: "x"}, false},
		{"bare deadline", context.DeadlineExceeded, false},
		{"bare cancel", context.Canceled, false},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain error", errors.New("whatever"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
