package errors

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_UnwrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewStorageError(cause)

	assert.Equal(t, CodeStorage, err.Code)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")

	referral := NewReferralError("Geçersiz kod", cause)
	assert.Equal(t, CodeReferral, referral.Code)
	assert.False(t, referral.Retryable)
	assert.ErrorIs(t, referral, cause)
}

func TestHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(slog.New(slog.NewJSONHandler(&buf, nil)), false)

	msg, retry := h.Handle(context.Background(), NewRateLimitError(12))
	assert.Contains(t, msg, "12")
	assert.False(t, retry)
	assert.Contains(t, buf.String(), `"code":"E500"`)

	msg, retry = h.Handle(context.Background(), NewStorageError(stderrors.New("down")))
	assert.NotEmpty(t, msg)
	assert.True(t, retry)

	msg, retry = h.Handle(context.Background(), stderrors.New("boom"))
	assert.Equal(t, DefaultUserMessage, msg)
	assert.False(t, retry)

	msg, _ = h.Handle(context.Background(), nil)
	assert.Empty(t, msg)
}

func TestWithRetry_RetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	policy := RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	err := WithRetryPolicy(context.Background(), policy, func() error {
		if calls.Add(1) < 3 {
			return NewStorageError(stderrors.New("down"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	var calls int
	err := WithRetry(context.Background(), func() error {
		calls++
		return NewValidationError("bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int
	policy := RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond}

	err := WithRetryPolicy(context.Background(), policy, func() error {
		calls++
		return NewStorageError(nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_HonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []string

	cb := NewCircuitBreakerWithConfig(BreakerConfig{
		MinRequests:         4,
		OpenTimeout:         time.Minute,
		HalfOpenMaxRequests: 2,
		Now:                 func() time.Time { return now },
	})
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	failing := stderrors.New("backend down")
	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, cb.Call(func() error { return failing }), failing)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreakerWithConfig(BreakerConfig{
		MinRequests: 1,
		OpenTimeout: time.Second,
		Now:         func() time.Time { return now },
	})

	_ = cb.Call(func() error { return stderrors.New("x") })
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(time.Second)
	_ = cb.Call(func() error { return stderrors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}
