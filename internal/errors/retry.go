package errors

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	MaxRetries        = 3
	InitialBackoff    = 100 * time.Millisecond
	MaxBackoff        = 5 * time.Second
	BackoffMultiplier = 2.0
)

// RetryPolicy controls WithRetryPolicy. Zero fields take the package defaults.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable overrides IsRetryable.
	Retryable func(error) bool
}

// WithRetry retries fn with exponential backoff while it returns a
// retryable AppError.
func WithRetry(ctx context.Context, fn func() error) error {
	return WithRetryPolicy(ctx, RetryPolicy{}, fn)
}

func WithRetryPolicy(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if fn == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if policy.MaxRetries <= 0 {
		policy.MaxRetries = MaxRetries
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = MaxBackoff
	}
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}

	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}

		if !policy.Retryable(err) || attempt == policy.MaxRetries {
			return err
		}

		timer := time.NewTimer(backoffDuration(policy, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	return err
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Retryable
	}

	return false
}

func backoffDuration(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialBackoff) * math.Pow(BackoffMultiplier, float64(attempt))
	backoff := time.Duration(delay)
	if backoff > policy.MaxBackoff {
		return policy.MaxBackoff
	}

	return backoff
}
