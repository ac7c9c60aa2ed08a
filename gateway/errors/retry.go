package errors

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableErrors []ErrorCode

	// RetryAll retries every error, not only retryable codes. Replica writes
	// fail with raw driver errors, so they set this.
	RetryAll bool
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		RetryableErrors: []ErrorCode{
			ErrCodeNetwork,
			ErrCodeTimeout,
			ErrCodeDatabase,
		},
	}
}

// RetryFunc is a function that can be retried
type RetryFunc func() error

// RetryWithConfig retries a function with custom configuration. The returned
// error carries the number of attempts made in its context.
func RetryWithConfig(ctx context.Context, fn RetryFunc, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay
	attempt := 1

	for ; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !config.RetryAll && !isRetryableError(err, config.RetryableErrors) {
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return New(ErrCodeInternal, "maximum retry attempts exceeded", lastErr).
		WithContext("attempts", config.MaxAttempts)
}

// Retry retries a function with default configuration
func Retry(ctx context.Context, fn RetryFunc) error {
	return RetryWithConfig(ctx, fn, DefaultRetryConfig())
}

// isRetryableError checks if an error is retryable based on configuration
func isRetryableError(err error, retryableCodes []ErrorCode) bool {
	var gwErr *GatewayError
	if As(err, &gwErr) {
		for _, code := range retryableCodes {
			if gwErr.Code == code {
				return true
			}
		}
		return gwErr.IsRetryable()
	}
	return false
}

// ExponentialBackoff calculates exponential backoff delay
func ExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration) time.Duration {
	if attempt <= 1 {
		return baseDelay
	}
	delay := baseDelay << uint(attempt-1)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}
