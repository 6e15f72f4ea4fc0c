package errors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function that fails twice with a retryable error
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return New(ErrCodeProviderUnavailable, "connection refused", nil)
		}
		return nil
	}

	// When: retried
	err := Retry(context.Background(), fastRetryConfig(), fn)

	// Then: it eventually succeeds
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableAbortsImmediately(t *testing.T) {
	// Given: a function failing with a fatal dimension mismatch
	attempts := 0
	fn := func() error {
		attempts++
		return New(ErrCodeDimensionMismatch, "768 vs 256", nil)
	}

	// When: retried
	err := Retry(context.Background(), fastRetryConfig(), fn)

	// Then: only one attempt is made and the original error surfaces
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, HasCode(err, ErrCodeDimensionMismatch))
}

func TestRetry_ExhaustionWrapsLastError(t *testing.T) {
	fn := func() error {
		return New(ErrCodeProviderRateLimited, "429", nil)
	}

	err := Retry(context.Background(), fastRetryConfig(), fn)

	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeProviderRateLimited))
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	got, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(), func() error {
		return New(ErrCodeProviderUnavailable, "down", nil)
	})

	assert.ErrorIs(t, err, context.Canceled)
}
