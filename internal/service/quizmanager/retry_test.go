package quizmanager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

var fastRetry = RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestRetry_RetriesTransientUntilSuccess(t *testing.T) {
	// Arrange
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("%w: connection reset", apperrors.ErrTransient)
		}
		return 42, nil
	}

	// Act
	got, err := Retry(context.Background(), clockwork.NewRealClock(), fastRetry, IsTransient, op)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return 0, apperrors.ErrStaleTransition
	}

	_, err := Retry(context.Background(), clockwork.NewRealClock(), fastRetry, IsTransient, op)

	assert.ErrorIs(t, err, apperrors.ErrStaleTransition)
	assert.Equal(t, 1, calls)
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, apperrors.ErrTransient
	}

	_, err := Retry(context.Background(), clockwork.NewRealClock(), fastRetry, IsTransient, op)

	assert.True(t, errors.Is(err, apperrors.ErrTransient))
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, clockwork.NewFakeClock(), RetryPolicy{Attempts: 5, InitialBackoff: time.Hour}, IsTransient,
		func(ctx context.Context) (int, error) { return 0, apperrors.ErrTransient })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_BackoffFollowsClock(t *testing.T) {
	// Задержки удваиваются и ограничены MaxBackoff
	clock := clockwork.NewFakeClock()
	policy := RetryPolicy{Attempts: 4, InitialBackoff: time.Second, MaxBackoff: 3 * time.Second}
	calls := make(chan time.Time, 4)

	done := make(chan error, 1)
	go func() {
		_, err := Retry(context.Background(), clock, policy, IsTransient, func(ctx context.Context) (int, error) {
			calls <- clock.Now()
			return 0, apperrors.ErrTransient
		})
		done <- err
	}()

	start := clock.Now()
	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		<-calls
		require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(wait)
	}
	last := <-calls

	assert.Equal(t, start.Add(6*time.Second), last)
	assert.ErrorIs(t, <-done, apperrors.ErrTransient)
}

func TestRetry_ZeroBackoffDoesNotWaitForClock(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), clockwork.NewFakeClock(), RetryPolicy{Attempts: 2}, IsTransient,
		func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", apperrors.ErrTransient
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}
