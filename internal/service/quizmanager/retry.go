package quizmanager

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
)

// RetryPolicy - экспоненциальные повторы
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// IsTransient сообщает, можно ли повторить операцию
func IsTransient(err error) bool {
	return errors.Is(err, apperrors.ErrTransient)
}

// newBackOff строит экспоненциальную задержку поверх часов контроллера
func (p RetryPolicy) newBackOff(ctx context.Context, clock clockwork.Clock) backoff.BackOff {
	maxInterval := p.MaxBackoff
	if maxInterval <= 0 {
		maxInterval = backoff.DefaultMaxInterval
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clock,
	}
	exp.Reset()

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// clockTimer - backoff.Timer на clockwork, чтобы тесты управляли задержками
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
	ch    <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	t.Stop()
	if d <= 0 {
		ready := make(chan time.Time, 1)
		ready <- t.clock.Now()
		t.timer, t.ch = nil, ready
		return
	}
	t.timer = t.clock.NewTimer(d)
	t.ch = t.timer.Chan()
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.ch
}

// Retry выполняет op, повторяя её с экспоненциальной задержкой, пока
// retryable(err) истинно. Операция должна быть идемпотентной:
// повтор записывает ту же цель, а не приращение.
func Retry[T any](ctx context.Context, clock clockwork.Clock, policy RetryPolicy, retryable func(error) bool, op func(context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		result, err := op(ctx)
		if err != nil && !retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	notify := func(err error, next time.Duration) {
		log.Debug().Err(err).Dur("backoff", next).Msg("Временная ошибка, повторяем")
	}
	return backoff.RetryNotifyWithTimerAndData(operation, policy.newBackOff(ctx, clock), notify, &clockTimer{clock: clock})
}
