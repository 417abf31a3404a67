// Package retry выполняет вызовы provider API с повторами.
//
// Executor объединяет:
//   - допуск через rate limiter
//   - задержку между попытками по backoff.Strategy
//   - потолок попыток MaxRetry
//   - ранний выход при исчерпании runtime budget (ErrBudgetExceeded)
//   - обновление короткоживущих credentials перед каждой повторной попыткой
//
// Объявленное provider'ом время сброса квоты (Retry-After, reset-заголовок)
// всегда важнее кривой backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Harvester/internal/backoff"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/telemetry"
)

// Admitter — rate limiter с блокирующим допуском.
type Admitter interface {
	Wait(ctx context.Context) error
}

// RefreshFunc обновляет credentials перед повторной попыткой.
type RefreshFunc func(ctx context.Context) error

// Config — конфигурация Executor.
type Config struct {
	// Provider — имя provider'а для логов и метрик.
	Provider string

	// Backoff — стратегия задержек. MaxRetry — потолок попыток.
	Backoff backoff.Strategy

	// Limiter — общий для provider'а rate limiter. Nil — без ограничений.
	Limiter Admitter

	// Classify — классификатор ошибок. Nil — HTTPClassifier("").
	Classify Classifier

	// Refresh — hook обновления credentials. Nil — не нужен.
	Refresh RefreshFunc

	// Logger — логгер.
	Logger *slog.Logger

	// Sleep — ожидание с учётом ctx. Nil — таймер. Подменяется в тестах.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor выполняет операции с повторами. Потокобезопасен.
type Executor struct {
	provider string
	backoff  backoff.Strategy
	limiter  Admitter
	classify Classifier
	refresh  RefreshFunc
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	if cfg.Classify == nil {
		cfg.Classify = HTTPClassifier("", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}

	return &Executor{
		provider: cfg.Provider,
		backoff:  cfg.Backoff.WithDefaults(),
		limiter:  cfg.Limiter,
		classify: cfg.Classify,
		refresh:  cfg.Refresh,
		logger:   cfg.Logger,
		sleep:    cfg.Sleep,
	}
}

// MaxAttempts возвращает потолок попыток.
func (e *Executor) MaxAttempts() int {
	return e.backoff.MaxRetry
}

// Do выполняет fn с повторами.
//
// budget может быть nil (без ограничения по времени).
// Возможные ошибки:
//   - ErrBudgetExceeded — budget исчерпан до или во время ожидания
//   - ErrFatal — ошибка классифицирована как неповторяемая
//   - ErrRetryExhausted — все попытки неуспешны
//   - ctx.Err() — внешняя отмена
func Do[T any](ctx context.Context, e *Executor, budget *domain.RuntimeBudget, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := e.backoff.MaxRetry
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if budget.Expired() {
			return zero, e.budgetErr(op, lastErr)
		}
		if err := ctx.Err(); err != nil {
			return zero, e.ctxErr(budget, op, err, lastErr)
		}

		if attempt > 1 && e.refresh != nil {
			if err := e.refresh(ctx); err != nil {
				e.logger.Warn("credential refresh failed", "op", op, "attempt", attempt, "error", err)
			}
		}

		var result T
		err := e.admit(ctx)
		if err == nil {
			result, err = fn(ctx)
			if err == nil {
				telemetry.ProviderCalls.WithLabelValues(e.provider, op, "ok").Inc()
				return result, nil
			}
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, e.ctxErr(budget, op, ctxErr, lastErr)
		}

		decision := e.classify(err)
		if !decision.Retry {
			telemetry.ProviderCalls.WithLabelValues(e.provider, op, "fatal").Inc()
			if IsFatal(err) {
				return zero, err
			}
			return zero, fmt.Errorf("%w: %s: %w", ErrFatal, op, err)
		}
		telemetry.ProviderCalls.WithLabelValues(e.provider, op, "retryable").Inc()

		if attempt == maxAttempts {
			break
		}

		delay := decision.After
		if delay <= 0 {
			delay = e.backoff.Next(attempt)
		}

		if budget != nil && delay >= budget.Remaining() {
			e.logger.Info("retry delay exceeds remaining budget",
				"op", op,
				"delay", delay,
				"remaining", budget.Remaining(),
			)
			return zero, e.budgetErr(op, lastErr)
		}

		e.logger.Debug("retrying provider call",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		telemetry.RetryDelay.WithLabelValues(e.provider, op).Observe(delay.Seconds())

		if err := e.sleep(ctx, delay); err != nil {
			return zero, e.ctxErr(budget, op, err, lastErr)
		}
	}

	return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetryExhausted, op, maxAttempts, lastErr)
}

// Run — вариант Do для операций без результата.
func (e *Executor) Run(ctx context.Context, budget *domain.RuntimeBudget, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, budget, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// admit получает permit у limiter'а.
// ratelimit.ErrQueueExceeded возвращается как обычная ошибка попытки
// и классифицируется как retryable.
func (e *Executor) admit(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *Executor) budgetErr(op string, lastErr error) error {
	telemetry.ProviderCalls.WithLabelValues(e.provider, op, "budget").Inc()
	if lastErr != nil {
		return fmt.Errorf("%w: %s: last error: %v", ErrBudgetExceeded, op, lastErr)
	}
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, op)
}

// ctxErr различает истечение budget и внешнюю отмену.
func (e *Executor) ctxErr(budget *domain.RuntimeBudget, op string, ctxErr, lastErr error) error {
	if budget.Expired() || errors.Is(ctxErr, context.DeadlineExceeded) {
		return e.budgetErr(op, lastErr)
	}
	return ctxErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
