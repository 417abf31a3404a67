package domain

import (
	"context"
	"time"
)

// RuntimeBudget — максимальное wall-clock время одного run.
//
// Один экземпляр разделяется всеми workers только на чтение.
type RuntimeBudget struct {
	start time.Time
	max   time.Duration
	now   func() time.Time
}

// NewRuntimeBudget создаёт budget, стартующий сейчас.
func NewRuntimeBudget(max time.Duration) *RuntimeBudget {
	return NewRuntimeBudgetAt(time.Now(), max, time.Now)
}

// NewRuntimeBudgetAt создаёт budget с явным стартом и часами (для тестов).
func NewRuntimeBudgetAt(start time.Time, max time.Duration, now func() time.Time) *RuntimeBudget {
	if now == nil {
		now = time.Now
	}
	return &RuntimeBudget{start: start, max: max, now: now}
}

// Start возвращает время старта.
func (b *RuntimeBudget) Start() time.Time {
	return b.start
}

// Deadline возвращает момент исчерпания budget.
func (b *RuntimeBudget) Deadline() time.Time {
	return b.start.Add(b.max)
}

// Remaining возвращает оставшееся время (может быть отрицательным).
func (b *RuntimeBudget) Remaining() time.Duration {
	if b == nil {
		return time.Duration(1<<63 - 1)
	}
	return b.Deadline().Sub(b.now())
}

// Expired возвращает true, если budget исчерпан.
func (b *RuntimeBudget) Expired() bool {
	return b != nil && b.Remaining() <= 0
}

// Elapsed возвращает прошедшее с начала время.
func (b *RuntimeBudget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// Context возвращает context, отменяемый по исчерпании budget.
func (b *RuntimeBudget) Context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, b.Deadline())
}
