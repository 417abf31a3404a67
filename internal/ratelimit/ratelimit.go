// Package ratelimit реализует fixed-window rate limiter для provider API.
//
// Limiter держит один или несколько окон (например, 60/мин и 1000/час).
// Вызов допускается, только если во всех окнах остались permits;
// при допуске счётчики всех окон увеличиваются одновременно.
//
// Окна выровнены по epoch (как квоты у provider'ов): окно 1m
// сбрасывается в начале каждой минуты, а не через минуту после первого вызова.
//
// Один Limiter разделяется всеми workers одного provider'а.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrQueueExceeded — очередь ожидающих допуска переполнена.
// retry.Executor считает эту ошибку retryable.
var ErrQueueExceeded = errors.New("rate limit queue exceeded")

// Window — квота: Limit вызовов за Period.
type Window struct {
	Limit  int           `json:"limit"`
	Period time.Duration `json:"period"`
}

func (w Window) String() string {
	return fmt.Sprintf("%d/%s", w.Limit, w.Period)
}

// Config — конфигурация Limiter.
type Config struct {
	// Windows — окна квоты. Пустой список — без ограничений.
	Windows []Window

	// QueueLimit — сколько вызовов может ждать допуска одновременно.
	// 0 — fail fast, отрицательное — без ограничения.
	QueueLimit int

	// Smooth — равномерный темп (вызовов/сек) поверх окон.
	// 0 — без сглаживания, вызовы идут пачкой в начале окна.
	Smooth float64

	// Clock — источник времени. Nil — time.Now.
	Clock func() time.Time
}

type window struct {
	limit  int
	period time.Duration
	start  time.Time
	count  int
}

// Limiter — потокобезопасный fixed-window limiter.
type Limiter struct {
	mu         sync.Mutex
	windows    []*window
	waiting    int
	queueLimit int
	smooth     *rate.Limiter
	now        func() time.Time
}

// New создаёт Limiter.
func New(cfg Config) *Limiter {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	l := &Limiter{
		queueLimit: cfg.QueueLimit,
		now:        now,
	}

	for _, w := range cfg.Windows {
		if w.Limit <= 0 || w.Period <= 0 {
			continue
		}
		l.windows = append(l.windows, &window{limit: w.Limit, period: w.Period})
	}

	if cfg.Smooth > 0 {
		l.smooth = rate.NewLimiter(rate.Limit(cfg.Smooth), 1)
	}

	return l
}

// TryAdmit пытается получить permit без ожидания.
//
// Возвращает admitted=true и 0, если вызов допущен.
// Иначе — время до сброса самого строгого заполненного окна.
func (l *Limiter) TryAdmit() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	var wait time.Duration
	for _, w := range l.windows {
		start := now.Truncate(w.period)
		if !start.Equal(w.start) {
			w.start = start
			w.count = 0
		}
		if w.count >= w.limit {
			if d := w.start.Add(w.period).Sub(now); d > wait {
				wait = d
			}
		}
	}

	if wait > 0 {
		return false, wait
	}

	for _, w := range l.windows {
		w.count++
	}
	return true, 0
}

// Wait блокируется до получения permit.
//
// Если очередь ожидающих заполнена, возвращает ErrQueueExceeded.
// Отмена ctx прерывает ожидание.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.smooth != nil {
		if err := l.smooth.Wait(ctx); err != nil {
			return err
		}
	}

	queued := false
	defer func() {
		if queued {
			l.mu.Lock()
			l.waiting--
			l.mu.Unlock()
		}
	}()

	for {
		ok, wait := l.TryAdmit()
		if ok {
			return nil
		}

		if !queued {
			l.mu.Lock()
			if l.queueLimit >= 0 && l.waiting >= l.queueLimit {
				l.mu.Unlock()
				return fmt.Errorf("%w: %d waiting", ErrQueueExceeded, l.queueLimit)
			}
			l.waiting++
			l.mu.Unlock()
			queued = true
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Waiting возвращает число вызовов в очереди.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

// Windows возвращает сконфигурированные окна.
func (l *Limiter) Windows() []Window {
	out := make([]Window, 0, len(l.windows))
	for _, w := range l.windows {
		out = append(out, Window{Limit: w.limit, Period: w.period})
	}
	return out
}
