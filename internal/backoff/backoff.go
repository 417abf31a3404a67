// Package backoff вычисляет задержку перед повторной попыткой.
//
// Strategy — чистая функция от номера попытки: не хранит состояние
// и не спит сама. Ожиданием занимается retry.Executor.
//
// Варианты:
//   - constant: delay = Seed
//   - multiplicative: delay = Seed * Factor^attempt
//   - exponential: delay = Factor^attempt секунд, Seed не используется
//
// Результат ограничивается MaxDelay и может быть сдвинут на случайный jitter
// в пределах [0, Jitter*delay].
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Kind — вид стратегии backoff.
type Kind string

const (
	KindConstant       Kind = "constant"
	KindMultiplicative Kind = "multiplicative"
	KindExponential    Kind = "exponential"
)

// Значения по умолчанию.
const (
	DefaultSeed     = time.Second
	DefaultFactor   = 2.0
	DefaultMaxDelay = 10 * time.Minute
	DefaultMaxRetry = 5
)

// ErrUnknownKind — неизвестный вид стратегии в конфигурации.
var ErrUnknownKind = errors.New("unknown backoff kind")

// ParseKind парсит строку конфигурации в Kind.
// Пустая строка — exponential.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindExponential, nil
	case KindConstant, KindMultiplicative, KindExponential:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, s)
	}
}

// Strategy — параметры backoff одного provider'а.
// Создаётся один раз при старте из конфигурации.
type Strategy struct {
	// Kind — вид кривой.
	Kind Kind

	// Seed — базовая задержка (constant, multiplicative). Для exponential не используется.
	Seed time.Duration

	// Factor — множитель (multiplicative) или основание степени (exponential).
	Factor float64

	// MaxDelay — верхняя граница задержки до jitter.
	MaxDelay time.Duration

	// Jitter — доля задержки, добавляемая случайно, в [0, 1].
	Jitter float64

	// MaxRetry — максимальное число попыток. Останавливается retry.Executor.
	MaxRetry int

	// Rand — источник случайности в [0, 1). Nil — math/rand/v2.
	Rand func() float64
}

// WithDefaults возвращает копию с заполненными пустыми полями.
func (s Strategy) WithDefaults() Strategy {
	if s.Kind == "" {
		s.Kind = KindExponential
	}
	if s.Seed <= 0 {
		s.Seed = DefaultSeed
	}
	if s.Factor <= 0 {
		s.Factor = DefaultFactor
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = DefaultMaxDelay
	}
	if s.MaxRetry <= 0 {
		s.MaxRetry = DefaultMaxRetry
	}
	if s.Jitter < 0 {
		s.Jitter = 0
	}
	if s.Jitter > 1 {
		s.Jitter = 1
	}
	return s
}

// Next возвращает задержку перед попыткой номер attempt (attempt >= 1 — номер retry).
func (s Strategy) Next(attempt int) time.Duration {
	s = s.WithDefaults()
	if attempt < 1 {
		attempt = 1
	}

	var raw float64
	switch s.Kind {
	case KindConstant:
		raw = float64(s.Seed)
	case KindExponential:
		raw = float64(time.Second) * math.Pow(s.Factor, float64(attempt))
	default:
		raw = float64(s.Seed) * math.Pow(s.Factor, float64(attempt))
	}

	delay := capDuration(raw, s.MaxDelay)

	if s.Jitter > 0 {
		r := s.Rand
		if r == nil {
			r = rand.Float64
		}
		delay += time.Duration(r() * s.Jitter * float64(delay))
	}

	return delay
}

// capDuration переводит float в Duration с ограничением сверху.
// Защищает от переполнения на больших attempt.
func capDuration(v float64, max time.Duration) time.Duration {
	if math.IsNaN(v) || math.IsInf(v, 0) || v >= float64(max) {
		return max
	}
	if v < 0 {
		return 0
	}
	return time.Duration(v)
}
