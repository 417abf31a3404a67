package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Harvester/internal/ratelimit"
)

// Decision — результат классификации ошибки.
type Decision struct {
	// Retry — ошибку можно повторить.
	Retry bool

	// After — объявленное provider'ом время до сброса квоты.
	// Если > 0, используется вместо задержки backoff.
	After time.Duration
}

// Classifier отображает ошибку операции в Decision.
type Classifier func(err error) Decision

// epochThreshold — значения reset-заголовка больше этого считаются unix-временем.
const epochThreshold = 1_000_000_000

// HTTPClassifier возвращает классификатор по HTTP-статусам:
//   - 429, 408, 5xx — retryable, с учётом Retry-After и resetHeader
//   - остальные 4xx — fatal
//   - ratelimit.ErrQueueExceeded и сетевые ошибки — retryable
//   - ошибки, помеченные Permanent — fatal
//
// resetHeader — дополнительный заголовок provider'а (например, X-RateLimit-Reset).
func HTTPClassifier(resetHeader string, now func() time.Time) Classifier {
	if now == nil {
		now = time.Now
	}
	return func(err error) Decision {
		switch {
		case err == nil:
			return Decision{}
		case IsFatal(err):
			return Decision{}
		case errors.Is(err, context.Canceled):
			return Decision{}
		case errors.Is(err, ratelimit.ErrQueueExceeded):
			return Decision{Retry: true}
		}

		var se *StatusError
		if errors.As(err, &se) {
			switch {
			case se.Code == http.StatusTooManyRequests,
				se.Code == http.StatusRequestTimeout,
				se.Code >= 500:
				after, _ := ParseReset(se.Header, resetHeader, now())
				return Decision{Retry: true, After: after}
			default:
				return Decision{}
			}
		}

		// Транспортные ошибки: обрыв соединения, таймаут, DNS
		return Decision{Retry: true}
	}
}

// ParseReset извлекает из заголовков время до сброса квоты.
//
// Порядок: resetHeader (delta-seconds или unix-время), затем
// Retry-After (delta-seconds или HTTP-date).
func ParseReset(h http.Header, resetHeader string, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}

	if resetHeader != "" {
		if v := strings.TrimSpace(h.Get(resetHeader)); v != "" {
			if d, ok := parseSeconds(v, now); ok {
				return d, true
			}
		}
	}

	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if d, ok := parseSeconds(v, now); ok {
		return d, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func parseSeconds(v string, now time.Time) (time.Duration, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	if f > epochThreshold {
		d := time.Unix(int64(f), 0).Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return time.Duration(f * float64(time.Second)), true
}
