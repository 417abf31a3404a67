package retry

import (
	"errors"
	"fmt"
	"net/http"
)

// Ошибки retry executor'а.
var (
	// ErrBudgetExceeded — runtime budget исчерпан. Это не ошибка provider'а:
	// вызывающий оставляет task в текущем состоянии до следующего run.
	ErrBudgetExceeded = errors.New("runtime budget exceeded")

	// ErrRetryExhausted — исчерпаны все попытки.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrFatal — ошибка, которую бессмысленно повторять.
	ErrFatal = errors.New("fatal provider error")
)

// StatusError — ответ provider'а с неуспешным HTTP-кодом.
type StatusError struct {
	Code   int
	Header http.Header
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// permanentError помечает ошибку как fatal.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrFatal
}

// Permanent оборачивает err так, что классификатор не будет его повторять.
// Используется sources для битых ответов (malformed JSON, нет token).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsFatal возвращает true для ошибок, помеченных как fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
