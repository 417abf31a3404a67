package orchestrator

import "errors"

// Ошибки engine'а.
var (
	// ErrRunInProgress — run этого provider'а уже выполняется.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrUnknownProvider — provider не сконфигурирован.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrTooManyErrors — исчерпан лимит ошибок run'а, новые units не запускались.
	ErrTooManyErrors = errors.New("too many unit errors")

	// ErrCheckpoint — checkpoint store недоступен для unit'а.
	ErrCheckpoint = errors.New("checkpoint store failure")

	// ErrUnitPanic — panic при обработке unit'а.
	ErrUnitPanic = errors.New("unit processing panicked")
)
