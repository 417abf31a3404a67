package worker

import "errors"

// Ошибки state machine.
var (
	// ErrDownloadFailed — отчёт готов, но скачать его не удалось.
	// Task остаётся COMPLETED: следующий run повторит только download.
	ErrDownloadFailed = errors.New("download failed")

	// ErrPollLimit — исчерпан лимит опросов за run, provider всё ещё строит отчёт.
	// Task остаётся POLLING.
	ErrPollLimit = errors.New("poll limit reached")

	// ErrCommit — не удалось сохранить переход в checkpoint.
	ErrCommit = errors.New("checkpoint commit failed")

	// ErrUnknownState — task в состоянии, которое machine не умеет продвигать.
	ErrUnknownState = errors.New("unknown task state")

	// ErrUnknownNoDataPolicy — неизвестное значение no-data policy.
	ErrUnknownNoDataPolicy = errors.New("unknown no-data policy")
)
