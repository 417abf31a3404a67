package source

import "errors"

// Ошибки sources.
var (
	// ErrPoisonEntity — у entity нет обязательных метаданных.
	// Все units этой entity пропускаются до конца run.
	ErrPoisonEntity = errors.New("entity cannot be harvested")

	// ErrNoToken — асинхронный provider не вернул token.
	ErrNoToken = errors.New("submit response has no token")

	// ErrNoDownloadURL — нечего скачивать: нет ни URL, ни шаблона download.
	ErrNoDownloadURL = errors.New("no download url")

	// ErrMalformedResponse — ответ provider'а не удалось разобрать.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrTemplate — ошибка шаблона запроса.
	ErrTemplate = errors.New("request template error")
)
