package checkpoint

import "errors"

// Ошибки checkpoint store.
var (
	// ErrCorrupt — checkpoint не удалось разобрать.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrVersion — неизвестная версия формата.
	ErrVersion = errors.New("unsupported checkpoint version")
)
