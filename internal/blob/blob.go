// Package blob — абстракция object storage для checkpoints и artifacts.
//
// Реализации:
//   - S3Bucket — AWS S3 и S3-совместимые хранилища (MinIO)
//   - GCSBucket — Google Cloud Storage
//   - DirBucket — локальная директория (разработка, single-node)
//   - MemoryBucket — in-memory (тесты)
//
// Все реализации должны вести себя одинаково: отсутствующий объект
// возвращает ErrNotExist из Get и игнорируется в Delete.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Ошибки object storage.
var (
	// ErrNotExist — объекта нет.
	ErrNotExist = errors.New("object does not exist")

	// ErrExists — объект уже существует (условная запись Create).
	ErrExists = errors.New("object already exists")
)

// Object — метаданные объекта из List.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Bucket — минимальный контракт object storage.
type Bucket interface {
	// Get открывает объект на чтение. ErrNotExist, если его нет.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put записывает объект целиком, перезаписывая существующий.
	// Возвращает число записанных байт.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)

	// Create записывает объект, только если его ещё нет. ErrExists иначе.
	Create(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)

	// Delete удаляет объект. Отсутствующий объект — не ошибка.
	Delete(ctx context.Context, key string) error

	// List возвращает объекты с заданным префиксом, отсортированные по ключу.
	List(ctx context.Context, prefix string) ([]Object, error)
}
