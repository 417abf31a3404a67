package blob

import (
	"context"
	"fmt"
)

// Backend — вид object storage.
type Backend string

const (
	BackendS3     Backend = "s3"
	BackendGCS    Backend = "gcs"
	BackendDir    Backend = "dir"
	BackendMemory Backend = "memory"
)

// Config — выбор и параметры backend'а.
type Config struct {
	Backend   Backend
	S3        S3Config
	GCSBucket string
	Dir       string
}

// Open создаёт Bucket по конфигурации.
func Open(ctx context.Context, cfg Config) (Bucket, error) {
	switch cfg.Backend {
	case BackendS3:
		return NewS3Bucket(ctx, cfg.S3)
	case BackendGCS:
		return NewGCSBucket(ctx, cfg.GCSBucket)
	case BackendDir, "":
		return NewDirBucket(cfg.Dir)
	case BackendMemory:
		return NewMemoryBucket(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
