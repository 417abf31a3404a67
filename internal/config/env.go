// Package config читает конфигурацию Harvester.
//
// Два источника:
//   - переменные окружения (и .env файл) — инфраструктура: БД, RabbitMQ,
//     object storage, порты
//   - файл provider'ов (JSON, PROVIDERS_FILE) — что и как собирать
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/shaiso/Harvester/internal/blob"
)

// Default configuration values.
const (
	defaultProvidersFile    = "providers.json"
	defaultDaemonPort       = "8080"
	defaultMaxRuntime       = 4 * time.Hour
	defaultCheckpointPrefix = "harvester/checkpoints"
	defaultArtifactPrefix   = "harvester/raw"
	defaultBlobDir          = "./data"
)

// Env — инфраструктурная конфигурация процесса.
type Env struct {
	// DBURL — DSN PostgreSQL (work queue, история runs).
	DBURL string

	// RabbitURL — AMQP URL. Пусто — daemon работает без RabbitMQ.
	RabbitURL string

	// Blob — object storage для checkpoints и artifacts.
	Blob blob.Config

	CheckpointPrefix string
	ArtifactPrefix   string

	ProvidersFile string

	DaemonPort string

	// DefaultMaxRuntime — runtime budget, если не задан provider'ом или запросом.
	DefaultMaxRuntime time.Duration
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Env, error) {
	// .env необязателен
	_ = godotenv.Load()

	maxRuntime, err := getEnvDuration("DEFAULT_MAX_RUNTIME", defaultMaxRuntime)
	if err != nil {
		return nil, err
	}

	env := &Env{
		DBURL:     getEnv("DB_URL", ""),
		RabbitURL: getEnv("RABBITMQ_URL", ""),
		Blob: blob.Config{
			Backend: blob.Backend(getEnv("BLOB_BACKEND", string(blob.BackendDir))),
			S3: blob.S3Config{
				Bucket:          getEnv("S3_BUCKET", ""),
				Region:          getEnv("S3_REGION", "us-east-1"),
				AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
				Endpoint:        getEnv("S3_ENDPOINT", ""),
			},
			GCSBucket: getEnv("GCS_BUCKET", ""),
			Dir:       getEnv("BLOB_DIR", defaultBlobDir),
		},
		CheckpointPrefix:  getEnv("CHECKPOINT_PREFIX", defaultCheckpointPrefix),
		ArtifactPrefix:    getEnv("ARTIFACT_PREFIX", defaultArtifactPrefix),
		ProvidersFile:     getEnv("PROVIDERS_FILE", defaultProvidersFile),
		DaemonPort:        getEnv("DAEMON_PORT", defaultDaemonPort),
		DefaultMaxRuntime: maxRuntime,
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate проверяет обязательные параметры выбранного backend'а.
func (e *Env) Validate() error {
	switch e.Blob.Backend {
	case blob.BackendS3:
		if e.Blob.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for BLOB_BACKEND=s3")
		}
	case blob.BackendGCS:
		if e.Blob.GCSBucket == "" {
			return errors.New("GCS_BUCKET is required for BLOB_BACKEND=gcs")
		}
	case blob.BackendDir:
		if e.Blob.Dir == "" {
			return errors.New("BLOB_DIR is required for BLOB_BACKEND=dir")
		}
	case blob.BackendMemory:
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", e.Blob.Backend)
	}
	if e.CheckpointPrefix == e.ArtifactPrefix {
		return errors.New("CHECKPOINT_PREFIX and ARTIFACT_PREFIX must differ")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration принимает "90m", "2h" или число секунд.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if sec, err := strconv.Atoi(value); err == nil {
		return time.Duration(sec) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}
