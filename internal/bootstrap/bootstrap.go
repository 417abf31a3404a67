// Package bootstrap собирает зависимости Harvester для обоих бинарников.
//
// Env → object storage (checkpoints, artifacts), PostgreSQL (work queue,
// история runs), провайдеры → по одному Harvest Engine на provider.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Harvester/internal/artifact"
	"github.com/shaiso/Harvester/internal/blob"
	"github.com/shaiso/Harvester/internal/checkpoint"
	"github.com/shaiso/Harvester/internal/config"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/orchestrator"
	"github.com/shaiso/Harvester/internal/ratelimit"
	"github.com/shaiso/Harvester/internal/repo"
	"github.com/shaiso/Harvester/internal/retry"
	"github.com/shaiso/Harvester/internal/scheduler"
	"github.com/shaiso/Harvester/internal/source"
	"github.com/shaiso/Harvester/internal/worker"
)

// ErrMissingDependency — не передана обязательная зависимость.
var ErrMissingDependency = errors.New("missing dependency")

// Stores — object storage процесса.
type Stores struct {
	Bucket      blob.Bucket
	Checkpoints *CheckpointStores
	Sink        *artifact.BlobSink
}

// Close освобождает клиент storage, если он его держит.
func (s *Stores) Close() error {
	if c, ok := s.Bucket.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OpenStores открывает bucket и создаёт checkpoint stores и artifact sink.
func OpenStores(ctx context.Context, env *config.Env, logger *slog.Logger) (*Stores, error) {
	bucket, err := blob.Open(ctx, env.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob storage: %w", err)
	}
	return &Stores{
		Bucket:      bucket,
		Checkpoints: NewCheckpointStores(bucket, env.CheckpointPrefix, logger),
		Sink:        artifact.NewBlobSink(bucket, env.ArtifactPrefix),
	}, nil
}

// CheckpointStores — checkpoint stores provider'ов в одном bucket.
//
// У каждого provider'а свой префикс <prefix>/<provider>: cleanup после run
// удаляет всё, что не активно у этого provider'а, и не должен задевать чужие units.
type CheckpointStores struct {
	bucket blob.Bucket
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*checkpoint.BlobStore
}

// NewCheckpointStores создаёт CheckpointStores.
func NewCheckpointStores(bucket blob.Bucket, prefix string, logger *slog.Logger) *CheckpointStores {
	return &CheckpointStores{
		bucket: bucket,
		prefix: prefix,
		logger: logger,
		stores: make(map[string]*checkpoint.BlobStore),
	}
}

// For возвращает store provider'а.
func (c *CheckpointStores) For(provider string) *checkpoint.BlobStore {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stores[provider]
	if !ok {
		s = checkpoint.NewBlobStore(checkpoint.Config{
			Bucket: c.bucket,
			Prefix: path.Join(c.prefix, provider),
			Logger: c.logger,
		})
		c.stores[provider] = s
	}
	return s
}

// Load читает checkpoint unit'а provider'а.
func (c *CheckpointStores) Load(ctx context.Context, provider string, unitGUID uuid.UUID) ([]domain.ReportTask, error) {
	return c.For(provider).Load(ctx, unitGUID)
}

// Delete удаляет checkpoint unit'а provider'а.
func (c *CheckpointStores) Delete(ctx context.Context, provider string, unitGUID uuid.UUID) error {
	return c.For(provider).Delete(ctx, unitGUID)
}

// Database — pool и репозитории.
type Database struct {
	Pool  *pgxpool.Pool
	Units *repo.UnitRepo
	Runs  *repo.RunRepo
}

// Close закрывает pool.
func (d *Database) Close() {
	d.Pool.Close()
}

// OpenDatabase подключается к PostgreSQL. Пустой DSN — repo.DefaultDSN.
func OpenDatabase(ctx context.Context, dsn string) (*Database, error) {
	pool, err := repo.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Database{
		Pool:  pool,
		Units: repo.NewUnitRepo(pool),
		Runs:  repo.NewRunRepo(pool),
	}, nil
}

// Deps — общие для всех provider'ов зависимости Engine.
type Deps struct {
	Queue       orchestrator.WorkQueue
	Active      orchestrator.ActiveLister
	Runs        orchestrator.RunRecorder
	Notifier    orchestrator.Notifier
	Checkpoints *CheckpointStores
	Sink        artifact.Sink
	Logger      *slog.Logger
}

// NewSource создаёт источник отчётов provider'а.
// Переопределяется в тестах.
var NewSource = func(p *config.Provider) (source.Source, error) {
	return source.NewHTTPSource(p.SourceConfig())
}

// BuildEngine собирает Engine одного provider'а: source, limiter,
// retry executor, state machine.
func BuildEngine(p *config.Provider, deps Deps) (*orchestrator.Engine, error) {
	if deps.Queue == nil || deps.Checkpoints == nil || deps.Sink == nil {
		return nil, fmt.Errorf("%w: queue, checkpoints and sink are required", ErrMissingDependency)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	src, err := NewSource(p)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}

	strategy, err := p.BackoffStrategy()
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}
	noData, err := p.NoData()
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}

	var refresh retry.RefreshFunc
	if r, ok := src.(source.Refresher); ok {
		refresh = r.Refresh
	}

	// Один limiter на provider: его делят все workers процесса
	limiter := ratelimit.New(p.LimiterConfig())

	exec := retry.New(retry.Config{
		Provider: p.Name,
		Backoff:  strategy,
		Limiter:  limiter,
		Classify: retry.HTTPClassifier(p.ResetHeader, nil),
		Refresh:  refresh,
		Logger:   logger,
	})

	store := deps.Checkpoints.For(p.Name)

	machine := worker.New(worker.Config{
		Source:       src,
		Executor:     exec,
		Sink:         deps.Sink,
		PollInterval: p.PollInterval.D(),
		MaxPolls:     p.MaxPolls,
		Horizon:      p.ValidityHorizon.D(),
		NoData:       noData,
		Logger:       logger,
	})

	return orchestrator.New(orchestrator.Config{
		Provider:         p.Name,
		Definitions:      p.Definitions,
		Source:           src,
		Executor:         exec,
		Machine:          machine,
		Queue:            deps.Queue,
		Checkpoints:      store,
		Dimensions:       store,
		Active:           deps.Active,
		Runs:             deps.Runs,
		Notifier:         deps.Notifier,
		UnitParallelism:  p.UnitParallelism,
		TaskParallelism:  p.TaskParallelism,
		FetchLimit:       p.FetchLimit,
		MaxErrors:        p.MaxErrors,
		Horizon:          p.ValidityHorizon.D(),
		DefaultBatchSize: p.DefaultBatchSize,
		Logger:           logger,
	}), nil
}

// BuildEngines собирает Engine для каждого provider'а файла.
func BuildEngines(ps *config.Providers, deps Deps) ([]*orchestrator.Engine, error) {
	engines := make([]*orchestrator.Engine, 0, len(ps.Providers))
	for i := range ps.Providers {
		e, err := BuildEngine(&ps.Providers[i], deps)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// MaxRuntime возвращает runtime budget provider'а или fallback.
func MaxRuntime(p *config.Provider, fallback time.Duration) time.Duration {
	if d := p.MaxRuntime.D(); d > 0 {
		return d
	}
	return fallback
}

// ScheduleEntries возвращает расписания provider'ов с cron.
func ScheduleEntries(ps *config.Providers, defaultMaxRuntime time.Duration) []scheduler.Entry {
	var entries []scheduler.Entry
	for i := range ps.Providers {
		p := &ps.Providers[i]
		if p.Schedule == "" {
			continue
		}
		entries = append(entries, scheduler.Entry{
			Provider:   p.Name,
			Cron:       p.Schedule,
			Timezone:   p.Timezone,
			MaxRuntime: MaxRuntime(p, defaultMaxRuntime),
		})
	}
	return entries
}
