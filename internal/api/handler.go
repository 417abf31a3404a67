package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/orchestrator"
	"github.com/shaiso/Harvester/internal/repo"
	"github.com/shaiso/Harvester/internal/scheduler"
)

const defaultMaxRuntime = 4 * time.Hour

// UnitStore — work queue.
type UnitStore interface {
	Create(ctx context.Context, unit *domain.UnitOfWork) error
	GetByGUID(ctx context.Context, guid uuid.UUID) (*domain.UnitOfWork, error)
	List(ctx context.Context, filter repo.UnitFilter) ([]domain.UnitOfWork, error)
}

// RunStore — история runs.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.HarvestRun, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.HarvestRun, error)
}

// CheckpointReader читает checkpoint unit'а provider'а.
type CheckpointReader interface {
	Load(ctx context.Context, provider string, unitGUID uuid.UUID) ([]domain.ReportTask, error)
}

// Dispatcher запускает runs.
type Dispatcher interface {
	Providers() []string
	Running() []string
	Start(ctx context.Context, provider string, opts orchestrator.Options) error
}

// Schedule отдаёт ближайшие запуски по cron.
type Schedule interface {
	Upcoming() []scheduler.Due
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	units       UnitStore
	runs        RunStore
	checkpoints CheckpointReader
	dispatcher  Dispatcher
	schedule    Schedule
	runCtx      context.Context
	maxRuntime  func(provider string) time.Duration
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Units       UnitStore
	Runs        RunStore
	Checkpoints CheckpointReader
	Dispatcher  Dispatcher

	// Schedule — опционально (daemon без cron).
	Schedule Schedule

	// RunContext — контекст процесса для запускаемых runs.
	// Run не должен прерываться вместе с HTTP запросом.
	RunContext context.Context

	// MaxRuntime — budget provider'а, если запрос его не задал.
	MaxRuntime func(provider string) time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RunContext == nil {
		cfg.RunContext = context.Background()
	}
	if cfg.MaxRuntime == nil {
		cfg.MaxRuntime = func(string) time.Duration { return defaultMaxRuntime }
	}
	return &Handler{
		units:       cfg.Units,
		runs:        cfg.Runs,
		checkpoints: cfg.Checkpoints,
		dispatcher:  cfg.Dispatcher,
		schedule:    cfg.Schedule,
		runCtx:      cfg.RunContext,
		maxRuntime:  cfg.MaxRuntime,
		logger:      cfg.Logger,
	}
}
