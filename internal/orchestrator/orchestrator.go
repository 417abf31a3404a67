package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Harvester/internal/checkpoint"
	"github.com/shaiso/Harvester/internal/completion"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/retry"
	"github.com/shaiso/Harvester/internal/source"
	"github.com/shaiso/Harvester/internal/telemetry"
	"github.com/shaiso/Harvester/internal/worker"
)

// Default configuration values.
const (
	defaultFetchLimit      = 100
	defaultUnitParallelism = 1
	defaultTaskParallelism = 1
	defaultHorizon         = 30 * 24 * time.Hour
)

// WorkQueue — очередь units of work.
type WorkQueue interface {
	// FetchPending возвращает PENDING units provider'а и RUNNING,
	// брошенные упавшим процессом.
	FetchPending(ctx context.Context, provider string, limit int) ([]domain.UnitOfWork, error)

	completion.UnitWriter
}

// ActiveLister возвращает GUID'ы units, чьи checkpoints ещё нужны.
type ActiveLister interface {
	ListActiveGUIDs(ctx context.Context, provider string) ([]uuid.UUID, error)
}

// RunRecorder ведёт историю run'ов.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.HarvestRun) error
	Finish(ctx context.Context, run *domain.HarvestRun) error
}

// Notifier сообщает downstream о готовых units.
type Notifier interface {
	PublishUnitCompleted(ctx context.Context, unit *domain.UnitOfWork) error
}

// dimensionPruner — store, умеющий удалять старые dimension-маркеры.
type dimensionPruner interface {
	PruneDimensions(ctx context.Context, before time.Time) (int, error)
}

// Config — конфигурация Engine.
type Config struct {
	// Provider — имя provider'а; units выбираются по нему.
	Provider string

	Definitions []domain.ReportDefinition

	// Source — provider отчётов (для sub-entities).
	Source source.Source

	// Executor — retry executor provider'а.
	Executor *retry.Executor

	// Machine — state machine tasks.
	Machine *worker.Machine

	Queue       WorkQueue
	Checkpoints checkpoint.Store

	// Dimensions — ledger справочных отчётов (опционально).
	Dimensions checkpoint.DimensionLedger

	// Active — источник активных GUID'ов для cleanup (опционально).
	Active ActiveLister

	// Runs — история run'ов (опционально).
	Runs RunRecorder

	// Notifier — уведомления о COMPLETE units (опционально).
	Notifier Notifier

	UnitParallelism  int           // default: 1
	TaskParallelism  int           // default: 1
	FetchLimit       int           // default: 100
	MaxErrors        int           // 0 — без лимита
	Horizon          time.Duration // default: 30 дней
	DefaultBatchSize int

	Logger *slog.Logger
	Clock  func() time.Time
}

// Engine — Harvest Engine одного provider'а.
type Engine struct {
	cfg        Config
	defs       map[string]domain.ReportDefinition
	aggregator *completion.Aggregator
	logger     *slog.Logger
	now        func() time.Time
	running    atomic.Bool
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	if cfg.UnitParallelism <= 0 {
		cfg.UnitParallelism = defaultUnitParallelism
	}
	if cfg.TaskParallelism <= 0 {
		cfg.TaskParallelism = defaultTaskParallelism
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaultFetchLimit
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = telemetry.WithProvider(logger, cfg.Provider)

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	if cfg.Executor == nil {
		cfg.Executor = retry.New(retry.Config{Provider: cfg.Provider, Logger: logger})
	}

	defs := make(map[string]domain.ReportDefinition, len(cfg.Definitions))
	for _, d := range cfg.Definitions {
		defs[d.ID] = d
	}

	return &Engine{
		cfg:        cfg,
		defs:       defs,
		aggregator: completion.NewAggregator(cfg.Queue, cfg.Checkpoints, logger),
		logger:     logger,
		now:        now,
	}
}

// Provider возвращает имя provider'а.
func (e *Engine) Provider() string {
	return e.cfg.Provider
}

// Running возвращает true, пока идёт run.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Options — параметры одного run.
type Options struct {
	// MaxRuntime — runtime budget.
	MaxRuntime time.Duration

	// Trigger — источник запуска для истории: cli, cron, api, mq.
	Trigger string

	// RetryFailed — ручной retry FAILED tasks.
	RetryFailed bool
}

// runStats — общие счётчики workers одного run.
type runStats struct {
	processed atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64
	complete  atomic.Int64
	pending   atomic.Int64
	failed    atomic.Int64
	budget    atomic.Bool
	tooMany   atomic.Bool

	// skipList — entities, чьи units пропускаются до конца run.
	skipList sync.Map

	// dimensions — entity/definition -> GUID unit'а, который скачивает
	// dimension-only отчёт в этом run.
	dimensions sync.Map
}

func (s *runStats) result(d time.Duration) domain.RunResult {
	return domain.RunResult{
		Processed:      int(s.processed.Load()),
		Skipped:        int(s.skipped.Load()),
		ErrorCount:     int(s.errors.Load()),
		Complete:       int(s.complete.Load()),
		Pending:        int(s.pending.Load()),
		Failed:         int(s.failed.Load()),
		BudgetExceeded: s.budget.Load(),
		Duration:       d,
	}
}

func (s *runStats) isSkipped(entityID string) bool {
	_, ok := s.skipList.Load(entityID)
	return ok
}

// Run выполняет один run с runtime budget maxRuntime.
func (e *Engine) Run(ctx context.Context, maxRuntime time.Duration) (domain.RunResult, error) {
	return e.RunWith(ctx, Options{MaxRuntime: maxRuntime})
}

// RunWith выполняет один run.
//
// Возвращает ошибку, только если run не удалось начать или исчерпан
// лимит ошибок; ошибки отдельных units отражены в RunResult.ErrorCount.
func (e *Engine) RunWith(ctx context.Context, opts Options) (domain.RunResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return domain.RunResult{}, fmt.Errorf("%w: %s", ErrRunInProgress, e.cfg.Provider)
	}
	defer e.running.Store(false)

	start := e.now()
	budget := domain.NewRuntimeBudgetAt(start, opts.MaxRuntime, e.now)

	run := &domain.HarvestRun{
		ID:        uuid.New(),
		Provider:  e.cfg.Provider,
		Status:    domain.RunStatusRunning,
		Trigger:   opts.Trigger,
		StartedAt: start.UTC(),
	}
	logger := telemetry.WithRunID(e.logger, run.ID.String())

	// Финальные записи не должны отменяться вместе с budget
	finalCtx := context.WithoutCancel(ctx)

	if e.cfg.Runs != nil {
		if err := e.cfg.Runs.Create(finalCtx, run); err != nil {
			logger.Warn("failed to record run start", "error", err)
		}
	}

	logger.Info("harvest run started",
		"max_runtime", opts.MaxRuntime,
		"trigger", opts.Trigger,
		"retry_failed", opts.RetryFailed,
	)

	stats := &runStats{}
	runErr := e.runUnits(ctx, budget, opts, stats, logger)

	e.cleanup(finalCtx, logger)

	res := stats.result(e.now().Sub(start))
	run.Finish(res)

	if e.cfg.Runs != nil {
		if err := e.cfg.Runs.Finish(finalCtx, run); err != nil {
			logger.Warn("failed to record run result", "error", err)
		}
	}
	telemetry.RunDuration.WithLabelValues(e.cfg.Provider, string(run.Status)).Observe(res.Duration.Seconds())

	logger.Info("harvest run finished",
		"status", run.Status,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"errors", res.ErrorCount,
		"complete", res.Complete,
		"pending", res.Pending,
		"failed", res.Failed,
		"budget_exceeded", res.BudgetExceeded,
		"duration", res.Duration,
	)

	return res, runErr
}

// runUnits выбирает units и обрабатывает их пулом.
func (e *Engine) runUnits(ctx context.Context, budget *domain.RuntimeBudget, opts Options, stats *runStats, logger *slog.Logger) error {
	finalCtx := context.WithoutCancel(ctx)

	units, err := e.cfg.Queue.FetchPending(finalCtx, e.cfg.Provider, e.cfg.FetchLimit)
	if err != nil {
		return fmt.Errorf("fetch pending units: %w", err)
	}
	logger.Debug("fetched units", "count", len(units))

	runCtx, cancel := budget.Context(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(e.cfg.UnitParallelism)

	for i := range units {
		unit := &units[i]

		if e.halted(ctx, runCtx, budget, stats) {
			e.leaveUnstarted(finalCtx, units[i:], stats, logger)
			break
		}

		if stats.isSkipped(unit.EntityID) {
			stats.skipped.Add(1)
			continue
		}

		// Go блокируется, пока все слоты заняты: за это время budget
		// или лимит ошибок могли кончиться
		g.Go(func() error {
			if e.halted(ctx, runCtx, budget, stats) {
				e.leaveUnstarted(finalCtx, units[i:i+1], stats, logger)
				return nil
			}
			e.runUnit(runCtx, finalCtx, budget, unit, opts, stats, logger)
			return nil
		})
	}

	_ = g.Wait()

	if stats.tooMany.Load() {
		return fmt.Errorf("%w: %d", ErrTooManyErrors, stats.errors.Load())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// halted возвращает true, если новые units запускать нельзя.
func (e *Engine) halted(ctx, runCtx context.Context, budget *domain.RuntimeBudget, stats *runStats) bool {
	if budget.Expired() || runCtx.Err() != nil {
		if ctx.Err() == nil {
			stats.budget.Store(true)
		}
		return true
	}
	if e.cfg.MaxErrors > 0 && stats.errors.Load() >= int64(e.cfg.MaxErrors) {
		stats.tooMany.Store(true)
		return true
	}
	return false
}

// runUnit обрабатывает unit и учитывает итог. Panic не выходит за его границу.
func (e *Engine) runUnit(ctx, finalCtx context.Context, budget *domain.RuntimeBudget, unit *domain.UnitOfWork, opts Options, stats *runStats, logger *slog.Logger) {
	logger = telemetry.WithUnit(logger, unit.GUID.String(), unit.EntityID, unit.DateString())

	// Entity могла попасть в skip-list, пока unit ждал слота
	if stats.isSkipped(unit.EntityID) {
		stats.skipped.Add(1)
		return
	}
	stats.processed.Add(1)

	status, err := func() (status domain.UnitStatus, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrUnitPanic, r)
				status = e.markError(finalCtx, unit, err, logger)
			}
		}()
		return e.processUnit(ctx, finalCtx, budget, unit, opts, stats, logger)
	}()

	switch status {
	case domain.UnitStatusComplete:
		stats.complete.Add(1)
	case domain.UnitStatusError:
		stats.failed.Add(1)
	default:
		stats.pending.Add(1)
	}

	if err != nil || status == domain.UnitStatusError {
		n := stats.errors.Add(1)
		logger.Error("unit failed",
			"status", status,
			"error", err,
			"unit_error", unit.Error,
			"run_errors", n,
		)
	}
}

// leaveUnstarted учитывает не запущенные units. Брошенные RUNNING
// возвращаются в PENDING.
func (e *Engine) leaveUnstarted(ctx context.Context, units []domain.UnitOfWork, stats *runStats, logger *slog.Logger) {
	stats.skipped.Add(int64(len(units)))
	for i := range units {
		if units[i].Status != domain.UnitStatusRunning {
			continue
		}
		if err := e.cfg.Queue.UpdateStatus(ctx, units[i].ID, domain.UnitStatusPending, ""); err != nil {
			logger.Warn("failed to reset abandoned unit", "unit_guid", units[i].GUID, "error", err)
		}
	}
}

// cleanup удаляет checkpoints неактивных units и вчерашние dimension-маркеры.
func (e *Engine) cleanup(ctx context.Context, logger *slog.Logger) {
	if e.cfg.Active != nil {
		active, err := e.cfg.Active.ListActiveGUIDs(ctx, e.cfg.Provider)
		if err != nil {
			logger.Warn("checkpoint cleanup skipped", "error", err)
		} else {
			n, err := e.cfg.Checkpoints.Cleanup(ctx, active)
			if err != nil {
				logger.Warn("checkpoint cleanup failed", "error", err)
			} else if n > 0 {
				logger.Info("stale checkpoints removed", "count", n)
			}
		}
	}

	if p, ok := e.cfg.Checkpoints.(dimensionPruner); ok {
		today := e.now().UTC().Truncate(24 * time.Hour)
		if n, err := p.PruneDimensions(ctx, today); err != nil {
			logger.Warn("dimension ledger prune failed", "error", err)
		} else if n > 0 {
			logger.Debug("old dimension markers removed", "count", n)
		}
	}
}

// isBudget — ошибка означает исчерпанный budget или отмену run'а.
// Контекстная ошибка в цепочке учитывается, только если отменён ctx run'а:
// таймаут запроса к provider'у — обычная ошибка попытки.
func isBudget(ctx context.Context, err error) bool {
	if errors.Is(err, retry.ErrBudgetExceeded) {
		return true
	}
	return ctx.Err() != nil &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}
