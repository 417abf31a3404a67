package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/planner"
	"github.com/shaiso/Harvester/internal/retry"
	"github.com/shaiso/Harvester/internal/source"
	"github.com/shaiso/Harvester/internal/worker"
)

// processUnit проводит один unit через весь цикл.
//
// ctx отменяется по budget и используется для вызовов provider'а;
// finalCtx — для записей в work queue и checkpoint store.
func (e *Engine) processUnit(ctx, finalCtx context.Context, budget *domain.RuntimeBudget, unit *domain.UnitOfWork, opts Options, stats *runStats, logger *slog.Logger) (domain.UnitStatus, error) {
	unit.Provider = e.cfg.Provider

	// 1. RUNNING
	if err := e.cfg.Queue.UpdateStatus(finalCtx, unit.ID, domain.UnitStatusRunning, ""); err != nil {
		return unit.Status, fmt.Errorf("mark running: %w", err)
	}
	unit.Status = domain.UnitStatusRunning

	// 2. Checkpoint
	cp, err := e.cfg.Checkpoints.Load(finalCtx, unit.GUID)
	if err != nil {
		err = fmt.Errorf("%w: load: %w", ErrCheckpoint, err)
		return e.markError(finalCtx, unit, err, logger), err
	}

	// 3. Sub-entities
	subEntities, err := e.listSubEntities(ctx, budget, unit)
	if err != nil {
		if isBudget(ctx, err) {
			stats.budget.Store(true)
			return e.markPending(finalCtx, unit, logger), nil
		}
		if errors.Is(err, source.ErrPoisonEntity) {
			stats.skipList.Store(unit.EntityID, struct{}{})
			logger.Warn("entity added to skip-list", "error", err)
		}
		return e.markError(finalCtx, unit, err, logger), err
	}

	// 4. Dimension ledger
	now := e.now()
	dimsDone, err := e.dimensionsDone(finalCtx, unit, now)
	if err != nil {
		err = fmt.Errorf("%w: dimension ledger: %w", ErrCheckpoint, err)
		return e.markError(finalCtx, unit, err, logger), err
	}
	dimsDone, claimed := e.claimDimensions(unit, dimsDone, stats)
	var tasks []domain.ReportTask
	defer func() { e.releaseDimensions(unit, claimed, tasks, stats) }()

	// 5. Plan + запись намерения до первого submit
	plan := planner.Plan(planner.Input{
		Unit:             unit,
		Definitions:      e.cfg.Definitions,
		Checkpoint:       cp,
		SubEntities:      subEntities,
		DimensionsDone:   dimsDone,
		Now:              now,
		Horizon:          e.cfg.Horizon,
		RetryFailed:      opts.RetryFailed,
		DefaultBatchSize: e.cfg.DefaultBatchSize,
	})

	logger.Info("unit planned",
		"tasks", len(plan.Tasks),
		"kept", plan.Kept,
		"replaced", plan.Replaced,
		"dropped", plan.Dropped,
		"created", plan.Created,
		"dimensions_skipped", plan.Dimensions,
	)

	state := newUnitState(unit, plan.Tasks, e.cfg.Checkpoints)
	if err := state.Save(finalCtx); err != nil {
		err = fmt.Errorf("%w: save plan: %w", ErrCheckpoint, err)
		return e.markError(finalCtx, unit, err, logger), err
	}

	// 6. Tasks
	outcome := e.runTasks(ctx, finalCtx, budget, unit, state, logger)

	if outcome.commitErr != nil {
		err := fmt.Errorf("%w: %w", ErrCheckpoint, outcome.commitErr)
		return e.markError(finalCtx, unit, err, logger), err
	}

	tasks = state.Snapshot()

	// 7. Dimension-маркеры ставятся только после успешного download
	e.markDimensions(finalCtx, unit, tasks, now, logger)

	// Budget кончился до оценки: unit продолжит следующий run
	if outcome.budget {
		stats.budget.Store(true)
		return e.markPending(finalCtx, unit, logger), outcome.taskErr
	}

	// 8. Completion
	ev, err := e.aggregator.Finalize(finalCtx, unit, tasks)
	if err != nil {
		return unit.Status, fmt.Errorf("finalize: %w", err)
	}

	if ev.Status == domain.UnitStatusComplete && e.cfg.Notifier != nil {
		if err := e.cfg.Notifier.PublishUnitCompleted(finalCtx, unit); err != nil {
			logger.Warn("failed to publish unit.completed", "error", err)
		}
	}

	return ev.Status, outcome.taskErr
}

// listSubEntities вызывает SubEntityLister, если он нужен definitions.
func (e *Engine) listSubEntities(ctx context.Context, budget *domain.RuntimeBudget, unit *domain.UnitOfWork) ([]string, error) {
	lister, ok := e.cfg.Source.(source.SubEntityLister)
	if !ok {
		return nil, nil
	}

	needed := false
	for _, d := range e.cfg.Definitions {
		if d.PerSubEntity {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	return retry.Do(ctx, e.cfg.Executor, budget, "list_sub_entities", func(ctx context.Context) ([]string, error) {
		return lister.ListSubEntities(ctx, unit)
	})
}

// dimensionsDone возвращает dimension-only definitions, уже скачанные сегодня.
func (e *Engine) dimensionsDone(ctx context.Context, unit *domain.UnitOfWork, now time.Time) (map[string]bool, error) {
	if e.cfg.Dimensions == nil {
		return nil, nil
	}

	done := make(map[string]bool)
	for _, d := range e.cfg.Definitions {
		if !d.DimensionOnly {
			continue
		}
		ok, err := e.cfg.Dimensions.HasDimension(ctx, unit.EntityID, d.ID, now)
		if err != nil {
			return nil, err
		}
		if ok {
			done[d.ID] = true
		}
	}
	return done, nil
}

// claimDimensions закрепляет за unit'ом dimension-only definitions его
// entity на время run. Definitions, закреплённые другим unit'ом того же
// run, считаются уже скачанными.
func (e *Engine) claimDimensions(unit *domain.UnitOfWork, done map[string]bool, stats *runStats) (map[string]bool, []string) {
	if e.cfg.Dimensions == nil {
		return done, nil
	}

	var claimed []string
	for _, d := range e.cfg.Definitions {
		if !d.DimensionOnly || done[d.ID] {
			continue
		}
		owner, loaded := stats.dimensions.LoadOrStore(dimensionKey(unit.EntityID, d.ID), unit.GUID)
		if loaded && owner != unit.GUID {
			if done == nil {
				done = make(map[string]bool)
			}
			done[d.ID] = true
			continue
		}
		claimed = append(claimed, d.ID)
	}
	return done, claimed
}

// releaseDimensions снимает закрепление с definitions, которые unit не
// скачал: их попробует следующий unit этой entity.
func (e *Engine) releaseDimensions(unit *domain.UnitOfWork, claimed []string, tasks []domain.ReportTask, stats *runStats) {
	for _, id := range claimed {
		downloaded := false
		for i := range tasks {
			if tasks[i].DefinitionID == id && tasks[i].State == domain.TaskStateDownloaded {
				downloaded = true
				break
			}
		}
		if !downloaded {
			stats.dimensions.CompareAndDelete(dimensionKey(unit.EntityID, id), unit.GUID)
		}
	}
}

func dimensionKey(entityID, defID string) string {
	return entityID + "/" + defID
}

func (e *Engine) markDimensions(ctx context.Context, unit *domain.UnitOfWork, tasks []domain.ReportTask, now time.Time, logger *slog.Logger) {
	if e.cfg.Dimensions == nil {
		return
	}
	for i := range tasks {
		t := &tasks[i]
		def, ok := e.defs[t.DefinitionID]
		if !ok || !def.DimensionOnly || t.State != domain.TaskStateDownloaded {
			continue
		}
		if err := e.cfg.Dimensions.MarkDimension(ctx, unit.EntityID, def.ID, now); err != nil {
			logger.Warn("failed to mark dimension", "definition_id", def.ID, "error", err)
		}
	}
}

// markError переводит unit в ERROR. Checkpoint не трогается.
func (e *Engine) markError(ctx context.Context, unit *domain.UnitOfWork, cause error, logger *slog.Logger) domain.UnitStatus {
	unit.Error = cause.Error()
	if err := e.cfg.Queue.UpdateStatus(ctx, unit.ID, domain.UnitStatusError, unit.Error); err != nil {
		logger.Error("failed to mark unit error", "error", err)
		return unit.Status
	}
	unit.Status = domain.UnitStatusError
	return unit.Status
}

// markPending возвращает unit в PENDING.
func (e *Engine) markPending(ctx context.Context, unit *domain.UnitOfWork, logger *slog.Logger) domain.UnitStatus {
	if err := e.cfg.Queue.UpdateStatus(ctx, unit.ID, domain.UnitStatusPending, ""); err != nil {
		logger.Error("failed to return unit to pending", "error", err)
		return unit.Status
	}
	unit.Status = domain.UnitStatusPending
	logger.Info("unit left pending, runtime budget exhausted")
	return unit.Status
}

// taskOutcome — итог обработки tasks unit'а.
type taskOutcome struct {
	// budget — хотя бы один task остановлен по budget.
	budget bool

	// commitErr — checkpoint не записан, дальше unit обрабатывать нельзя.
	commitErr error

	// taskErr — первая ошибка task'а, не отражённая в его состоянии
	// (например, download не удался).
	taskErr error
}

// group — tasks, выполняемые последовательно.
type group struct {
	def     domain.ReportDefinition
	indexes []int
}

// groups раскладывает нетерминальные tasks: Serial definition — одна
// группа на все его tasks, иначе группа на task.
func (e *Engine) groups(state *unitState) []group {
	var out []group
	serial := make(map[string]int)

	for i := 0; i < state.Len(); i++ {
		t := state.Task(i)
		if t.State.IsTerminal() {
			continue
		}
		def, ok := e.defs[t.DefinitionID]
		if !ok {
			continue
		}
		if def.Serial {
			if g, ok := serial[def.ID]; ok {
				out[g].indexes = append(out[g].indexes, i)
				continue
			}
			serial[def.ID] = len(out)
		}
		out = append(out, group{def: def, indexes: []int{i}})
	}
	return out
}

// runTasks продвигает tasks unit'а пулом до TaskParallelism.
func (e *Engine) runTasks(ctx, finalCtx context.Context, budget *domain.RuntimeBudget, unit *domain.UnitOfWork, state *unitState, logger *slog.Logger) taskOutcome {
	var (
		mu  sync.Mutex
		out taskOutcome
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, worker.ErrCommit):
			if out.commitErr == nil {
				out.commitErr = err
			}
		case isBudget(ctx, err):
			out.budget = true
		case errors.Is(err, worker.ErrPollLimit):
			// Task остаётся POLLING, unit — PENDING
		default:
			if out.taskErr == nil {
				out.taskErr = err
			}
		}
	}
	stop := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return out.commitErr != nil
	}

	// Переходы пишутся в checkpoint даже после истечения budget
	commit := func(_ context.Context, t domain.ReportTask) error {
		return state.commit(finalCtx, t)
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.TaskParallelism)

	for _, grp := range e.groups(state) {
		g.Go(func() error {
			for _, i := range grp.indexes {
				if stop() {
					return nil
				}
				if budget.Expired() || ctx.Err() != nil {
					record(retry.ErrBudgetExceeded)
					return nil
				}

				task := state.Task(i)
				err := e.cfg.Machine.Advance(ctx, budget, unit, grp.def, &task, commit)
				if err == nil {
					continue
				}

				logger.Warn("task not finished",
					"task", task.Key(),
					"state", task.State,
					"error", err,
				)
				record(err)

				// Serial: следующий task зависит от этого
				if grp.def.Serial {
					return nil
				}
			}
			return nil
		})
	}

	_ = g.Wait()
	return out
}
