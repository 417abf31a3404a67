package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaiso/Harvester/internal/artifact"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/retry"
	"github.com/shaiso/Harvester/internal/source"
	"github.com/shaiso/Harvester/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 30 * time.Second
	defaultMaxPolls     = 120
)

// NoDataPolicy — что делать со статусом «нет данных».
type NoDataPolicy string

const (
	// NoDataFail — task FAILED без artifact'а.
	NoDataFail NoDataPolicy = "fail"

	// NoDataEmpty — task DOWNLOADED с пустым artifact'ом.
	NoDataEmpty NoDataPolicy = "empty"
)

// ParseNoDataPolicy разбирает policy из конфигурации. Пустая строка — NoDataFail.
func ParseNoDataPolicy(s string) (NoDataPolicy, error) {
	switch NoDataPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NoDataFail:
		return NoDataFail, nil
	case NoDataEmpty:
		return NoDataEmpty, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNoDataPolicy, s)
	}
}

// CommitFunc сохраняет task после перехода.
type CommitFunc func(ctx context.Context, task domain.ReportTask) error

// Config — конфигурация Machine.
type Config struct {
	// Source — provider отчётов.
	Source source.Source

	// Executor — retry executor provider'а.
	Executor *retry.Executor

	// Sink — куда пишутся скачанные отчёты.
	Sink artifact.Sink

	// PollInterval — пауза между опросами (default: 30s).
	PollInterval time.Duration

	// MaxPolls — лимит опросов одного task'а за run (default: 120).
	MaxPolls int

	// Horizon — validity horizon token'ов. 0 — без ограничения.
	Horizon time.Duration

	// NoData — policy для статуса «нет данных» (default: fail).
	NoData NoDataPolicy

	Logger *slog.Logger

	// Clock и Sleep подменяются в тестах.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Machine продвигает report tasks одного provider'а.
//
// Machine не хранит состояние task'ов и безопасна для параллельного
// использования разными unit'ами.
type Machine struct {
	provider     string
	src          source.Source
	poller       source.Poller
	exec         *retry.Executor
	sink         artifact.Sink
	pollInterval time.Duration
	maxPolls     int
	horizon      time.Duration
	noData       NoDataPolicy
	logger       *slog.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// New создаёт Machine.
func New(cfg Config) *Machine {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	noData := cfg.NoData
	if noData == "" {
		noData = NoDataFail
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	exec := cfg.Executor
	if exec == nil {
		exec = retry.New(retry.Config{Provider: cfg.Source.Name(), Logger: logger})
	}

	// Отсутствие Poller — отчёт готов сразу после submit
	poller, _ := cfg.Source.(source.Poller)

	return &Machine{
		provider:     cfg.Source.Name(),
		src:          cfg.Source,
		poller:       poller,
		exec:         exec,
		sink:         cfg.Sink,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		horizon:      max(cfg.Horizon, 0),
		noData:       noData,
		logger:       logger,
		now:          now,
		sleep:        sleep,
	}
}

// Advance продвигает task, пока он не станет терминальным
// или шаг не вернёт ошибку.
//
// task изменяется на месте; после каждого перехода вызывается commit.
func (m *Machine) Advance(ctx context.Context, budget *domain.RuntimeBudget, unit *domain.UnitOfWork, def domain.ReportDefinition, task *domain.ReportTask, commit CommitFunc) error {
	r := &run{
		Machine: m,
		budget:  budget,
		req:     source.Request{Unit: unit, Definition: def, Task: task},
		commit:  commit,
		logger:  telemetry.WithTask(m.logger, task.Key()),
	}

	for !task.State.IsTerminal() {
		var err error

		switch task.State {
		case domain.TaskStateNew:
			err = r.submit(ctx)
		case domain.TaskStateSubmitted, domain.TaskStatePolling:
			err = r.poll(ctx)
		case domain.TaskStateCompleted:
			err = r.download(ctx)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownState, task.State)
		}

		if err != nil {
			return r.handle(ctx, err)
		}
	}

	return nil
}

// run — состояние одного вызова Advance.
type run struct {
	*Machine
	budget *domain.RuntimeBudget
	req    source.Request
	commit CommitFunc
	logger *slog.Logger
	polls  int
}

// transition фиксирует переход: метрика, лог, commit.
func (r *run) transition(ctx context.Context, from domain.TaskState) error {
	task := r.req.Task
	telemetry.TaskTransitions.WithLabelValues(r.provider, string(task.State)).Inc()

	r.logger.Debug("task transition",
		"from", from,
		"to", task.State,
		"token", task.Token,
	)

	if r.commit == nil {
		return nil
	}
	if err := r.commit(ctx, *task); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommit, task.Key(), err)
	}
	return nil
}

// handle решает, что делать с ошибкой шага.
func (r *run) handle(ctx context.Context, err error) error {
	task := r.req.Task

	switch {
	case errors.Is(err, ErrCommit),
		errors.Is(err, ErrPollLimit),
		errors.Is(err, ErrDownloadFailed),
		errors.Is(err, retry.ErrBudgetExceeded):
		return err

	// Отменён сам run. Таймаут HTTP-клиента provider'а тоже несёт
	// context.DeadlineExceeded, но ctx run'а при этом жив
	case ctx.Err() != nil:
		return err

	case retry.IsFatal(err), errors.Is(err, retry.ErrRetryExhausted):
		from := task.State
		task.MarkFailed(err.Error())
		r.logger.Warn("task failed", "from", from, "error", err)
		return r.transition(ctx, from)

	default:
		return err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
