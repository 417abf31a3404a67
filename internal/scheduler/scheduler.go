package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Harvester/internal/orchestrator"
)

// Default configuration values.
const (
	defaultTickInterval = time.Second
	defaultTimezone     = "UTC"
)

// Runner запускает run provider'а в фоне.
type Runner interface {
	Start(ctx context.Context, provider string, opts orchestrator.Options) error
}

// Entry — расписание одного provider'а.
type Entry struct {
	Provider string

	// Cron — cron-выражение или дескриптор (@daily, @every 6h).
	Cron string

	// Timezone — IANA timezone выражения. Пусто — UTC.
	Timezone string

	// MaxRuntime — runtime budget запускаемых runs.
	MaxRuntime time.Duration
}

// Config — конфигурация Scheduler.
type Config struct {
	Entries []Entry
	Runner  Runner

	// Leader — проверка лидерства перед тиком (опционально).
	// Несколько daemon'ов с общей БД не должны запускать один run дважды.
	Leader func(ctx context.Context) bool

	Logger *slog.Logger
	Clock  func() time.Time
}

type entry struct {
	Entry
	next time.Time
}

// Scheduler запускает runs provider'ов по cron.
type Scheduler struct {
	runner Runner
	leader func(ctx context.Context) bool
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []*entry
}

// New создаёт Scheduler. Ошибка — невалидное cron-выражение.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		runner: cfg.Runner,
		leader: cfg.Leader,
		logger: logger,
		now:    now,
	}

	start := now()
	for _, e := range cfg.Entries {
		if e.Cron == "" {
			continue
		}
		if e.Timezone == "" {
			e.Timezone = defaultTimezone
		}
		next, err := CalculateNextDue(e.Cron, e.Timezone, start)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", e.Provider, err)
		}
		s.entries = append(s.entries, &entry{Entry: e, next: next})
	}

	return s, nil
}

// Tick запускает runs, чьё время наступило.
//
// Следующее время считается от текущего момента: пропущенные тики
// (daemon был остановлен) не навёрстываются.
// Ошибка одного provider'а не мешает остальным.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	started := 0
	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}

		next, err := CalculateNextDue(e.Cron, e.Timezone, now)
		if err != nil {
			// Выражение проверено в New
			s.logger.Error("failed to calculate next due", "provider", e.Provider, "error", err)
			continue
		}
		due := e.next
		e.next = next

		err = s.runner.Start(ctx, e.Provider, orchestrator.Options{
			MaxRuntime: e.MaxRuntime,
			Trigger:    "cron",
		})
		switch {
		case errors.Is(err, orchestrator.ErrRunInProgress):
			s.logger.Info("scheduled run skipped, previous run still in progress",
				"provider", e.Provider,
				"due", due,
			)
		case err != nil:
			s.logger.Error("failed to start scheduled run", "provider", e.Provider, "error", err)
		default:
			started++
			s.logger.Info("scheduled run started",
				"provider", e.Provider,
				"due", due,
				"next_due", next,
			)
		}
	}
	return started
}

// Run тикает до отмены ctx. Без лидерства тики пропускаются.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			if s.leader != nil && !s.leader(ctx) {
				continue
			}
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Due — следующий run provider'а.
type Due struct {
	Provider string    `json:"provider"`
	Cron     string    `json:"cron"`
	Next     time.Time `json:"next"`
}

// Upcoming возвращает следующие runs по времени.
func (s *Scheduler) Upcoming() []Due {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Due, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Due{Provider: e.Provider, Cron: e.Cron, Next: e.next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}
