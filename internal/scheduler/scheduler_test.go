package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shaiso/Harvester/internal/orchestrator"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	opts  []orchestrator.Options
	err   error
}

func (r *fakeRunner) Start(ctx context.Context, provider string, opts orchestrator.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, provider)
	r.opts = append(r.opts, opts)
	return r.err
}

// --- Cron Tests ---

func TestCalculateNextDue(t *testing.T) {
	from := time.Date(2024, 7, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		tz   string
		want time.Time
	}{
		{"hourly", "0 * * * *", "", time.Date(2024, 7, 1, 11, 0, 0, 0, time.UTC)},
		{"daily at 2", "0 2 * * *", "UTC", time.Date(2024, 7, 2, 2, 0, 0, 0, time.UTC)},
		{"descriptor", "@every 6h", "", from.Add(6 * time.Hour)},
		{"timezone", "0 12 * * *", "Europe/Moscow", time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)},
		{"bad timezone falls back to UTC", "0 12 * * *", "Mars/Olympus", time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateNextDue(tt.expr, tt.tz, from)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/15 * * * *"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateCronExpr("every day"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

// --- Scheduler Tests ---

func TestNew_InvalidCron(t *testing.T) {
	_, err := New(Config{Entries: []Entry{{Provider: "acme", Cron: "61 * * * *"}}})
	if err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestTick_StartsDueProviders(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 7, 1, 10, 30, 0, 0, time.UTC)}
	runner := &fakeRunner{}

	s, err := New(Config{
		Entries: []Entry{
			{Provider: "hourly", Cron: "0 * * * *", MaxRuntime: time.Hour},
			{Provider: "daily", Cron: "0 2 * * *"},
			{Provider: "manual"},
		},
		Runner: runner,
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("nothing is due yet, started %d", n)
	}

	clock.Set(time.Date(2024, 7, 1, 11, 0, 5, 0, time.UTC))
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("expected 1 run started, got %d", n)
	}
	if runner.calls[0] != "hourly" || runner.opts[0].Trigger != "cron" || runner.opts[0].MaxRuntime != time.Hour {
		t.Errorf("unexpected start %v %+v", runner.calls, runner.opts)
	}

	// Повторный тик в ту же минуту не запускает ещё раз
	if n := s.Tick(context.Background()); n != 0 {
		t.Errorf("expected no duplicate start, got %d", n)
	}

	up := s.Upcoming()
	if len(up) != 2 {
		t.Fatalf("provider without cron must not be scheduled, got %+v", up)
	}
	if up[0].Provider != "hourly" || !up[0].Next.Equal(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected upcoming %+v", up)
	}
}

func TestTick_InProgressAdvancesSchedule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 7, 1, 10, 59, 0, 0, time.UTC)}
	runner := &fakeRunner{err: orchestrator.ErrRunInProgress}

	s, _ := New(Config{
		Entries: []Entry{{Provider: "hourly", Cron: "0 * * * *"}},
		Runner:  runner,
		Clock:   clock.Now,
	})

	clock.Set(time.Date(2024, 7, 1, 11, 0, 0, 0, time.UTC))
	if n := s.Tick(context.Background()); n != 0 {
		t.Errorf("in-progress run is not counted, got %d", n)
	}
	if next := s.Upcoming()[0].Next; !next.Equal(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("schedule must advance past the skipped slot, got %v", next)
	}
}

func TestRun_FollowerDoesNotTick(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}

	s, _ := New(Config{
		Entries: []Entry{{Provider: "acme", Cron: "@every 1m"}},
		Runner:  runner,
		Leader:  func(ctx context.Context) bool { return false },
		Clock:   clock.Now,
	})
	clock.Set(time.Date(2024, 7, 1, 11, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx, time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 0 {
		t.Errorf("follower must not start runs, got %v", runner.calls)
	}
}
