package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Harvester/internal/artifact"
	"github.com/shaiso/Harvester/internal/backoff"
	"github.com/shaiso/Harvester/internal/blob"
	"github.com/shaiso/Harvester/internal/checkpoint"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/retry"
	"github.com/shaiso/Harvester/internal/source"
	"github.com/shaiso/Harvester/internal/worker"
)

// --- Fakes ---

// script — поведение provider'а для одного definition.
type script struct {
	sync         bool
	delay        time.Duration
	statuses     []source.Status
	submitErr    error
	downloadErrs []error
}

type fakeSource struct {
	mu      sync.Mutex
	scripts map[string]*script

	subEntities []string
	subErr      error

	submits   map[string]int
	polls     map[string]int
	downloads map[string]int
	listCalls int
}

func newFakeSource(scripts map[string]*script) *fakeSource {
	return &fakeSource{
		scripts:   scripts,
		submits:   make(map[string]int),
		polls:     make(map[string]int),
		downloads: make(map[string]int),
	}
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Submit(ctx context.Context, req source.Request) (*source.SubmitResult, error) {
	if sc := s.scripts[req.Task.DefinitionID]; sc != nil && sc.delay > 0 {
		time.Sleep(sc.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	def := req.Task.DefinitionID
	s.submits[def]++
	sc := s.scripts[def]
	if sc.submitErr != nil {
		return nil, sc.submitErr
	}
	if sc.sync {
		body := fmt.Sprintf(`{"entity":%q,"definition":%q}`, req.Unit.EntityID, def)
		return &source.SubmitResult{Body: io.NopCloser(strings.NewReader(body))}, nil
	}
	return &source.SubmitResult{Token: "T-" + def}, nil
}

func (s *fakeSource) Poll(ctx context.Context, req source.Request) (source.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def := req.Task.DefinitionID
	s.polls[def]++
	sc := s.scripts[def]
	if len(sc.statuses) == 0 {
		return source.Status{State: source.PollRunning, Raw: "RUNNING"}, nil
	}
	st := sc.statuses[0]
	if len(sc.statuses) > 1 {
		sc.statuses = sc.statuses[1:]
	}
	return st, nil
}

func (s *fakeSource) Download(ctx context.Context, req source.Request) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def := req.Task.DefinitionID
	s.downloads[def]++
	sc := s.scripts[def]
	if len(sc.downloadErrs) > 0 {
		err := sc.downloadErrs[0]
		sc.downloadErrs = sc.downloadErrs[1:]
		return nil, err
	}
	return io.NopCloser(strings.NewReader("id,clicks\n1,10\n")), nil
}

func (s *fakeSource) ListSubEntities(ctx context.Context, unit *domain.UnitOfWork) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.subErr != nil {
		return nil, s.subErr
	}
	return s.subEntities, nil
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.listCalls
	for _, m := range []map[string]int{s.submits, s.polls, s.downloads} {
		for _, c := range m {
			n += c
		}
	}
	return n
}

type fakeQueue struct {
	mu       sync.Mutex
	units    map[int64]*domain.UnitOfWork
	history  map[int64][]domain.UnitStatus
	manifest map[int64][]domain.Artifact
}

func newFakeQueue(units ...domain.UnitOfWork) *fakeQueue {
	q := &fakeQueue{
		units:    make(map[int64]*domain.UnitOfWork),
		history:  make(map[int64][]domain.UnitStatus),
		manifest: make(map[int64][]domain.Artifact),
	}
	for i := range units {
		u := units[i]
		q.units[u.ID] = &u
	}
	return q
}

func (q *fakeQueue) FetchPending(ctx context.Context, provider string, limit int) ([]domain.UnitOfWork, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.UnitOfWork
	for _, u := range q.units {
		if u.Provider == provider && (u.Status == domain.UnitStatusPending || u.Status == domain.UnitStatusRunning) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *fakeQueue) UpdateStatus(ctx context.Context, id int64, status domain.UnitStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.units[id].Status = status
	q.units[id].Error = errMsg
	q.history[id] = append(q.history[id], status)
	return nil
}

func (q *fakeQueue) UpdateManifest(ctx context.Context, id int64, artifacts []domain.Artifact, totalBytes int64, deliveredAt *time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.manifest[id] = artifacts
	q.units[id].TotalBytes = totalBytes
	return nil
}

func (q *fakeQueue) ListActiveGUIDs(ctx context.Context, provider string) ([]uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []uuid.UUID
	for _, u := range q.units {
		if u.Status != domain.UnitStatusComplete {
			out = append(out, u.GUID)
		}
	}
	return out, nil
}

func (q *fakeQueue) status(id int64) domain.UnitStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.units[id].Status
}

type fakeNotifier struct {
	mu    sync.Mutex
	units []uuid.UUID
}

func (n *fakeNotifier) PublishUnitCompleted(ctx context.Context, unit *domain.UnitOfWork) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.units = append(n.units, unit.GUID)
	return nil
}

type fakeRuns struct {
	created  int
	finished []*domain.HarvestRun
}

func (r *fakeRuns) Create(ctx context.Context, run *domain.HarvestRun) error {
	r.created++
	return nil
}

func (r *fakeRuns) Finish(ctx context.Context, run *domain.HarvestRun) error {
	r.finished = append(r.finished, run)
	return nil
}

// brokenStore — checkpoint store, который не читается.
type brokenStore struct {
	checkpoint.Store
}

func (brokenStore) Load(ctx context.Context, guid uuid.UUID) ([]domain.ReportTask, error) {
	return nil, errors.New("bucket unavailable")
}

// --- Helpers ---

type harness struct {
	src      *fakeSource
	queue    *fakeQueue
	store    *checkpoint.BlobStore
	bucket   *blob.MemoryBucket
	notifier *fakeNotifier
	runs     *fakeRuns
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testUnit(id int64, entity string, day int) domain.UnitOfWork {
	return domain.UnitOfWork{
		ID:       id,
		GUID:     uuid.New(),
		Provider: "fake",
		EntityID: entity,
		Date:     time.Date(2024, 7, day, 0, 0, 0, 0, time.UTC),
		Status:   domain.UnitStatusPending,
	}
}

func newHarness(src *fakeSource, units ...domain.UnitOfWork) *harness {
	bucket := blob.NewMemoryBucket()
	return &harness{
		src:      src,
		queue:    newFakeQueue(units...),
		store:    checkpoint.NewBlobStore(checkpoint.Config{Bucket: bucket, Prefix: "harvester/fake"}),
		bucket:   bucket,
		notifier: &fakeNotifier{},
		runs:     &fakeRuns{},
	}
}

func (h *harness) engine(defs []domain.ReportDefinition, mutate func(*Config, *worker.Config)) *Engine {
	exec := retry.New(retry.Config{
		Provider: "fake",
		Backoff:  backoff.Strategy{Kind: backoff.KindConstant, Seed: time.Millisecond, MaxRetry: 2},
		Sleep:    noSleep,
	})

	wcfg := worker.Config{
		Source:       h.src,
		Executor:     exec,
		Sink:         artifact.NewBlobSink(h.bucket, "raw"),
		PollInterval: time.Millisecond,
		MaxPolls:     10,
		Sleep:        noSleep,
	}

	cfg := Config{
		Provider:        "fake",
		Definitions:     defs,
		Source:          h.src,
		Executor:        exec,
		Queue:           h.queue,
		Checkpoints:     h.store,
		Dimensions:      h.store,
		Active:          h.queue,
		Runs:            h.runs,
		Notifier:        h.notifier,
		UnitParallelism: 2,
		TaskParallelism: 2,
	}

	if mutate != nil {
		mutate(&cfg, &wcfg)
	}
	cfg.Machine = worker.New(wcfg)
	return New(cfg)
}

func (h *harness) checkpoint(t *testing.T, guid uuid.UUID) map[string]domain.ReportTask {
	t.Helper()
	tasks, err := h.store.Load(context.Background(), guid)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	out := make(map[string]domain.ReportTask, len(tasks))
	for _, task := range tasks {
		out[task.Key()] = task
	}
	return out
}

// --- Run Tests ---

func TestRun_SynchronousScenario(t *testing.T) {
	unit := testUnit(1, "42", 1)
	h := newHarness(newFakeSource(map[string]*script{"campaigns": {sync: true}}), unit)
	e := h.engine([]domain.ReportDefinition{{ID: "campaigns"}}, nil)

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Processed != 1 || res.Complete != 1 || res.ErrorCount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.queue.status(1) != domain.UnitStatusComplete {
		t.Errorf("expected COMPLETE, got %s", h.queue.status(1))
	}
	if len(h.queue.manifest[1]) != 1 {
		t.Errorf("expected 1-entry manifest, got %+v", h.queue.manifest[1])
	}
	if got := h.checkpoint(t, unit.GUID); len(got) != 0 {
		t.Errorf("checkpoint must be deleted on COMPLETE, got %v", got)
	}
	if len(h.notifier.units) != 1 || h.notifier.units[0] != unit.GUID {
		t.Errorf("expected unit.completed notification, got %v", h.notifier.units)
	}
	if len(h.runs.finished) != 1 || h.runs.finished[0].Status != domain.RunStatusSucceeded {
		t.Errorf("expected succeeded run record, got %+v", h.runs.finished)
	}
	if h.src.submits["campaigns"] != 1 {
		t.Errorf("expected 1 submit, got %d", h.src.submits["campaigns"])
	}
}

func TestRun_AsynchronousScenario(t *testing.T) {
	unit := testUnit(1, "42", 1)
	h := newHarness(newFakeSource(map[string]*script{
		"campaigns": {statuses: []source.Status{
			{State: source.PollRunning, Raw: "RUNNING"},
			{State: source.PollRunning, Raw: "RUNNING"},
			{State: source.PollCompleted, Raw: "COMPLETED"},
		}},
	}), unit)
	e := h.engine([]domain.ReportDefinition{{ID: "campaigns"}}, nil)

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Complete != 1 {
		t.Fatalf("expected unit complete, got %+v", res)
	}
	if h.src.polls["campaigns"] != 3 || h.src.downloads["campaigns"] != 1 {
		t.Errorf("expected 3 polls and 1 download, got %d and %d", h.src.polls["campaigns"], h.src.downloads["campaigns"])
	}
}

func TestRun_PollFailedScenario(t *testing.T) {
	unit := testUnit(1, "42", 1)
	h := newHarness(newFakeSource(map[string]*script{
		"campaigns": {statuses: []source.Status{{State: source.PollFailed, Raw: "FAILED"}}},
	}), unit)
	e := h.engine([]domain.ReportDefinition{{ID: "campaigns"}}, nil)

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Failed != 1 || res.ErrorCount != 1 {
		t.Errorf("expected 1 failed unit and 1 error, got %+v", res)
	}
	if h.queue.status(1) != domain.UnitStatusError {
		t.Errorf("expected ERROR, got %s", h.queue.status(1))
	}

	cp := h.checkpoint(t, unit.GUID)
	task, ok := cp["campaigns"]
	if !ok || task.State != domain.TaskStateFailed || task.Token != "T-campaigns" {
		t.Errorf("checkpoint must retain the failed task, got %+v", cp)
	}
	if len(h.runs.finished) != 1 || h.runs.finished[0].Status != domain.RunStatusFailed {
		t.Errorf("expected failed run record, got %+v", h.runs.finished)
	}
}

func TestRun_ZeroBudget(t *testing.T) {
	units := []domain.UnitOfWork{testUnit(1, "42", 1), testUnit(2, "43", 1)}
	h := newHarness(newFakeSource(map[string]*script{"campaigns": {sync: true}}), units...)
	e := h.engine([]domain.ReportDefinition{{ID: "campaigns"}}, nil)

	res, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.src.calls() != 0 {
		t.Errorf("expected no provider calls, got %d", h.src.calls())
	}
	for _, id := range []int64{1, 2} {
		if len(h.queue.history[id]) != 0 {
			t.Errorf("unit %d must not transition, got %v", id, h.queue.history[id])
		}
	}
	if !res.BudgetExceeded || res.Skipped != 2 || res.Processed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Status() != domain.RunStatusWarning {
		t.Errorf("budget stop is a warning, got %s", res.Status())
	}
}

func TestRun_AbandonedRunningUnitReset(t *testing.T) {
	unit := testUnit(1, "42", 1)
	unit.Status = domain.UnitStatusRunning
	h := newHarness(newFakeSource(map[string]*script{"campaigns": {sync: true}}), unit)
	e := h.engine([]domain.ReportDefinition{{ID: "campaigns"}}, nil)

	if _, err := e.Run(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.queue.status(1) != domain.UnitStatusPending {
		t.Errorf("abandoned RUNNING unit must return to PENDING, got %s", h.queue.status(1))
	}
}

func TestRun_PartialCoverageIsPending(t *testing.T) {
	unit := testUnit(1, "42", 1)
	h := newHarness(newFakeSource(map[string]*script{
		"a": {sync: true},
		"b": {sync: true},
		"c": {},
	}), unit)
	e := h.engine([]domain.ReportDefinition{{ID: "a"}, {ID: "b"}, {ID: "c"}}, func(c *Config, w *worker.Config) {
		w.MaxPolls = 1
	})

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.queue.status(1) != domain.UnitStatusPending {
		t.Fatalf("2 of 3 downloaded must be PENDING, got %s", h.queue.status(1))
	}
	if res.Pending != 1 || res.Complete != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	cp := h.checkpoint(t, unit.GUID)
	if cp["a"].State != domain.TaskStateDownloaded || cp["b"].State != domain.TaskStateDownloaded {
		t.Errorf("downloaded tasks must be checkpointed, got %+v", cp)
	}
	if cp["c"].State != domain.TaskStatePolling || cp["c"].Token != "T-c" {
		t.Errorf("in-flight task must keep its token, got %+v", cp["c"])
	}
}

func TestRun_IdempotentResume(t *testing.T) {
	unit := testUnit(1, "42", 1)
	src := newFakeSource(map[string]*script{
		"a": {sync: true},
		"c": {statuses: []source.Status{
			{State: source.PollRunning, Raw: "RUNNING"},
			{State: source.PollCompleted, Raw: "COMPLETED"},
		}},
	})
	h := newHarness(src, unit)
	defs := []domain.ReportDefinition{{ID: "a"}, {ID: "c"}}

	// Первый run упирается в лимит опросов
	first := h.engine(defs, func(c *Config, w *worker.Config) { w.MaxPolls = 1 })
	if _, err := first.Run(context.Background(), time.Hour); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if h.queue.status(1) != domain.UnitStatusPending {
		t.Fatalf("expected PENDING after first run, got %s", h.queue.status(1))
	}

	second := h.engine(defs, nil)
	res, err := second.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if res.Complete != 1 {
		t.Fatalf("expected COMPLETE after resume, got %+v", res)
	}
	if src.submits["a"] != 1 || src.submits["c"] != 1 {
		t.Errorf("no task may be re-submitted, got %v", src.submits)
	}
	if len(h.queue.manifest[1]) != 2 {
		t.Errorf("expected both artifacts in manifest, got %+v", h.queue.manifest[1])
	}
}

func TestRun_DownloadFailureResumesDownloadOnly(t *testing.T) {
	unit := testUnit(1, "42", 1)
	src := newFakeSource(map[string]*script{
		"c": {
			statuses: []source.Status{{State: source.PollCompleted, Raw: "COMPLETED"}},
			downloadErrs: []error{
				&retry.StatusError{Code: http.StatusServiceUnavailable},
				&retry.StatusError{Code: http.StatusServiceUnavailable},
			},
		},
	})
	h := newHarness(src, unit)
	defs := []domain.ReportDefinition{{ID: "c"}}

	res, _ := h.engine(defs, nil).Run(context.Background(), time.Hour)
	if res.ErrorCount != 1 || h.queue.status(1) != domain.UnitStatusPending {
		t.Fatalf("expected counted error and PENDING unit, got %+v / %s", res, h.queue.status(1))
	}
	if cp := h.checkpoint(t, unit.GUID); cp["c"].State != domain.TaskStateCompleted {
		t.Fatalf("task must stay COMPLETED, got %s", cp["c"].State)
	}

	res, _ = h.engine(defs, nil).Run(context.Background(), time.Hour)
	if res.Complete != 1 {
		t.Fatalf("expected COMPLETE on resume, got %+v", res)
	}
	if src.submits["c"] != 1 || src.polls["c"] != 1 {
		t.Errorf("resume must only download, submits=%d polls=%d", src.submits["c"], src.polls["c"])
	}
}

func TestRun_StaleSubmittedEvicted(t *testing.T) {
	unit := testUnit(1, "42", 1)
	src := newFakeSource(map[string]*script{"c": {sync: true}})
	h := newHarness(src, unit)

	stale := domain.NewReportTask(unit.GUID, "c", "", nil)
	_ = stale.MarkSubmitted("OLD", time.Now().Add(-40*24*time.Hour))
	if err := h.store.Save(context.Background(), unit.GUID, []domain.ReportTask{stale}); err != nil {
		t.Fatal(err)
	}

	res, err := h.engine([]domain.ReportDefinition{{ID: "c"}}, nil).Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Complete != 1 {
		t.Fatalf("expected COMPLETE, got %+v", res)
	}
	if src.polls["c"] != 0 || src.submits["c"] != 1 {
		t.Errorf("stale task must be resubmitted, not polled: polls=%d submits=%d", src.polls["c"], src.submits["c"])
	}
}

func TestRun_PoisonEntitySkipList(t *testing.T) {
	units := []domain.UnitOfWork{testUnit(1, "bad", 1), testUnit(2, "bad", 2), testUnit(3, "good", 1)}
	src := newFakeSource(map[string]*script{"ads": {sync: true}})
	src.subEntities = []string{"p1"}
	h := newHarness(src, units...)

	// Poison только для "bad"
	poisoned := &poisonSource{fakeSource: src, bad: "bad"}
	e := h.engine([]domain.ReportDefinition{{ID: "ads", PerSubEntity: true}}, func(c *Config, w *worker.Config) {
		c.Source = poisoned
		c.UnitParallelism = 1
	})

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.ErrorCount != 1 {
		t.Errorf("poisoned entity counts one error, got %d", res.ErrorCount)
	}
	if res.Skipped != 1 {
		t.Errorf("expected second unit of the entity skipped, got %d", res.Skipped)
	}
	if poisoned.badCalls != 1 {
		t.Errorf("expected one lister call for the poisoned entity, got %d", poisoned.badCalls)
	}
	if h.queue.status(2) != domain.UnitStatusPending {
		t.Errorf("skipped unit stays PENDING, got %s", h.queue.status(2))
	}
	if h.queue.status(3) != domain.UnitStatusComplete {
		t.Errorf("other entities proceed, got %s", h.queue.status(3))
	}
}

type poisonSource struct {
	*fakeSource
	bad      string
	badCalls int
}

func (p *poisonSource) ListSubEntities(ctx context.Context, unit *domain.UnitOfWork) ([]string, error) {
	if unit.EntityID == p.bad {
		p.badCalls++
		return nil, retry.Permanent(fmt.Errorf("%w: profile %s has no marketplace", source.ErrPoisonEntity, unit.EntityID))
	}
	return p.fakeSource.ListSubEntities(ctx, unit)
}

func TestRun_MaxErrorsStopsLaunching(t *testing.T) {
	units := []domain.UnitOfWork{testUnit(1, "a", 1), testUnit(2, "b", 1), testUnit(3, "c", 1)}
	src := newFakeSource(map[string]*script{
		"ads": {submitErr: &retry.StatusError{Code: http.StatusBadRequest}},
	})
	h := newHarness(src, units...)
	e := h.engine([]domain.ReportDefinition{{ID: "ads"}}, func(c *Config, w *worker.Config) {
		c.UnitParallelism = 1
		c.MaxErrors = 1
	})

	res, err := e.Run(context.Background(), time.Hour)
	if !errors.Is(err, ErrTooManyErrors) {
		t.Fatalf("expected ErrTooManyErrors, got %v", err)
	}
	if res.Processed != 1 || res.Skipped != 2 {
		t.Errorf("expected 1 processed and 2 skipped, got %+v", res)
	}
}

func TestRun_DimensionOncePerDay(t *testing.T) {
	units := []domain.UnitOfWork{testUnit(1, "42", 1), testUnit(2, "42", 2)}
	src := newFakeSource(map[string]*script{"profiles": {sync: true}})
	h := newHarness(src, units...)
	e := h.engine([]domain.ReportDefinition{{ID: "profiles", DimensionOnly: true}}, func(c *Config, w *worker.Config) {
		c.UnitParallelism = 1
	})

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if src.submits["profiles"] != 1 {
		t.Errorf("dimension report must be requested once per day, got %d", src.submits["profiles"])
	}
	if res.Complete != 2 {
		t.Errorf("both units complete, got %+v", res)
	}
}

func TestRun_DimensionOncePerDayParallelUnits(t *testing.T) {
	units := []domain.UnitOfWork{testUnit(1, "42", 1), testUnit(2, "42", 2), testUnit(3, "7", 1)}
	src := newFakeSource(map[string]*script{"profiles": {sync: true, delay: 50 * time.Millisecond}})
	h := newHarness(src, units...)
	e := h.engine([]domain.ReportDefinition{{ID: "profiles", DimensionOnly: true}}, func(c *Config, w *worker.Config) {
		c.UnitParallelism = 3
	})

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Один раз на entity 42 и один на entity 7
	if src.submits["profiles"] != 2 {
		t.Errorf("dimension report must be requested once per entity, got %d", src.submits["profiles"])
	}
	if res.Complete != 3 {
		t.Errorf("all units complete, got %+v", res)
	}
	for _, entity := range []string{"42", "7"} {
		ok, err := h.store.HasDimension(context.Background(), entity, "profiles", time.Now())
		if err != nil || !ok {
			t.Errorf("expected dimension marker for entity %s, got %v (%v)", entity, ok, err)
		}
	}
}

func TestRun_DimensionClaimReleasedOnFailure(t *testing.T) {
	units := []domain.UnitOfWork{testUnit(1, "42", 1), testUnit(2, "42", 2)}
	src := newFakeSource(map[string]*script{
		"profiles": {submitErr: &retry.StatusError{Code: http.StatusBadRequest}},
	})
	h := newHarness(src, units...)
	e := h.engine([]domain.ReportDefinition{{ID: "profiles", DimensionOnly: true}}, func(c *Config, w *worker.Config) {
		c.UnitParallelism = 1
	})

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Неудачный unit не блокирует dimension для следующего
	if src.submits["profiles"] != 2 {
		t.Errorf("expected a submit per unit after failure, got %d", src.submits["profiles"])
	}
	if res.Failed != 2 {
		t.Errorf("expected both units failed, got %+v", res)
	}
}

func TestRun_CheckpointFailureIsUnitLocal(t *testing.T) {
	units := []domain.UnitOfWork{testUnit(1, "42", 1)}
	src := newFakeSource(map[string]*script{"c": {sync: true}})
	h := newHarness(src, units...)
	e := h.engine([]domain.ReportDefinition{{ID: "c"}}, func(c *Config, w *worker.Config) {
		c.Checkpoints = brokenStore{Store: h.store}
		c.Active = nil
	})

	res, err := e.Run(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unit failure must not fail the run, got %v", err)
	}
	if res.ErrorCount != 1 || h.queue.status(1) != domain.UnitStatusError {
		t.Errorf("expected unit ERROR, got %+v / %s", res, h.queue.status(1))
	}
	if src.calls() != 0 {
		t.Errorf("no provider calls without a checkpoint, got %d", src.calls())
	}
}

func TestRun_CleanupRemovesInactiveCheckpoints(t *testing.T) {
	h := newHarness(newFakeSource(map[string]*script{"c": {sync: true}}))
	orphan := uuid.New()
	_ = h.store.Save(context.Background(), orphan, []domain.ReportTask{domain.NewReportTask(orphan, "c", "", nil)})

	if _, err := h.engine([]domain.ReportDefinition{{ID: "c"}}, nil).Run(context.Background(), time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	guids, err := h.store.ListGUIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(guids) != 0 {
		t.Errorf("orphan checkpoint must be removed, got %v", guids)
	}
}

func TestRun_ConcurrentRunRejected(t *testing.T) {
	h := newHarness(newFakeSource(nil))
	e := h.engine(nil, nil)
	e.running.Store(true)

	if _, err := e.Run(context.Background(), time.Hour); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
}

// --- unitState Tests ---

func TestUnitState_CommitWritesCheckpoint(t *testing.T) {
	h := newHarness(newFakeSource(nil))
	unit := testUnit(1, "42", 1)
	tasks := []domain.ReportTask{
		domain.NewReportTask(unit.GUID, "a", "", nil),
		domain.NewReportTask(unit.GUID, "b", "", nil),
	}
	state := newUnitState(&unit, tasks, h.store)

	b := state.Task(1)
	_ = b.MarkSubmitted("T-b", time.Now())
	if err := state.commit(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}

	cp := h.checkpoint(t, unit.GUID)
	if cp["b"].State != domain.TaskStateSubmitted || cp["a"].State != domain.TaskStateNew {
		t.Errorf("unexpected checkpoint %+v", cp)
	}
	if stats := state.Stats(); stats[domain.TaskStateSubmitted] != 1 || stats[domain.TaskStateNew] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestUnitState_UnknownTaskRejected(t *testing.T) {
	h := newHarness(newFakeSource(nil))
	unit := testUnit(1, "42", 1)
	state := newUnitState(&unit, nil, h.store)

	if err := state.commit(context.Background(), domain.NewReportTask(unit.GUID, "x", "", nil)); err == nil {
		t.Error("expected error for a task outside the plan")
	}
}

func TestEngine_Groups(t *testing.T) {
	h := newHarness(newFakeSource(nil))
	unit := testUnit(1, "42", 1)
	e := h.engine([]domain.ReportDefinition{
		{ID: "pages", Serial: true, PerSubEntity: true},
		{ID: "stats", PerSubEntity: true},
	}, nil)

	done := domain.NewReportTask(unit.GUID, "stats", "p3", nil)
	done.MarkDownloaded(domain.Artifact{Source: "stats", Path: "p", Size: 1})

	state := newUnitState(&unit, []domain.ReportTask{
		domain.NewReportTask(unit.GUID, "pages", "p1", nil),
		domain.NewReportTask(unit.GUID, "pages", "p2", nil),
		domain.NewReportTask(unit.GUID, "stats", "p1", nil),
		domain.NewReportTask(unit.GUID, "stats", "p2", nil),
		done,
	}, h.store)

	groups := e.groups(state)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups (1 serial + 2 parallel), got %d", len(groups))
	}
	if len(groups[0].indexes) != 2 || groups[0].def.ID != "pages" {
		t.Errorf("serial definition must form one group, got %+v", groups[0])
	}
}
