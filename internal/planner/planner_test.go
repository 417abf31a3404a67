package planner

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Harvester/internal/domain"
)

var (
	testNow     = time.Date(2024, 7, 2, 6, 0, 0, 0, time.UTC)
	testHorizon = 30 * 24 * time.Hour
)

func testUnit() *domain.UnitOfWork {
	return &domain.UnitOfWork{
		GUID:     uuid.New(),
		EntityID: "42",
		Date:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func submittedAt(unit *domain.UnitOfWork, def string, at time.Time) domain.ReportTask {
	t := domain.NewReportTask(unit.GUID, def, "", nil)
	_ = t.MarkSubmitted("T-"+def, at)
	return t
}

func states(tasks []domain.ReportTask) map[string]domain.TaskState {
	out := make(map[string]domain.TaskState, len(tasks))
	for _, t := range tasks {
		out[t.Key()] = t.State
	}
	return out
}

// --- Plan Tests ---

func TestPlan_EmptyCheckpointCreatesNewTasks(t *testing.T) {
	unit := testUnit()

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "campaigns"}, {ID: "ads"}},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	if len(res.Tasks) != 2 || res.Created != 2 {
		t.Fatalf("expected 2 new tasks, got %d (created %d)", len(res.Tasks), res.Created)
	}
	if res.Tasks[0].DefinitionID != "campaigns" || res.Tasks[1].DefinitionID != "ads" {
		t.Errorf("expected definition order preserved, got %s, %s", res.Tasks[0].DefinitionID, res.Tasks[1].DefinitionID)
	}
	for _, task := range res.Tasks {
		if task.State != domain.TaskStateNew || task.UnitGUID != unit.GUID {
			t.Errorf("unexpected task %+v", task)
		}
	}
}

func TestPlan_DownloadedKeptAsIs(t *testing.T) {
	unit := testUnit()
	done := submittedAt(unit, "campaigns", testNow.Add(-time.Hour))
	done.MarkCompleted("")
	done.MarkDownloaded(domain.Artifact{Source: "campaigns", Path: "p", Size: 1})

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "campaigns"}},
		Checkpoint:  []domain.ReportTask{done},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	if len(res.Tasks) != 1 || res.Created != 0 {
		t.Fatalf("expected only the downloaded task, got %+v", res.Tasks)
	}
	if res.Tasks[0].State != domain.TaskStateDownloaded || res.Tasks[0].Artifact == nil {
		t.Errorf("downloaded task must be untouched, got %+v", res.Tasks[0])
	}
}

func TestPlan_StaleSubmittedReplaced(t *testing.T) {
	unit := testUnit()
	stale := submittedAt(unit, "campaigns", testNow.Add(-31*24*time.Hour))

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "campaigns"}},
		Checkpoint:  []domain.ReportTask{stale},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	if len(res.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(res.Tasks))
	}
	if res.Tasks[0].State != domain.TaskStateNew || res.Tasks[0].Token != "" {
		t.Errorf("stale task must be replaced by a fresh NEW task, got %+v", res.Tasks[0])
	}
	if res.Replaced != 1 {
		t.Errorf("expected 1 replaced, got %d", res.Replaced)
	}
}

func TestPlan_InFlightWithinHorizonKept(t *testing.T) {
	unit := testUnit()
	polling := submittedAt(unit, "campaigns", testNow.Add(-2*24*time.Hour))
	polling.MarkPolling()

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "campaigns"}},
		Checkpoint:  []domain.ReportTask{polling},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	if len(res.Tasks) != 1 || res.Tasks[0].Token != "T-campaigns" || res.Tasks[0].State != domain.TaskStatePolling {
		t.Errorf("expected polling task kept with its token, got %+v", res.Tasks)
	}
}

func TestPlan_FailedTasks(t *testing.T) {
	unit := testUnit()

	recent := submittedAt(unit, "campaigns", testNow.Add(-time.Hour))
	recent.MarkFailed("ABORTED")

	old := submittedAt(unit, "ads", testNow.Add(-40*24*time.Hour))
	old.MarkFailed("ABORTED")

	defs := []domain.ReportDefinition{{ID: "campaigns"}, {ID: "ads"}}

	t.Run("recent failure kept", func(t *testing.T) {
		res := Plan(Input{Unit: unit, Definitions: defs, Checkpoint: []domain.ReportTask{recent, old}, Now: testNow, Horizon: testHorizon})
		got := states(res.Tasks)
		if got["campaigns"] != domain.TaskStateFailed {
			t.Errorf("recent failure must stay FAILED, got %s", got["campaigns"])
		}
		if got["ads"] != domain.TaskStateNew {
			t.Errorf("failure beyond horizon must be replaced, got %s", got["ads"])
		}
	})

	t.Run("manual retry replaces all failures", func(t *testing.T) {
		res := Plan(Input{Unit: unit, Definitions: defs, Checkpoint: []domain.ReportTask{recent, old}, Now: testNow, Horizon: testHorizon, RetryFailed: true})
		got := states(res.Tasks)
		if got["campaigns"] != domain.TaskStateNew || got["ads"] != domain.TaskStateNew {
			t.Errorf("expected both replaced, got %v", got)
		}
	})
}

func TestPlan_UnconfiguredDefinitionDropped(t *testing.T) {
	unit := testUnit()

	orphanNew := domain.NewReportTask(unit.GUID, "legacy", "", nil)
	orphanDone := submittedAt(unit, "legacy_done", testNow)
	orphanDone.MarkDownloaded(domain.Artifact{Source: "legacy", Path: "p", Size: 3})

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "campaigns"}},
		Checkpoint:  []domain.ReportTask{orphanNew, orphanDone},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	got := states(res.Tasks)
	if _, ok := got["legacy"]; ok {
		t.Error("unconfigured NEW task must be dropped")
	}
	if got["legacy_done"] != domain.TaskStateDownloaded {
		t.Error("unconfigured DOWNLOADED task must be kept")
	}
	if res.Tasks[len(res.Tasks)-1].DefinitionID != "legacy_done" {
		t.Error("unconfigured tasks sort after configured ones")
	}
}

func TestPlan_FanOutPerSubEntity(t *testing.T) {
	unit := testUnit()

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "campaigns", PerSubEntity: true}},
		SubEntities: []string{"p2", "p1"},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	if len(res.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(res.Tasks))
	}
	if res.Tasks[0].Key() != "campaigns/p1" || res.Tasks[1].Key() != "campaigns/p2" {
		t.Errorf("unexpected keys %s, %s", res.Tasks[0].Key(), res.Tasks[1].Key())
	}
}

func TestPlan_Batching(t *testing.T) {
	unit := testUnit()

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "ads", PerSubEntity: true, BatchSize: 2}},
		SubEntities: []string{"5", "1", "3", "2", "4"},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	if len(res.Tasks) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(res.Tasks))
	}
	want := []string{"ads#1,2", "ads#3,4", "ads#5"}
	for i, w := range want {
		if res.Tasks[i].Key() != w {
			t.Errorf("batch %d: expected %s, got %s", i, w, res.Tasks[i].Key())
		}
	}
}

func TestPlan_DefaultBatchSize(t *testing.T) {
	unit := testUnit()

	res := Plan(Input{
		Unit:             unit,
		Definitions:      []domain.ReportDefinition{{ID: "ads", PerSubEntity: true}},
		SubEntities:      []string{"1", "2", "3"},
		DefaultBatchSize: 10,
		Now:              testNow,
	})

	if len(res.Tasks) != 1 || len(res.Tasks[0].BatchIDs) != 3 {
		t.Errorf("expected single batch of 3, got %+v", res.Tasks)
	}
}

func TestPlan_DimensionDoneToday(t *testing.T) {
	unit := testUnit()
	defs := []domain.ReportDefinition{
		{ID: "profiles", DimensionOnly: true},
		{ID: "campaigns"},
	}

	t.Run("skipped when done", func(t *testing.T) {
		res := Plan(Input{
			Unit:           unit,
			Definitions:    defs,
			DimensionsDone: map[string]bool{"profiles": true},
			Now:            testNow,
		})
		got := states(res.Tasks)
		if _, ok := got["profiles"]; ok {
			t.Error("dimension done today must not be planned")
		}
		if res.Dimensions != 1 {
			t.Errorf("expected 1 skipped dimension, got %d", res.Dimensions)
		}
	})

	t.Run("stale NEW intent dropped", func(t *testing.T) {
		res := Plan(Input{
			Unit:           unit,
			Definitions:    defs,
			Checkpoint:     []domain.ReportTask{domain.NewReportTask(unit.GUID, "profiles", "", nil)},
			DimensionsDone: map[string]bool{"profiles": true},
			Now:            testNow,
		})
		if _, ok := states(res.Tasks)["profiles"]; ok {
			t.Error("NEW dimension task must be dropped once done today")
		}
	})

	t.Run("own downloaded kept", func(t *testing.T) {
		own := submittedAt(unit, "profiles", testNow)
		own.MarkDownloaded(domain.Artifact{Source: "profiles", Path: "p", Size: 1})
		res := Plan(Input{
			Unit:           unit,
			Definitions:    defs,
			Checkpoint:     []domain.ReportTask{own},
			DimensionsDone: map[string]bool{"profiles": true},
			Now:            testNow,
		})
		if states(res.Tasks)["profiles"] != domain.TaskStateDownloaded {
			t.Error("unit's own downloaded dimension task must be kept")
		}
	})
}

func TestPlan_DimensionInFlightDroppedWhenDone(t *testing.T) {
	unit := testUnit()
	defs := []domain.ReportDefinition{{ID: "profiles", DimensionOnly: true}}

	polling := submittedAt(unit, "profiles", testNow.Add(-time.Hour))
	polling.MarkPolling()
	completed := submittedAt(unit, "profiles", testNow.Add(-time.Hour))
	completed.MarkCompleted("https://example.test/p.csv")
	failed := submittedAt(unit, "profiles", testNow.Add(-time.Hour))
	failed.MarkFailed("provider status ERROR")

	tests := []struct {
		name string
		task domain.ReportTask
	}{
		{"submitted", submittedAt(unit, "profiles", testNow.Add(-time.Hour))},
		{"polling", polling},
		{"completed", completed},
		{"failed", failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Plan(Input{
				Unit:           unit,
				Definitions:    defs,
				Checkpoint:     []domain.ReportTask{tt.task},
				DimensionsDone: map[string]bool{"profiles": true},
				Now:            testNow,
				Horizon:        testHorizon,
			})
			if len(res.Tasks) != 0 {
				t.Errorf("expected no tasks once dimension is done today, got %+v", states(res.Tasks))
			}
			if res.Dropped != 1 {
				t.Errorf("expected 1 dropped task, got %d", res.Dropped)
			}
		})
	}

	t.Run("kept when not done", func(t *testing.T) {
		res := Plan(Input{
			Unit:        unit,
			Definitions: defs,
			Checkpoint:  []domain.ReportTask{polling},
			Now:         testNow,
			Horizon:     testHorizon,
		})
		if states(res.Tasks)["profiles"] != domain.TaskStatePolling {
			t.Errorf("expected polling task kept, got %+v", states(res.Tasks))
		}
	})
}

func TestPlan_SubEntityChurnKeepsCoverage(t *testing.T) {
	unit := testUnit()
	defs := []domain.ReportDefinition{{ID: "ads", PerSubEntity: true, BatchSize: 2}}

	done := domain.NewReportTask(unit.GUID, "ads", "", []string{"a", "b"})
	_ = done.MarkSubmitted("T-ab", testNow.Add(-time.Hour))
	done.MarkDownloaded(domain.Artifact{Source: "ads", Path: "p", Size: 1})

	inFlight := domain.NewReportTask(unit.GUID, "ads", "", []string{"c", "d"})
	_ = inFlight.MarkSubmitted("T-cd", testNow.Add(-time.Hour))

	res := Plan(Input{
		Unit:        unit,
		Definitions: defs,
		Checkpoint:  []domain.ReportTask{done, inFlight},
		// "0" и "e" появились, "d" исчезла
		SubEntities: []string{"0", "a", "b", "c", "e"},
		Now:         testNow,
		Horizon:     testHorizon,
	})

	coverage := make(map[string]int)
	for _, task := range res.Tasks {
		for _, id := range task.BatchIDs {
			coverage[id]++
		}
	}
	for _, id := range []string{"0", "a", "b", "c", "e"} {
		if coverage[id] != 1 {
			t.Errorf("sub-entity %s covered %d times, want 1 (tasks %v)", id, coverage[id], states(res.Tasks))
		}
	}

	got := states(res.Tasks)
	if got["ads#a,b"] != domain.TaskStateDownloaded {
		t.Errorf("downloaded batch must be kept, got %v", got)
	}
	if got["ads#c,d"] != domain.TaskStateSubmitted {
		t.Errorf("in-flight batch must be kept, got %v", got)
	}
	if got["ads#0,e"] != domain.TaskStateNew || res.Created != 1 {
		t.Errorf("expected single new batch ads#0,e, got %v (created %d)", got, res.Created)
	}
}

func TestPlan_DuplicateKeysPreferAdvanced(t *testing.T) {
	unit := testUnit()

	fresh := domain.NewReportTask(unit.GUID, "campaigns", "", nil)
	done := submittedAt(unit, "campaigns", testNow)
	done.MarkDownloaded(domain.Artifact{Source: "campaigns", Path: "p", Size: 1})

	res := Plan(Input{
		Unit:        unit,
		Definitions: []domain.ReportDefinition{{ID: "campaigns"}},
		Checkpoint:  []domain.ReportTask{done, fresh},
		Now:         testNow,
	})

	if len(res.Tasks) != 1 || res.Tasks[0].State != domain.TaskStateDownloaded {
		t.Errorf("expected single downloaded task, got %+v", res.Tasks)
	}
}

func TestPlan_Idempotent(t *testing.T) {
	unit := testUnit()
	defs := []domain.ReportDefinition{{ID: "campaigns"}, {ID: "ads", PerSubEntity: true}}
	subs := []string{"p1", "p2"}

	first := Plan(Input{Unit: unit, Definitions: defs, SubEntities: subs, Now: testNow})
	second := Plan(Input{Unit: unit, Definitions: defs, SubEntities: subs, Checkpoint: first.Tasks, Now: testNow})

	if len(first.Tasks) != len(second.Tasks) || second.Created != 0 {
		t.Fatalf("replanning must not create tasks: first %d, second %d (created %d)", len(first.Tasks), len(second.Tasks), second.Created)
	}
	for i := range first.Tasks {
		if first.Tasks[i].Key() != second.Tasks[i].Key() {
			t.Errorf("task %d: key changed %s → %s", i, first.Tasks[i].Key(), second.Tasks[i].Key())
		}
	}
}
