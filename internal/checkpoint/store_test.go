package checkpoint

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Harvester/internal/blob"
	"github.com/shaiso/Harvester/internal/domain"
)

func newTestStore() (*BlobStore, *blob.MemoryBucket) {
	b := blob.NewMemoryBucket()
	s := NewBlobStore(Config{
		Bucket: b,
		Prefix: "/harvester/test/",
		Clock:  func() time.Time { return time.Date(2024, 7, 2, 8, 0, 0, 0, time.UTC) },
	})
	return s, b
}

func downloadedTask(guid uuid.UUID, def string) domain.ReportTask {
	t := domain.NewReportTask(guid, def, "", nil)
	_ = t.MarkSubmitted("T-"+def, time.Date(2024, 7, 2, 7, 0, 0, 0, time.UTC))
	t.MarkCompleted("")
	t.MarkDownloaded(domain.Artifact{Source: def, Path: "a/" + def + ".json", Size: 10})
	return t
}

// --- Load/Save Tests ---

func TestLoad_MissingIsEmpty(t *testing.T) {
	s, _ := newTestStore()

	tasks, err := s.Load(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty checkpoint, got %d tasks", len(tasks))
	}
}

func TestSaveLoad_RoundTripKeepsStateAndToken(t *testing.T) {
	s, b := newTestStore()
	ctx := context.Background()
	guid := uuid.New()

	polling := domain.NewReportTask(guid, "campaigns", "p1", []string{"1", "2"})
	_ = polling.MarkSubmitted("T1", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	polling.MarkPolling()

	failed := domain.NewReportTask(guid, "keywords", "", nil)
	failed.MarkFailed("HTTP 400")

	in := []domain.ReportTask{polling, failed, downloadedTask(guid, "ads")}
	if err := s.Save(ctx, guid, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	objs, _ := b.List(ctx, "harvester/test/checkpoints/")
	if len(objs) != 1 || objs[0].Key != "harvester/test/checkpoints/"+guid.String()+".json" {
		t.Fatalf("unexpected checkpoint keys: %v", objs)
	}

	out, err := s.Load(ctx, guid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(out))
	}
	if out[0].Token != "T1" || out[0].State != domain.TaskStatePolling {
		t.Errorf("polling task not restored: %+v", out[0])
	}
	if out[0].Key() != "campaigns/p1#1,2" {
		t.Errorf("unexpected key %q", out[0].Key())
	}
	if out[1].State != domain.TaskStateFailed || out[1].Error != "HTTP 400" {
		t.Errorf("failed task not restored: %+v", out[1])
	}
	if out[2].Artifact == nil || out[2].Artifact.Path != "a/ads.json" {
		t.Errorf("artifact not restored: %+v", out[2])
	}
}

func TestLoad_Corrupt(t *testing.T) {
	s, b := newTestStore()
	ctx := context.Background()
	guid := uuid.New()

	b.Put(ctx, s.checkpointKey(guid), strings.NewReader("{not json"), "")

	_, err := s.Load(ctx, guid)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoad_DropsInvalidTasks(t *testing.T) {
	s, b := newTestStore()
	ctx := context.Background()
	guid := uuid.New()

	// DOWNLOADED без artifact нарушает инвариант
	doc := `{"version":1,"tasks":[
		{"definition_id":"a","state":"DOWNLOADED"},
		{"definition_id":"b","state":"NEW"}
	]}`
	b.Put(ctx, s.checkpointKey(guid), strings.NewReader(doc), "")

	tasks, err := s.Load(ctx, guid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].DefinitionID != "b" {
		t.Fatalf("expected only valid task b, got %+v", tasks)
	}
	if tasks[0].UnitGUID != guid {
		t.Errorf("expected unit guid filled from key, got %s", tasks[0].UnitGUID)
	}
}

func TestLoad_FutureVersion(t *testing.T) {
	s, b := newTestStore()
	ctx := context.Background()
	guid := uuid.New()

	b.Put(ctx, s.checkpointKey(guid), strings.NewReader(`{"version":99,"tasks":[]}`), "")

	if _, err := s.Load(ctx, guid); !errors.Is(err, ErrVersion) {
		t.Errorf("expected ErrVersion, got %v", err)
	}
}

// --- Delete/Cleanup Tests ---

func TestDelete(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	guid := uuid.New()

	s.Save(ctx, guid, []domain.ReportTask{downloadedTask(guid, "a")})
	if err := s.Delete(ctx, guid); err != nil {
		t.Fatalf("delete: %v", err)
	}

	tasks, err := s.Load(ctx, guid)
	if err != nil || len(tasks) != 0 {
		t.Errorf("expected empty after delete, got %v, %v", tasks, err)
	}
}

func TestCleanup_RemovesInactive(t *testing.T) {
	s, b := newTestStore()
	ctx := context.Background()

	active := uuid.New()
	gone1 := uuid.New()
	gone2 := uuid.New()
	for _, id := range []uuid.UUID{active, gone1, gone2} {
		s.Save(ctx, id, nil)
	}
	// Посторонний объект не трогаем
	b.Put(ctx, "harvester/test/checkpoints/README", strings.NewReader("x"), "")

	removed, err := s.Cleanup(ctx, []uuid.UUID{active})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	guids, _ := s.ListGUIDs(ctx)
	if len(guids) != 1 || guids[0] != active {
		t.Errorf("expected only active checkpoint left, got %v", guids)
	}
	if b.Len() != 2 {
		t.Errorf("expected active checkpoint and README left, got %d objects", b.Len())
	}
}

// --- Dimension ledger Tests ---

func TestDimensions(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	day := time.Date(2024, 7, 2, 15, 30, 0, 0, time.UTC)

	ok, err := s.HasDimension(ctx, "42", "profiles", day)
	if err != nil || ok {
		t.Fatalf("expected no marker, got %v, %v", ok, err)
	}

	if err := s.MarkDimension(ctx, "42", "profiles", day); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// Повторная отметка идемпотентна
	if err := s.MarkDimension(ctx, "42", "profiles", day); err != nil {
		t.Fatalf("second mark: %v", err)
	}

	ok, _ = s.HasDimension(ctx, "42", "profiles", day.Add(-10*time.Hour))
	if !ok {
		t.Error("expected marker for same calendar day")
	}
	ok, _ = s.HasDimension(ctx, "42", "profiles", day.AddDate(0, 0, 1))
	if ok {
		t.Error("marker must not leak into next day")
	}
}

func TestPruneDimensions(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	old := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	today := time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)
	s.MarkDimension(ctx, "42", "profiles", old)
	s.MarkDimension(ctx, "42", "profiles", today)

	removed, err := s.PruneDimensions(ctx, today)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if ok, _ := s.HasDimension(ctx, "42", "profiles", today); !ok {
		t.Error("today's marker must survive")
	}
}
