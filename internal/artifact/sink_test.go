package artifact

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Harvester/internal/blob"
	"github.com/shaiso/Harvester/internal/domain"
)

func testUnit() *domain.UnitOfWork {
	return &domain.UnitOfWork{
		GUID:     uuid.MustParse("6f1c2a34-0000-4000-8000-000000000042"),
		Provider: "amazon_ads",
		EntityID: "42",
		Date:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

// --- Path Tests ---

func TestPath(t *testing.T) {
	s := NewBlobSink(blob.NewMemoryBucket(), "/artifacts/")
	unit := testUnit()

	tests := []struct {
		name string
		task domain.ReportTask
		want string
	}{
		{
			"plain",
			domain.ReportTask{DefinitionID: "campaigns"},
			"artifacts/campaign_stats/42/2024-07-01/6f1c2a34-0000-4000-8000-000000000042/campaigns.json",
		},
		{
			"sub entity",
			domain.ReportTask{DefinitionID: "campaigns", SubEntityID: "p/1"},
			"artifacts/campaign_stats/42/2024-07-01/6f1c2a34-0000-4000-8000-000000000042/campaigns_p-1.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Path(unit, &tt.task, "campaign_stats"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPath_BatchStableAndDistinct(t *testing.T) {
	s := NewBlobSink(blob.NewMemoryBucket(), "")
	unit := testUnit()

	a := domain.ReportTask{DefinitionID: "ads", BatchIDs: []string{"1", "2"}}
	b := domain.ReportTask{DefinitionID: "ads", BatchIDs: []string{"3", "4"}}

	if s.Path(unit, &a, "ads") != s.Path(unit, &a, "ads") {
		t.Error("path must be deterministic")
	}
	if s.Path(unit, &a, "ads") == s.Path(unit, &b, "ads") {
		t.Error("different batches must not collide")
	}
}

// --- Write Tests ---

func TestWrite(t *testing.T) {
	bucket := blob.NewMemoryBucket()
	s := NewBlobSink(bucket, "artifacts")
	unit := testUnit()
	task := domain.ReportTask{DefinitionID: "campaigns"}

	a, err := s.Write(context.Background(), unit, &task, "campaign_stats", strings.NewReader(`[{"clicks":3}]`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if a.Source != "campaign_stats" || a.Size != 14 {
		t.Errorf("unexpected artifact %+v", a)
	}
	if a.WrittenAt.IsZero() {
		t.Error("expected WrittenAt set")
	}

	rc, err := bucket.Get(context.Background(), a.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != `[{"clicks":3}]` {
		t.Errorf("unexpected content %q", data)
	}
}
