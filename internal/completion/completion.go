// Package completion решает, закончен ли unit, и фиксирует итог.
//
// Evaluate — чистая функция над списком tasks. Aggregator применяет
// результат: пишет manifest и статус в work queue, удаляет или
// перезаписывает checkpoint.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/telemetry"
)

// Evaluation — итог оценки unit'а.
type Evaluation struct {
	Status domain.UnitStatus

	// Manifest — по одному artifact на логический source,
	// размеры просуммированы. Заполнен только для COMPLETE.
	Manifest []domain.Artifact

	TotalBytes  int64
	DeliveredAt *time.Time

	// Статистика по tasks.
	Total      int
	Downloaded int
	Failed     int

	// Errors — причины FAILED tasks.
	Errors []string
}

// Summary возвращает сообщение об ошибке unit'а.
func (e Evaluation) Summary() string {
	if e.Failed == 0 {
		return ""
	}
	msg := fmt.Sprintf("%d of %d tasks failed", e.Failed, e.Total)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return msg
}

// Evaluate оценивает unit по его tasks.
//
// COMPLETE — все tasks DOWNLOADED (пустой список тоже).
// ERROR — есть FAILED task. Иначе PENDING.
func Evaluate(tasks []domain.ReportTask) Evaluation {
	ev := Evaluation{Total: len(tasks)}

	for i := range tasks {
		t := &tasks[i]
		switch t.State {
		case domain.TaskStateDownloaded:
			ev.Downloaded++
		case domain.TaskStateFailed:
			ev.Failed++
			ev.Errors = append(ev.Errors, t.Key()+": "+t.Error)
		}
	}

	switch {
	case ev.Failed > 0:
		ev.Status = domain.UnitStatusError
	case ev.Downloaded == ev.Total:
		ev.Status = domain.UnitStatusComplete
		ev.Manifest, ev.TotalBytes, ev.DeliveredAt = buildManifest(tasks)
	default:
		ev.Status = domain.UnitStatusPending
	}

	return ev
}

// buildManifest группирует artifacts по source.
// Представительный путь группы — лексикографически первый.
func buildManifest(tasks []domain.ReportTask) ([]domain.Artifact, int64, *time.Time) {
	groups := make(map[string]*domain.Artifact)
	var total int64
	var delivered time.Time

	for i := range tasks {
		a := tasks[i].Artifact
		if a == nil {
			continue
		}
		total += a.Size
		if a.WrittenAt.After(delivered) {
			delivered = a.WrittenAt
		}

		g, ok := groups[a.Source]
		if !ok {
			cp := *a
			groups[a.Source] = &cp
			continue
		}
		g.Size += a.Size
		if a.Path < g.Path {
			g.Path = a.Path
		}
		if a.WrittenAt.After(g.WrittenAt) {
			g.WrittenAt = a.WrittenAt
		}
	}

	manifest := make([]domain.Artifact, 0, len(groups))
	for _, g := range groups {
		manifest = append(manifest, *g)
	}
	sort.Slice(manifest, func(i, j int) bool {
		return manifest[i].Source < manifest[j].Source
	})

	if delivered.IsZero() {
		return manifest, total, nil
	}
	return manifest, total, &delivered
}

// UnitWriter — часть work queue, нужная aggregator'у.
type UnitWriter interface {
	UpdateStatus(ctx context.Context, id int64, status domain.UnitStatus, errMsg string) error
	UpdateManifest(ctx context.Context, id int64, artifacts []domain.Artifact, totalBytes int64, deliveredAt *time.Time) error
}

// CheckpointWriter — часть checkpoint store, нужная aggregator'у.
type CheckpointWriter interface {
	Save(ctx context.Context, unitGUID uuid.UUID, tasks []domain.ReportTask) error
	Delete(ctx context.Context, unitGUID uuid.UUID) error
}

// Aggregator фиксирует итог unit'а.
type Aggregator struct {
	units       UnitWriter
	checkpoints CheckpointWriter
	logger      *slog.Logger
}

// NewAggregator создаёт Aggregator.
func NewAggregator(units UnitWriter, checkpoints CheckpointWriter, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{units: units, checkpoints: checkpoints, logger: logger}
}

// Finalize оценивает unit и сохраняет итог.
//
// COMPLETE: manifest → статус → удаление checkpoint'а (строго последним).
// PENDING/ERROR: checkpoint перезаписывается, затем статус.
func (a *Aggregator) Finalize(ctx context.Context, unit *domain.UnitOfWork, tasks []domain.ReportTask) (Evaluation, error) {
	ev := Evaluate(tasks)
	logger := telemetry.WithUnit(a.logger, unit.GUID.String(), unit.EntityID, unit.DateString())

	if ev.Status == domain.UnitStatusComplete {
		if err := a.units.UpdateManifest(ctx, unit.ID, ev.Manifest, ev.TotalBytes, ev.DeliveredAt); err != nil {
			return ev, fmt.Errorf("update manifest: %w", err)
		}
		if err := a.units.UpdateStatus(ctx, unit.ID, ev.Status, ""); err != nil {
			return ev, fmt.Errorf("update status: %w", err)
		}
		if err := a.checkpoints.Delete(ctx, unit.GUID); err != nil {
			// Unit уже COMPLETE, checkpoint уберёт cleanup
			logger.Warn("failed to delete checkpoint", "error", err)
		}

		unit.Artifacts = ev.Manifest
		unit.TotalBytes = ev.TotalBytes
		unit.DeliveredAt = ev.DeliveredAt
	} else {
		if err := a.checkpoints.Save(ctx, unit.GUID, tasks); err != nil {
			return ev, fmt.Errorf("save checkpoint: %w", err)
		}
		if err := a.units.UpdateStatus(ctx, unit.ID, ev.Status, ev.Summary()); err != nil {
			return ev, fmt.Errorf("update status: %w", err)
		}
	}

	unit.Status = ev.Status
	unit.Error = ev.Summary()
	telemetry.UnitsFinished.WithLabelValues(unit.Provider, string(ev.Status)).Inc()

	logger.Info("unit evaluated",
		"status", ev.Status,
		"tasks", ev.Total,
		"downloaded", ev.Downloaded,
		"failed", ev.Failed,
		"total_bytes", ev.TotalBytes,
	)

	return ev, nil
}
