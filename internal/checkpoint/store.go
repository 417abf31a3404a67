// Package checkpoint хранит прогресс unit'ов в object storage.
//
// Checkpoint — JSON-документ со списком report tasks одного unit'а,
// ключ — GUID unit'а. Пишется после каждого перехода task'а,
// читается один раз в начале обработки unit'а, удаляется при COMPLETE.
//
// Object storage — eventually consistent: читатель может увидеть
// предыдущую версию. Planner на это рассчитан (идемпотентное перепланирование).
//
// Тот же store ведёт ledger справочных (dimension-only) отчётов:
// маркер dimensions/<день>/<entity>/<definition> означает, что отчёт
// за этот календарный день уже скачан.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Harvester/internal/blob"
	"github.com/shaiso/Harvester/internal/domain"
)

// FormatVersion — текущая версия формата документа.
const FormatVersion = 1

// Store — контракт checkpoint store для engine'а.
type Store interface {
	// Load возвращает tasks unit'а. Отсутствующий checkpoint — пустой список.
	Load(ctx context.Context, unitGUID uuid.UUID) ([]domain.ReportTask, error)

	// Save перезаписывает checkpoint unit'а.
	Save(ctx context.Context, unitGUID uuid.UUID, tasks []domain.ReportTask) error

	// Delete удаляет checkpoint unit'а.
	Delete(ctx context.Context, unitGUID uuid.UUID) error

	// Cleanup удаляет checkpoints unit'ов, которых нет среди active.
	// Возвращает число удалённых.
	Cleanup(ctx context.Context, active []uuid.UUID) (int, error)
}

// DimensionLedger — учёт справочных отчётов, скачанных за день.
type DimensionLedger interface {
	HasDimension(ctx context.Context, entityID, definitionID string, day time.Time) (bool, error)
	MarkDimension(ctx context.Context, entityID, definitionID string, day time.Time) error
}

// Document — сериализованный checkpoint.
type Document struct {
	Version  int                 `json:"version"`
	UnitGUID uuid.UUID           `json:"unit_guid"`
	SavedAt  time.Time           `json:"saved_at"`
	Tasks    []domain.ReportTask `json:"tasks"`
}

// BlobStore — Store и DimensionLedger поверх blob.Bucket.
type BlobStore struct {
	bucket blob.Bucket
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация BlobStore.
type Config struct {
	Bucket blob.Bucket

	// Prefix — префикс ключей, например "harvester/amazon_ads".
	Prefix string

	Logger *slog.Logger
	Clock  func() time.Time
}

// NewBlobStore создаёт BlobStore.
func NewBlobStore(cfg Config) *BlobStore {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &BlobStore{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: cfg.Logger,
		now:    cfg.Clock,
	}
}

func (s *BlobStore) key(parts ...string) string {
	if s.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{s.prefix}, parts...)...)
}

func (s *BlobStore) checkpointKey(unitGUID uuid.UUID) string {
	return s.key("checkpoints", unitGUID.String()+".json")
}

// Load читает checkpoint unit'а.
func (s *BlobStore) Load(ctx context.Context, unitGUID uuid.UUID) ([]domain.ReportTask, error) {
	rc, err := s.bucket.Get(ctx, s.checkpointKey(unitGUID))
	if errors.Is(err, blob.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", unitGUID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", unitGUID, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, unitGUID, err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, doc.Version)
	}

	tasks := make([]domain.ReportTask, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if t.UnitGUID == uuid.Nil {
			t.UnitGUID = unitGUID
		}
		if err := t.Valid(); err != nil {
			// Битый task не валит весь unit: planner создаст замену
			s.logger.Warn("dropping invalid checkpoint task",
				"unit_guid", unitGUID,
				"error", err,
			)
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

// Save перезаписывает checkpoint unit'а.
func (s *BlobStore) Save(ctx context.Context, unitGUID uuid.UUID, tasks []domain.ReportTask) error {
	if tasks == nil {
		tasks = []domain.ReportTask{}
	}
	doc := Document{
		Version:  FormatVersion,
		UnitGUID: unitGUID,
		SavedAt:  s.now().UTC(),
		Tasks:    tasks,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", unitGUID, err)
	}

	if _, err := s.bucket.Put(ctx, s.checkpointKey(unitGUID), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", unitGUID, err)
	}
	return nil
}

// Delete удаляет checkpoint unit'а.
func (s *BlobStore) Delete(ctx context.Context, unitGUID uuid.UUID) error {
	if err := s.bucket.Delete(ctx, s.checkpointKey(unitGUID)); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", unitGUID, err)
	}
	return nil
}

// Cleanup удаляет checkpoints неактивных unit'ов.
//
// Объекты с именем, не являющимся GUID, не трогаются.
func (s *BlobStore) Cleanup(ctx context.Context, active []uuid.UUID) (int, error) {
	keep := make(map[uuid.UUID]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}

	objs, err := s.bucket.List(ctx, s.key("checkpoints")+"/")
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}

	removed := 0
	for _, obj := range objs {
		name := strings.TrimSuffix(path.Base(obj.Key), ".json")
		id, err := uuid.Parse(name)
		if err != nil {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			return removed, fmt.Errorf("cleanup checkpoint %s: %w", id, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("checkpoints cleaned up", "removed", removed, "active", len(active))
	}
	return removed, nil
}

// ListGUIDs возвращает GUID всех unit'ов, у которых есть checkpoint.
func (s *BlobStore) ListGUIDs(ctx context.Context) ([]uuid.UUID, error) {
	objs, err := s.bucket.List(ctx, s.key("checkpoints")+"/")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]uuid.UUID, 0, len(objs))
	for _, obj := range objs {
		if id, err := uuid.Parse(strings.TrimSuffix(path.Base(obj.Key), ".json")); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}
