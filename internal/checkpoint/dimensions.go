package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/Harvester/internal/blob"
	"github.com/shaiso/Harvester/internal/domain"
)

func (s *BlobStore) dimensionKey(entityID, definitionID string, day time.Time) string {
	return s.key("dimensions", day.UTC().Format(domain.DateLayout), entityID, definitionID)
}

// HasDimension проверяет, скачан ли справочный отчёт за календарный день.
func (s *BlobStore) HasDimension(ctx context.Context, entityID, definitionID string, day time.Time) (bool, error) {
	rc, err := s.bucket.Get(ctx, s.dimensionKey(entityID, definitionID, day))
	if errors.Is(err, blob.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dimension marker: %w", err)
	}
	rc.Close()
	return true, nil
}

// MarkDimension ставит маркер. Повторная отметка — не ошибка.
func (s *BlobStore) MarkDimension(ctx context.Context, entityID, definitionID string, day time.Time) error {
	body := strings.NewReader(s.now().UTC().Format(time.RFC3339))
	_, err := s.bucket.Create(ctx, s.dimensionKey(entityID, definitionID, day), body, "text/plain")
	if err != nil && !errors.Is(err, blob.ErrExists) {
		return fmt.Errorf("mark dimension: %w", err)
	}
	return nil
}

// PruneDimensions удаляет маркеры дней раньше before.
func (s *BlobStore) PruneDimensions(ctx context.Context, before time.Time) (int, error) {
	root := s.key("dimensions") + "/"
	objs, err := s.bucket.List(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("list dimension markers: %w", err)
	}

	cutoff := before.UTC().Format(domain.DateLayout)
	removed := 0
	for _, obj := range objs {
		day, _, _ := strings.Cut(strings.TrimPrefix(obj.Key, root), "/")
		// YYYY-MM-DD сравнивается лексикографически
		if day >= cutoff {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			return removed, fmt.Errorf("prune dimension marker: %w", err)
		}
		removed++
	}
	return removed, nil
}
