// Package artifact записывает скачанные отчёты в object storage.
//
// Путь artifact'а детерминирован: повторное скачивание того же task'а
// перезаписывает тот же объект, а не плодит дубликаты.
//
//	<prefix>/<source>/<entity>/<date>/<unit_guid>/<definition>[_<sub_entity>][_<batch>].json
package artifact

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/shaiso/Harvester/internal/blob"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/telemetry"
)

// Sink — приёмник скачанных отчётов.
type Sink interface {
	// Write стримит body в storage и возвращает описание artifact'а.
	Write(ctx context.Context, unit *domain.UnitOfWork, task *domain.ReportTask, source string, body io.Reader) (domain.Artifact, error)
}

// BlobSink — Sink поверх blob.Bucket.
type BlobSink struct {
	bucket blob.Bucket
	prefix string
	now    func() time.Time
}

// NewBlobSink создаёт BlobSink.
func NewBlobSink(bucket blob.Bucket, prefix string) *BlobSink {
	return &BlobSink{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Path возвращает детерминированный путь artifact'а.
func (s *BlobSink) Path(unit *domain.UnitOfWork, task *domain.ReportTask, source string) string {
	name := sanitize(task.DefinitionID)
	if task.SubEntityID != "" {
		name += "_" + sanitize(task.SubEntityID)
	}
	if len(task.BatchIDs) > 0 {
		name += "_" + batchDigest(task.BatchIDs)
	}

	parts := []string{
		sanitize(source),
		sanitize(unit.EntityID),
		unit.DateString(),
		unit.GUID.String(),
		name + ".json",
	}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Write записывает artifact.
func (s *BlobSink) Write(ctx context.Context, unit *domain.UnitOfWork, task *domain.ReportTask, source string, body io.Reader) (domain.Artifact, error) {
	p := s.Path(unit, task, source)

	n, err := s.bucket.Put(ctx, p, body, "application/json")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("write artifact %s: %w", p, err)
	}

	telemetry.ArtifactBytes.WithLabelValues(unit.Provider, source).Add(float64(n))

	return domain.Artifact{
		Source:    source,
		Path:      p,
		Size:      n,
		WrittenAt: s.now().UTC(),
	}, nil
}

// sanitize заменяет символы, недопустимые в ключе.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':', '#', '?':
			return '-'
		}
		return r
	}, s)
}

// batchDigest — короткий стабильный идентификатор batch'а.
func batchDigest(ids []string) string {
	h := sha1.Sum([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(h[:])[:10]
}
