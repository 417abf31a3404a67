package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Harvester/internal/domain"
)

// UnitRepo — work queue units of work в таблице harvest_units.
type UnitRepo struct {
	pool *pgxpool.Pool
}

// NewUnitRepo создаёт новый UnitRepo.
func NewUnitRepo(pool *pgxpool.Pool) *UnitRepo {
	return &UnitRepo{pool: pool}
}

const unitColumns = `
	id, guid, provider, entity_id, date, backfill, status,
	artifacts, total_bytes, delivered_at, error, updated_at`

// Create ставит unit в очередь. Повтор для той же (provider, entity, date)
// возвращает ErrAlreadyExists.
func (r *UnitRepo) Create(ctx context.Context, unit *domain.UnitOfWork) error {
	if unit.GUID == uuid.Nil {
		unit.GUID = uuid.New()
	}
	if unit.Status == "" {
		unit.Status = domain.UnitStatusPending
	}

	query := `
		INSERT INTO harvest_units (guid, provider, entity_id, date, backfill, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, entity_id, date) DO NOTHING
		RETURNING id, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		unit.GUID,
		unit.Provider,
		unit.EntityID,
		unit.Date,
		unit.Backfill,
		unit.Status,
	).Scan(&unit.ID, &unit.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: unit %s/%s/%s", ErrAlreadyExists, unit.Provider, unit.EntityID, unit.DateString())
	}
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}

// FetchPending возвращает PENDING units provider'а и RUNNING,
// оставшиеся от упавшего процесса. Старые даты идут первыми.
func (r *UnitRepo) FetchPending(ctx context.Context, provider string, limit int) ([]domain.UnitOfWork, error) {
	query := `
		SELECT` + unitColumns + `
		FROM harvest_units
		WHERE provider = $1 AND status IN ('PENDING', 'RUNNING')
		ORDER BY date ASC, id ASC
		LIMIT $2
	`
	return r.query(ctx, query, provider, limit)
}

// UpdateStatus меняет статус unit'а. errMsg пишется только для ERROR.
func (r *UnitRepo) UpdateStatus(ctx context.Context, id int64, status domain.UnitStatus, errMsg string) error {
	query := `
		UPDATE harvest_units
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, status, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("update unit status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateManifest записывает manifest, суммарный размер и delivery date.
func (r *UnitRepo) UpdateManifest(ctx context.Context, id int64, artifacts []domain.Artifact, totalBytes int64, deliveredAt *time.Time) error {
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	query := `
		UPDATE harvest_units
		SET artifacts = $2, total_bytes = $3, delivered_at = $4, updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, artifactsJSON, totalBytes, deliveredAt)
	if err != nil {
		return fmt.Errorf("update unit manifest: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveGUIDs возвращает GUID'ы units provider'а, которые ещё не COMPLETE.
// Checkpoints остальных можно удалять.
func (r *UnitRepo) ListActiveGUIDs(ctx context.Context, provider string) ([]uuid.UUID, error) {
	query := `
		SELECT guid
		FROM harvest_units
		WHERE provider = $1 AND status <> 'COMPLETE'
	`
	rows, err := r.pool.Query(ctx, query, provider)
	if err != nil {
		return nil, fmt.Errorf("list active units: %w", err)
	}
	defer rows.Close()

	var guids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan guid: %w", err)
		}
		guids = append(guids, id)
	}
	return guids, rows.Err()
}

// GetByGUID возвращает unit по GUID.
func (r *UnitRepo) GetByGUID(ctx context.Context, guid uuid.UUID) (*domain.UnitOfWork, error) {
	query := `SELECT` + unitColumns + ` FROM harvest_units WHERE guid = $1`
	return scanUnit(r.pool.QueryRow(ctx, query, guid))
}

// UnitFilter — параметры фильтрации units.
type UnitFilter struct {
	Provider string
	Status   domain.UnitStatus
	EntityID string
	Limit    int
	Offset   int
}

// List возвращает units с фильтрацией, новые даты первыми.
func (r *UnitRepo) List(ctx context.Context, filter UnitFilter) ([]domain.UnitOfWork, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	query := `
		SELECT` + unitColumns + `
		FROM harvest_units
		WHERE ($1::text IS NULL OR provider = $1)
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR entity_id = $3)
		ORDER BY date DESC, id DESC
		LIMIT $4 OFFSET $5
	`
	return r.query(ctx, query,
		nullString(filter.Provider),
		nullString(string(filter.Status)),
		nullString(filter.EntityID),
		filter.Limit,
		filter.Offset,
	)
}

// --- Helpers ---

func (r *UnitRepo) query(ctx context.Context, query string, args ...any) ([]domain.UnitOfWork, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var units []domain.UnitOfWork
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// scanUnit сканирует строку в UnitOfWork. pgx.Rows тоже реализует pgx.Row.
func scanUnit(row pgx.Row) (*domain.UnitOfWork, error) {
	var u domain.UnitOfWork
	var artifactsJSON []byte
	var unitError *string

	err := row.Scan(
		&u.ID,
		&u.GUID,
		&u.Provider,
		&u.EntityID,
		&u.Date,
		&u.Backfill,
		&u.Status,
		&artifactsJSON,
		&u.TotalBytes,
		&u.DeliveredAt,
		&unitError,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan unit: %w", err)
	}

	if artifactsJSON != nil {
		if err := json.Unmarshal(artifactsJSON, &u.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if unitError != nil {
		u.Error = *unitError
	}
	u.Date = u.Date.UTC()

	return &u, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
