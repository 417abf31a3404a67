package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Harvester/internal/domain"
)

// RunRepo — история harvest run'ов.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create записывает начало run.
func (r *RunRepo) Create(ctx context.Context, run *domain.HarvestRun) error {
	query := `
		INSERT INTO harvest_runs (id, provider, status, trigger, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Provider,
		run.Status,
		nullString(run.Trigger),
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish записывает итог run.
func (r *RunRepo) Finish(ctx context.Context, run *domain.HarvestRun) error {
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		UPDATE harvest_runs
		SET status = $2, result = $3, finished_at = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, run.ID, run.Status, resultJSON, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.HarvestRun, error) {
	query := `
		SELECT id, provider, status, trigger, result, started_at, finished_at
		FROM harvest_runs
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Provider string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// List возвращает runs, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.HarvestRun, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	query := `
		SELECT id, provider, status, trigger, result, started_at, finished_at
		FROM harvest_runs
		WHERE ($1::text IS NULL OR provider = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Provider),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.HarvestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun сканирует одну строку в HarvestRun.
func scanRun(row pgx.Row) (*domain.HarvestRun, error) {
	var run domain.HarvestRun
	var resultJSON []byte
	var trigger *string

	err := row.Scan(
		&run.ID,
		&run.Provider,
		&run.Status,
		&trigger,
		&resultJSON,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &run.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if trigger != nil {
		run.Trigger = *trigger
	}

	return &run, nil
}
