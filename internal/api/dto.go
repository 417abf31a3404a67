package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/scheduler"
)

// Unit DTOs

// CreateUnitRequest — запрос на постановку unit'а в очередь.
type CreateUnitRequest struct {
	Provider string `json:"provider"`
	EntityID string `json:"entity_id"`
	Date     string `json:"date"`
	Backfill bool   `json:"backfill,omitempty"`
}

// Validate проверяет запрос и возвращает дату unit'а.
func (r CreateUnitRequest) Validate() (time.Time, string) {
	if r.Provider == "" {
		return time.Time{}, "provider is required"
	}
	if r.EntityID == "" {
		return time.Time{}, "entity_id is required"
	}
	date, err := time.Parse(domain.DateLayout, r.Date)
	if err != nil {
		return time.Time{}, "date must be YYYY-MM-DD"
	}
	return date, ""
}

// UnitResponse — ответ с unit'ом.
type UnitResponse struct {
	GUID        uuid.UUID         `json:"guid"`
	Provider    string            `json:"provider"`
	EntityID    string            `json:"entity_id"`
	Date        string            `json:"date"`
	Backfill    bool              `json:"backfill"`
	Status      domain.UnitStatus `json:"status"`
	Artifacts   []domain.Artifact `json:"artifacts"`
	TotalBytes  int64             `json:"total_bytes"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// UnitFromDomain конвертирует domain.UnitOfWork в UnitResponse.
func UnitFromDomain(u domain.UnitOfWork) UnitResponse {
	artifacts := u.Artifacts
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	return UnitResponse{
		GUID:        u.GUID,
		Provider:    u.Provider,
		EntityID:    u.EntityID,
		Date:        u.DateString(),
		Backfill:    u.Backfill,
		Status:      u.Status,
		Artifacts:   artifacts,
		TotalBytes:  u.TotalBytes,
		DeliveredAt: u.DeliveredAt,
		Error:       u.Error,
		UpdatedAt:   u.UpdatedAt,
	}
}

// CheckpointResponse — содержимое checkpoint'а unit'а.
type CheckpointResponse struct {
	UnitGUID uuid.UUID                `json:"unit_guid"`
	Tasks    []domain.ReportTask      `json:"tasks"`
	States   map[domain.TaskState]int `json:"states"`
}

// CheckpointFromTasks строит ответ по task'ам checkpoint'а.
func CheckpointFromTasks(guid uuid.UUID, tasks []domain.ReportTask) CheckpointResponse {
	if tasks == nil {
		tasks = []domain.ReportTask{}
	}
	states := make(map[domain.TaskState]int)
	for _, t := range tasks {
		states[t.State]++
	}
	return CheckpointResponse{UnitGUID: guid, Tasks: tasks, States: states}
}

// Run DTOs

// StartRunRequest — запрос на запуск run. Тело необязательно.
type StartRunRequest struct {
	// MaxRuntime — runtime budget, например "90m". Пусто — из конфигурации.
	MaxRuntime  string `json:"max_runtime,omitempty"`
	RetryFailed bool   `json:"retry_failed,omitempty"`
}

// StartRunResponse — run принят к запуску.
type StartRunResponse struct {
	Provider   string `json:"provider"`
	MaxRuntime string `json:"max_runtime"`
	Status     string `json:"status"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID         uuid.UUID        `json:"id"`
	Provider   string           `json:"provider"`
	Status     domain.RunStatus `json:"status"`
	Trigger    string           `json:"trigger"`
	Result     domain.RunResult `json:"result"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
}

// RunFromDomain конвертирует domain.HarvestRun в RunResponse.
func RunFromDomain(r domain.HarvestRun) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Provider:   r.Provider,
		Status:     r.Status,
		Trigger:    r.Trigger,
		Result:     r.Result,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
	}
}

// Provider DTOs

// ProviderResponse — provider и его состояние.
type ProviderResponse struct {
	Name    string     `json:"name"`
	Running bool       `json:"running"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// DueResponse — ближайший запуск по расписанию.
type DueResponse struct {
	Provider string    `json:"provider"`
	Cron     string    `json:"cron"`
	Next     time.Time `json:"next"`
}

// DueFromScheduler конвертирует scheduler.Due в DueResponse.
func DueFromScheduler(d scheduler.Due) DueResponse {
	return DueResponse{Provider: d.Provider, Cron: d.Cron, Next: d.Next}
}
