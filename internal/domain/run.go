package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunResult — итог одного вызова Engine.Run.
//
// Ненулевой ErrorCount — сигнал для harness'а о неуспешном run.
// Units при этом остаются возобновляемыми по отдельности.
type RunResult struct {
	// Processed — сколько units было взято в обработку.
	Processed int `json:"processed"`

	// Skipped — units, пропущенные из-за skip-list или budget.
	Skipped int `json:"skipped"`

	// ErrorCount — число ошибок уровня unit.
	ErrorCount int `json:"error_count"`

	// Complete, Pending, Failed — разбивка по итоговым статусам.
	Complete int `json:"complete"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`

	// BudgetExceeded — run остановлен по runtime budget.
	BudgetExceeded bool `json:"budget_exceeded"`

	// Duration — длительность run.
	Duration time.Duration `json:"duration"`
}

// Status возвращает итоговый статус run.
// Ошибки важнее budget: FAILED перекрывает WARNING.
func (r RunResult) Status() RunStatus {
	switch {
	case r.ErrorCount > 0:
		return RunStatusFailed
	case r.BudgetExceeded:
		return RunStatusWarning
	default:
		return RunStatusSucceeded
	}
}

// HarvestRun — запись истории run'ов одного provider'а.
type HarvestRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Provider — имя provider'а.
	Provider string `json:"provider"`

	// Status — итоговый статус.
	Status RunStatus `json:"status"`

	// Trigger — источник запуска: "cli", "cron", "api", "mq".
	Trigger string `json:"trigger"`

	// Result — счётчики run.
	Result RunResult `json:"result"`

	// StartedAt — время начала.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения. Nil, пока run идёт.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *HarvestRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finish фиксирует результат run.
func (r *HarvestRun) Finish(res RunResult) {
	now := time.Now().UTC()
	r.Result = res
	r.Status = res.Status()
	r.FinishedAt = &now
}
