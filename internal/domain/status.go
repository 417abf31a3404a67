package domain

// UnitStatus — статус unit of work в очереди.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETE
//	                  ↘ ERROR
//	          RUNNING → PENDING (budget исчерпан, продолжим в следующем run)
type UnitStatus string

const (
	// UnitStatusPending — unit ожидает обработки (или будет продолжен).
	UnitStatusPending UnitStatus = "PENDING"

	// UnitStatusRunning — unit обрабатывается engine'ом.
	UnitStatusRunning UnitStatus = "RUNNING"

	// UnitStatusComplete — все tasks скачаны, manifest построен.
	UnitStatusComplete UnitStatus = "COMPLETE"

	// UnitStatusError — есть окончательно упавший task без замены.
	UnitStatusError UnitStatus = "ERROR"
)

// IsTerminal возвращает true, если статус финальный.
func (s UnitStatus) IsTerminal() bool {
	switch s {
	case UnitStatusComplete, UnitStatusError:
		return true
	default:
		return false
	}
}

// ParseUnitStatus парсит строку в UnitStatus.
func ParseUnitStatus(s string) (UnitStatus, bool) {
	switch UnitStatus(s) {
	case UnitStatusPending, UnitStatusRunning, UnitStatusComplete, UnitStatusError:
		return UnitStatus(s), true
	default:
		return "", false
	}
}

// TaskState — состояние report task.
//
// Жизненный цикл:
//
//	NEW → SUBMITTED → POLLING → COMPLETED → DOWNLOADED
//	    ↘ DOWNLOADED (синхронный provider: ответ и есть данные)
//	                ↘ FAILED (из любого не-финального состояния)
type TaskState string

const (
	// TaskStateNew — task запланирован, но ещё не отправлен provider'у.
	TaskStateNew TaskState = "NEW"

	// TaskStateSubmitted — provider принял запрос и вернул token.
	TaskStateSubmitted TaskState = "SUBMITTED"

	// TaskStatePolling — ожидаем готовности отчёта.
	TaskStatePolling TaskState = "POLLING"

	// TaskStateCompleted — отчёт готов, но ещё не скачан.
	TaskStateCompleted TaskState = "COMPLETED"

	// TaskStateFailed — task окончательно упал в этом run.
	TaskStateFailed TaskState = "FAILED"

	// TaskStateDownloaded — artifact записан в sink.
	TaskStateDownloaded TaskState = "DOWNLOADED"
)

// IsTerminal возвращает true, если state финальный для текущего run.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateDownloaded, TaskStateFailed:
		return true
	default:
		return false
	}
}

// InFlight возвращает true, если у task есть живой token у provider'а.
func (s TaskState) InFlight() bool {
	switch s {
	case TaskStateSubmitted, TaskStatePolling, TaskStateCompleted:
		return true
	default:
		return false
	}
}

// RunStatus — итоговый статус harvest run.
type RunStatus string

const (
	// RunStatusRunning — run в процессе.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — run завершён без ошибок.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusWarning — run остановлен по budget, ошибок нет.
	RunStatusWarning RunStatus = "WARNING"

	// RunStatusFailed — в run были ошибки (errorCount > 0).
	RunStatusFailed RunStatus = "FAILED"
)
