package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTokenImmutable — попытка перезаписать external token task'а.
var ErrTokenImmutable = errors.New("task token already set")

// ReportTask — один запрос одного report definition против одного unit'а.
//
// Task создаётся planner'ом и продвигается state machine:
// submit → poll → download. Сериализуется в checkpoint.
type ReportTask struct {
	// UnitGUID — GUID unit'а-владельца.
	UnitGUID uuid.UUID `json:"unit_guid"`

	// DefinitionID — ID report definition из конфигурации provider'а.
	DefinitionID string `json:"definition_id"`

	// SubEntityID — sub-entity (profile) для fan-out definitions.
	SubEntityID string `json:"sub_entity_id,omitempty"`

	// BatchIDs — batch ID sub-entities, если definition разбит на batches.
	BatchIDs []string `json:"batch_ids,omitempty"`

	// State — текущее состояние.
	State TaskState `json:"state"`

	// Token — external token provider'а. После установки не меняется.
	Token string `json:"token,omitempty"`

	// SubmittedAt — время успешного submit.
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`

	// DownloadURL — ссылка на готовый отчёт (если provider её возвращает).
	DownloadURL string `json:"download_url,omitempty"`

	// Polls — сколько раз task опрашивался в текущем run.
	Polls int `json:"polls,omitempty"`

	// Artifact — результат скачивания. Не nil для DOWNLOADED.
	Artifact *Artifact `json:"artifact,omitempty"`

	// Error — причина FAILED.
	Error string `json:"error,omitempty"`

	// UpdatedAt — время последнего перехода.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReportTask создаёт task в состоянии NEW.
func NewReportTask(unitGUID uuid.UUID, definitionID, subEntityID string, batch []string) ReportTask {
	return ReportTask{
		UnitGUID:     unitGUID,
		DefinitionID: definitionID,
		SubEntityID:  subEntityID,
		BatchIDs:     batch,
		State:        TaskStateNew,
		UpdatedAt:    time.Now().UTC(),
	}
}

// Key возвращает стабильный ключ task'а внутри unit'а.
// Два task'а с одинаковым ключом описывают один и тот же запрос.
func (t *ReportTask) Key() string {
	var b strings.Builder
	b.WriteString(t.DefinitionID)
	if t.SubEntityID != "" {
		b.WriteString("/")
		b.WriteString(t.SubEntityID)
	}
	if len(t.BatchIDs) > 0 {
		b.WriteString("#")
		b.WriteString(strings.Join(t.BatchIDs, ","))
	}
	return b.String()
}

// IsExpired возвращает true, если task старше validity horizon.
// Task без SubmittedAt не может протухнуть.
func (t *ReportTask) IsExpired(now time.Time, horizon time.Duration) bool {
	if t.SubmittedAt == nil || horizon <= 0 {
		return false
	}
	return now.Sub(*t.SubmittedAt) > horizon
}

// MarkSubmitted фиксирует token и переводит task в SUBMITTED.
func (t *ReportTask) MarkSubmitted(token string, at time.Time) error {
	if t.Token != "" && t.Token != token {
		return fmt.Errorf("%w: %s", ErrTokenImmutable, t.Key())
	}
	t.Token = token
	at = at.UTC()
	t.SubmittedAt = &at
	t.State = TaskStateSubmitted
	t.UpdatedAt = at
	return nil
}

// MarkPolling переводит task в POLLING и увеличивает счётчик опросов.
func (t *ReportTask) MarkPolling() {
	t.State = TaskStatePolling
	t.Polls++
	t.UpdatedAt = time.Now().UTC()
}

// MarkCompleted переводит task в COMPLETED.
func (t *ReportTask) MarkCompleted(downloadURL string) {
	t.State = TaskStateCompleted
	if downloadURL != "" {
		t.DownloadURL = downloadURL
	}
	t.UpdatedAt = time.Now().UTC()
}

// MarkFailed переводит task в FAILED.
func (t *ReportTask) MarkFailed(reason string) {
	t.State = TaskStateFailed
	t.Error = reason
	t.UpdatedAt = time.Now().UTC()
}

// MarkDownloaded переводит task в DOWNLOADED. Artifact обязателен.
func (t *ReportTask) MarkDownloaded(a Artifact) {
	t.State = TaskStateDownloaded
	t.Artifact = &a
	t.Error = ""
	t.UpdatedAt = time.Now().UTC()
}

// Valid проверяет инварианты task'а после чтения из checkpoint.
func (t *ReportTask) Valid() error {
	if t.DefinitionID == "" {
		return errors.New("task without definition id")
	}
	if t.State == TaskStateDownloaded && t.Artifact == nil {
		return fmt.Errorf("downloaded task %s without artifact", t.Key())
	}
	if t.State.InFlight() && t.Token == "" && t.State != TaskStateCompleted {
		return fmt.Errorf("in-flight task %s without token", t.Key())
	}
	return nil
}
