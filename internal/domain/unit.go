package domain

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout — формат календарной даты unit'а.
const DateLayout = "2006-01-02"

// UnitOfWork — одна цель harvest: пара (entity, дата).
//
// Unit создаётся внешним scheduler'ом, изменяется только engine'ом
// и удаляется/архивируется после успешной загрузки downstream.
type UnitOfWork struct {
	// ID — первичный ключ в work queue.
	ID int64 `json:"id"`

	// GUID — стабильный идентификатор, ключ checkpoint'а.
	GUID uuid.UUID `json:"guid"`

	// Provider — имя рекламной платформы.
	Provider string `json:"provider"`

	// EntityID — идентификатор аккаунта/advertiser'а у provider'а.
	EntityID string `json:"entity_id"`

	// Date — целевая календарная дата (UTC, без времени).
	Date time.Time `json:"date"`

	// Backfill — unit создан для догрузки истории.
	Backfill bool `json:"backfill"`

	// Status — текущий статус.
	Status UnitStatus `json:"status"`

	// Artifacts — manifest: по одному artifact на логический source.
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// TotalBytes — суммарный размер всех artifacts.
	TotalBytes int64 `json:"total_bytes"`

	// DeliveredAt — время записи самого свежего artifact.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// Error — причина статуса ERROR.
	Error string `json:"error,omitempty"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// DateString возвращает дату unit'а в формате YYYY-MM-DD.
func (u *UnitOfWork) DateString() string {
	return u.Date.Format(DateLayout)
}

// Artifact — результат успешного скачивания отчёта.
// Неизменяем после создания.
type Artifact struct {
	// Source — логическое имя источника (например, "campaign_stats").
	Source string `json:"source"`

	// Path — относительный путь в artifact storage.
	Path string `json:"path"`

	// Size — размер в байтах.
	Size int64 `json:"size"`

	// WrittenAt — время записи.
	WrittenAt time.Time `json:"written_at"`
}
