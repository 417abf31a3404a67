package domain

// ReportDefinition — описание одного отчёта, который нужно получить для unit'а.
type ReportDefinition struct {
	// ID — уникальный ID внутри provider'а.
	ID string `json:"id"`

	// Source — логическое имя источника для manifest.
	// Несколько definitions могут писать в один source.
	Source string `json:"source"`

	// DimensionOnly — справочный отчёт: генерируется не чаще раза в день на entity.
	DimensionOnly bool `json:"dimension_only,omitempty"`

	// PerSubEntity — fan-out: по одному task на sub-entity (profile).
	PerSubEntity bool `json:"per_sub_entity,omitempty"`

	// BatchSize — размер batch ID sub-entities в одном task.
	// 0 — без batching (берётся default provider'а, если задан).
	BatchSize int `json:"batch_size,omitempty"`

	// Serial — tasks definition выполняются последовательно
	// (общее пространство ID, курсорная пагинация).
	Serial bool `json:"serial,omitempty"`

	// Params — параметры для шаблонов запроса.
	Params map[string]string `json:"params,omitempty"`
}

// SourceName возвращает имя source, по умолчанию — ID definition.
func (d ReportDefinition) SourceName() string {
	if d.Source != "" {
		return d.Source
	}
	return d.ID
}
