package source

import "strings"

// StatusVocabulary отображает статусы provider'а в PollState.
//
// Сравнение регистронезависимое. Статус, не найденный ни в конфигурации,
// ни в словаре по умолчанию, считается PollFailed.
type StatusVocabulary struct {
	Completed []string `json:"completed,omitempty"`
	Running   []string `json:"running,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	NoData    []string `json:"no_data,omitempty"`
}

var defaultVocabulary = map[string]PollState{
	"COMPLETED":   PollCompleted,
	"COMPLETE":    PollCompleted,
	"SUCCESS":     PollCompleted,
	"SUCCEEDED":   PollCompleted,
	"DONE":        PollCompleted,
	"PENDING":     PollRunning,
	"QUEUED":      PollRunning,
	"RUNNING":     PollRunning,
	"IN_PROGRESS": PollRunning,
	"PROCESSING":  PollRunning,
	"SUBMITTED":   PollRunning,

	"COMPLETED_WITH_ERRORS": PollFailed,
	"PARTIALLY_COMPLETED":   PollFailed,
	"ABORTED":               PollFailed,
	"CANCELLED":             PollFailed,
	"FAILED":                PollFailed,
	"FAILURE":               PollFailed,
	"UNKNOWN":               PollFailed,
}

// Map возвращает PollState для статуса provider'а.
func (v StatusVocabulary) Map(raw string) PollState {
	s := strings.ToUpper(strings.TrimSpace(raw))

	// NoData первым: provider'ы часто шлют «нет данных» тем же словом, что и FAILED
	if contains(v.NoData, s) {
		return PollNoData
	}
	if contains(v.Completed, s) {
		return PollCompleted
	}
	if contains(v.Running, s) {
		return PollRunning
	}
	if contains(v.Failed, s) {
		return PollFailed
	}
	if st, ok := defaultVocabulary[s]; ok {
		return st
	}
	return PollFailed
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
