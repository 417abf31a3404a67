package source

import (
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Harvester/internal/domain"
)

// --- StatusVocabulary Tests ---

func TestStatusVocabulary_Defaults(t *testing.T) {
	v := StatusVocabulary{}

	tests := []struct {
		raw  string
		want PollState
	}{
		{"COMPLETED", PollCompleted},
		{"success", PollCompleted},
		{"Pending", PollRunning},
		{"RUNNING", PollRunning},
		{"IN_PROGRESS", PollRunning},
		{"COMPLETED_WITH_ERRORS", PollFailed},
		{"PARTIALLY_COMPLETED", PollFailed},
		{"ABORTED", PollFailed},
		{"UNKNOWN", PollFailed},
		{"", PollFailed},
		{"something-new", PollFailed},
	}

	for _, tt := range tests {
		if got := v.Map(tt.raw); got != tt.want {
			t.Errorf("Map(%q): expected %s, got %s", tt.raw, tt.want, got)
		}
	}
}

func TestStatusVocabulary_Overrides(t *testing.T) {
	v := StatusVocabulary{
		Completed: []string{"READY"},
		Running:   []string{"WAITING"},
		NoData:    []string{"FAILED"},
	}

	if got := v.Map("ready"); got != PollCompleted {
		t.Errorf("expected completed, got %s", got)
	}
	if got := v.Map("WAITING"); got != PollRunning {
		t.Errorf("expected running, got %s", got)
	}
	// NoData перекрывает словарь по умолчанию
	if got := v.Map("FAILED"); got != PollNoData {
		t.Errorf("expected no_data, got %s", got)
	}
}

// --- Render Tests ---

func TestRender(t *testing.T) {
	t.Setenv("TEST_REGION", "eu")

	req := testRequest()
	req.Task.SubEntityID = "p1"
	req.Task.BatchIDs = []string{"1", "2"}
	data := NewTemplateData(req)

	tests := []struct {
		tmpl string
		want string
	}{
		{"plain", "plain"},
		{"{{ .Entity }}/{{ .DateCompact }}", "42/20240701"},
		{"{{ .SubEntity }}:{{ join \",\" .BatchIDs }}", "p1:1,2"},
		{"{{ env \"TEST_REGION\" }}", "eu"},
		{"{{ addDays -7 .Date }}", "2024-06-24"},
		{"{{ default \"all\" .Params.missing }}", "all"},
		{"{{ upper .Params.metric }}", "CLICKS"},
	}

	for _, tt := range tests {
		got, err := Render(tt.tmpl, data)
		if err != nil {
			t.Errorf("Render(%q): %v", tt.tmpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Render(%q): expected %q, got %q", tt.tmpl, tt.want, got)
		}
	}
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{ .Entity ", TemplateData{})
	if !errors.Is(err, ErrTemplate) {
		t.Errorf("expected ErrTemplate, got %v", err)
	}
}

func TestNewTemplateData_NilTask(t *testing.T) {
	unit := &domain.UnitOfWork{EntityID: "42", Date: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)}
	d := NewTemplateData(Request{Unit: unit})
	if d.Entity != "42" || d.Date != "2024-07-01" || d.Token != "" {
		t.Errorf("unexpected data %+v", d)
	}
}
