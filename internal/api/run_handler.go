package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/repo"
)

// ListRuns возвращает историю runs, новые первыми.
// GET /api/v1/runs?provider=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Provider: r.URL.Query().Get("provider"),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		switch s := domain.RunStatus(status); s {
		case domain.RunStatusRunning, domain.RunStatusSucceeded, domain.RunStatusWarning, domain.RunStatusFailed:
			filter.Status = s
		default:
			BadRequest(w, "invalid status")
			return
		}
	}

	var err error
	filter.Limit, filter.Offset, err = paging(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}
