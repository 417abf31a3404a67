package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/repo"
)

// ListUnits возвращает units work queue.
// GET /api/v1/units?provider=...&status=...&entity_id=...&limit=...&offset=...
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.UnitFilter{
		Provider: q.Get("provider"),
		EntityID: q.Get("entity_id"),
	}

	if s := q.Get("status"); s != "" {
		status, ok := domain.ParseUnitStatus(s)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	var err error
	filter.Limit, filter.Offset, err = paging(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	units, err := h.units.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]UnitResponse, len(units))
	for i, u := range units {
		result[i] = UnitFromDomain(u)
	}

	List(w, result, len(result))
}

// CreateUnit ставит unit в очередь.
// POST /api/v1/units
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	date, msg := req.Validate()
	if msg != "" {
		BadRequest(w, msg)
		return
	}
	if !slices.Contains(h.dispatcher.Providers(), req.Provider) {
		BadRequest(w, "unknown provider "+req.Provider)
		return
	}

	unit := &domain.UnitOfWork{
		GUID:     uuid.New(),
		Provider: req.Provider,
		EntityID: req.EntityID,
		Date:     date,
		Backfill: req.Backfill,
		Status:   domain.UnitStatusPending,
	}

	if HandleError(w, h.logger, h.units.Create(r.Context(), unit), "") {
		return
	}

	Created(w, UnitFromDomain(*unit))
}

// GetUnit возвращает unit по GUID.
// GET /api/v1/units/{guid}
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	guid, err := uuid.Parse(r.PathValue("guid"))
	if err != nil {
		BadRequest(w, "invalid unit guid")
		return
	}

	unit, err := h.units.GetByGUID(r.Context(), guid)
	if HandleError(w, h.logger, err, "unit not found") {
		return
	}

	Success(w, UnitFromDomain(*unit))
}

// GetCheckpoint возвращает checkpoint unit'а.
// GET /api/v1/units/{guid}/checkpoint
func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	guid, err := uuid.Parse(r.PathValue("guid"))
	if err != nil {
		BadRequest(w, "invalid unit guid")
		return
	}

	unit, err := h.units.GetByGUID(r.Context(), guid)
	if HandleError(w, h.logger, err, "unit not found") {
		return
	}

	tasks, err := h.checkpoints.Load(r.Context(), unit.Provider, guid)
	if HandleError(w, h.logger, err, "") {
		return
	}
	if tasks == nil {
		NotFound(w, "checkpoint not found")
		return
	}

	Success(w, CheckpointFromTasks(guid, tasks))
}
