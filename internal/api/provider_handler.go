package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/shaiso/Harvester/internal/orchestrator"
)

// ListProviders возвращает provider'ов, их состояние и ближайший cron-запуск.
// GET /api/v1/providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	next := make(map[string]time.Time)
	if h.schedule != nil {
		for _, d := range h.schedule.Upcoming() {
			next[d.Provider] = d.Next
		}
	}
	running := h.dispatcher.Running()

	names := h.dispatcher.Providers()
	result := make([]ProviderResponse, len(names))
	for i, name := range names {
		result[i] = ProviderResponse{
			Name:    name,
			Running: slices.Contains(running, name),
		}
		if t, ok := next[name]; ok {
			result[i].NextRun = &t
		}
	}

	List(w, result, len(result))
}

// StartRun запускает run provider'а в фоне.
// POST /api/v1/providers/{name}/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("name")

	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	maxRuntime := h.maxRuntime(provider)
	if req.MaxRuntime != "" {
		d, err := time.ParseDuration(req.MaxRuntime)
		if err != nil || d <= 0 {
			BadRequest(w, "invalid max_runtime")
			return
		}
		maxRuntime = d
	}

	err := h.dispatcher.Start(h.runCtx, provider, orchestrator.Options{
		MaxRuntime:  maxRuntime,
		Trigger:     "api",
		RetryFailed: req.RetryFailed,
	})
	if HandleError(w, h.logger, err, "provider not found") {
		return
	}

	Accepted(w, StartRunResponse{
		Provider:   provider,
		MaxRuntime: maxRuntime.String(),
		Status:     "started",
	})
}

// ListSchedule возвращает ближайшие запуски по cron.
// GET /api/v1/schedule
func (h *Handler) ListSchedule(w http.ResponseWriter, r *http.Request) {
	if h.schedule == nil {
		List(w, []DueResponse{}, 0)
		return
	}

	upcoming := h.schedule.Upcoming()
	result := make([]DueResponse, len(upcoming))
	for i, d := range upcoming {
		result[i] = DueFromScheduler(d)
	}

	List(w, result, len(result))
}
