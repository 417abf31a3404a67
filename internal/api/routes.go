package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Units
	mux.Handle("GET /api/v1/units", chain(http.HandlerFunc(h.ListUnits)))
	mux.Handle("POST /api/v1/units", chain(http.HandlerFunc(h.CreateUnit)))
	mux.Handle("GET /api/v1/units/{guid}", chain(http.HandlerFunc(h.GetUnit)))
	mux.Handle("GET /api/v1/units/{guid}/checkpoint", chain(http.HandlerFunc(h.GetCheckpoint)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))

	// Providers
	mux.Handle("GET /api/v1/providers", chain(http.HandlerFunc(h.ListProviders)))
	mux.Handle("POST /api/v1/providers/{name}/runs", chain(http.HandlerFunc(h.StartRun)))
	mux.Handle("GET /api/v1/schedule", chain(http.HandlerFunc(h.ListSchedule)))
}
