// Package telemetry обеспечивает наблюдаемость harvester'а.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики engine'а
//
// CLI и daemon используют единый формат логирования;
// daemon экспортирует метрики на /metrics endpoint.
package telemetry
