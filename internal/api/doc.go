// Package api содержит HTTP API daemon'а.
//
// Структура:
//   - handler.go          — Handler с DI (work queue, история runs, checkpoints, dispatcher)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - unit_handler.go     — обработчики для /units
//   - run_handler.go      — обработчики для /runs
//   - provider_handler.go — обработчики для /providers и /schedule
//
// API только читает состояние и запускает runs; сам harvest идёт в Engine.
package api
