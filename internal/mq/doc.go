// Package mq связывает Harvester с RabbitMQ.
//
// Входящие сообщения:
//   - run.requested  — внеочередной run provider'а (очередь harvest.requests)
//
// Исходящие сообщения:
//   - unit.completed — unit COMPLETE, manifest готов для загрузки в warehouse
//
// Exchanges:
//   - harvester.runs  — запросы на run
//   - harvester.units — события units
//   - harvester.dlq   — отвергнутые запросы
package mq
