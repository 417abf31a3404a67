// Package orchestrator — Harvest Engine: один run одного provider'а.
//
// Engine.Run:
//   - создаёт RuntimeBudget; исчерпанный budget — ни одного вызова provider'а
//   - берёт PENDING (и брошенные RUNNING) units из work queue
//   - обрабатывает units пулом до UnitParallelism
//   - внутри unit'а: checkpoint → sub-entities → plan → запись checkpoint'а
//     до первого submit → tasks пулом до TaskParallelism → completion
//   - по истечении budget новые units не запускаются, недооценённые
//     units возвращаются в PENDING
//   - после run удаляет checkpoints неактивных units и старые dimension-маркеры
//
// Ошибки unit'а ловятся на его границе, логируются с GUID и entity
// и считаются; run из-за них не прерывается. Skip-list и счётчик ошибок
// общие для всех workers run'а.
package orchestrator
