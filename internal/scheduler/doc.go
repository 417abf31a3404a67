// Package scheduler запускает harvest runs provider'ов по cron.
//
// Структура:
//   - scheduler.go — Scheduler (Tick, Run, Upcoming)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Entries: entries,     // из конфигурации provider'ов
//	    Runner:  dispatcher,  // orchestrator.Dispatcher
//	    Leader:  lease.Held,  // опционально
//	    Logger:  logger,
//	})
//	go sched.Run(ctx, time.Second)
//
// Leader election:
//
// Scheduler не выбирает лидера сам. Daemon передаёт Leader на основе
// pg_try_advisory_lock (repo.Lease), и тики идут только у лидера.
package scheduler
