// Package worker продвигает один report task по state machine.
//
// # Состояния
//
//	NEW ──submit──► SUBMITTED ──poll──► POLLING ──► COMPLETED ──download──► DOWNLOADED
//	 │                               │
//	 └── синхронный provider ────────┼──────────────────────────────────► DOWNLOADED
//	                                 └──► FAILED
//
// Синхронный provider отвечает на submit самими данными: task сразу
// становится DOWNLOADED. Provider без Poller считается готовым сразу после submit.
//
// # Checkpoint
//
// После каждого перехода Machine вызывает CommitFunc. Запись идёт строго
// после перехода: checkpoint никогда не опережает реальное состояние task'а.
//
// # Ошибки
//
//   - fatal и исчерпанные retry на submit/poll → task FAILED, Advance возвращает nil
//   - ошибка download → task остаётся COMPLETED, ErrDownloadFailed
//   - лимит опросов → task остаётся POLLING, ErrPollLimit
//   - исчерпан runtime budget → состояние не меняется, retry.ErrBudgetExceeded
//   - ошибка CommitFunc → ErrCommit, unit обрабатывать дальше нельзя
//
// # No-data
//
// Статус «нет данных» по умолчанию означает FAILED. NoDataEmpty завершает
// task пустым artifact'ом для provider'ов, где это штатная ситуация.
package worker
