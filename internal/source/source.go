// Package source описывает контракт provider'а отчётов и его HTTP-реализацию.
//
// Provider — небольшой tagged-variant интерфейс:
//
//	Source          — Submit и Download (обязательно)
//	Poller          — Poll (только асинхронные provider'ы)
//	SubEntityLister — список sub-entities для fan-out definitions
//	Refresher       — обновление короткоживущих credentials
//
// Отсутствие Poller означает «отчёт готов сразу после submit».
// Все вызовы идут только через retry.Executor.
package source

import (
	"context"
	"io"

	"github.com/shaiso/Harvester/internal/domain"
)

// Request — один submit.
type Request struct {
	Unit       *domain.UnitOfWork
	Definition domain.ReportDefinition
	Task       *domain.ReportTask
}

// SubmitResult — результат submit.
//
// Асинхронный provider возвращает Token, синхронный — Body (данные отчёта).
// Вызывающий обязан закрыть Body.
type SubmitResult struct {
	Token string
	Body  io.ReadCloser
}

// PollState — состояние отчёта в терминах engine'а.
type PollState int

const (
	// PollRunning — отчёт ещё генерируется.
	PollRunning PollState = iota

	// PollCompleted — отчёт готов к скачиванию.
	PollCompleted

	// PollFailed — provider окончательно не смог построить отчёт.
	PollFailed

	// PollNoData — provider сообщил, что данных нет.
	PollNoData
)

func (s PollState) String() string {
	switch s {
	case PollRunning:
		return "running"
	case PollCompleted:
		return "completed"
	case PollFailed:
		return "failed"
	case PollNoData:
		return "no_data"
	default:
		return "unknown"
	}
}

// Status — результат опроса.
type Status struct {
	State PollState

	// Raw — исходный статус provider'а (для логов и ошибки task'а).
	Raw string

	// DownloadURL — ссылка на готовый отчёт, если provider её вернул.
	DownloadURL string
}

// Source — provider отчётов.
type Source interface {
	// Name возвращает имя provider'а.
	Name() string

	// Submit отправляет запрос на построение отчёта.
	Submit(ctx context.Context, req Request) (*SubmitResult, error)

	// Download открывает поток готового отчёта.
	Download(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Poller — асинхронный provider.
type Poller interface {
	Poll(ctx context.Context, req Request) (Status, error)
}

// SubEntityLister — provider с sub-entities (profiles) внутри entity.
type SubEntityLister interface {
	ListSubEntities(ctx context.Context, unit *domain.UnitOfWork) ([]string, error)
}

// Refresher — provider с короткоживущими credentials.
type Refresher interface {
	Refresh(ctx context.Context) error
}
