package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Dispatcher запускает runs по имени provider'а.
// Общий для cron, AMQP и HTTP API daemon'а.
type Dispatcher struct {
	engines map[string]*Engine
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher создаёт Dispatcher над engines.
func NewDispatcher(engines []*Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]*Engine, len(engines))
	for _, e := range engines {
		m[e.Provider()] = e
	}
	return &Dispatcher{engines: m, logger: logger}
}

// Providers возвращает имена provider'ов по алфавиту.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.engines))
	for name := range d.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine возвращает engine provider'а.
func (d *Dispatcher) Engine(provider string) (*Engine, error) {
	e, ok := d.engines[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return e, nil
}

// Start запускает run в фоне и сразу возвращается.
// ctx — контекст процесса: его отмена прерывает run.
func (d *Dispatcher) Start(ctx context.Context, provider string, opts Options) error {
	e, err := d.Engine(provider)
	if err != nil {
		return err
	}
	if e.Running() {
		return fmt.Errorf("%w: %s", ErrRunInProgress, provider)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		res, err := e.RunWith(ctx, opts)
		switch {
		case errors.Is(err, ErrRunInProgress):
			d.logger.Info("run skipped, already in progress", "provider", provider, "trigger", opts.Trigger)
		case err != nil:
			d.logger.Error("run failed", "provider", provider, "trigger", opts.Trigger, "error", err)
		case res.ErrorCount > 0:
			d.logger.Warn("run finished with unit errors", "provider", provider, "errors", res.ErrorCount)
		}
	}()
	return nil
}

// Running возвращает provider'ы с идущим run.
func (d *Dispatcher) Running() []string {
	var out []string
	for _, name := range d.Providers() {
		if d.engines[name].Running() {
			out = append(out, name)
		}
	}
	return out
}

// Wait ждёт завершения всех запущенных runs.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
