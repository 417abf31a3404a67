// Harvester daemon — долгоживущий сервис сбора отчётов.
//
// Daemon:
//   - Запускает runs provider'ов по cron (с advisory lock лидера)
//   - Принимает запросы на run из RabbitMQ (harvest.requests)
//   - Отдаёт HTTP API, /healthz и /metrics
//   - Публикует unit.completed для downstream loader'а
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Harvester/internal/api"
	"github.com/shaiso/Harvester/internal/bootstrap"
	"github.com/shaiso/Harvester/internal/config"
	"github.com/shaiso/Harvester/internal/mq"
	"github.com/shaiso/Harvester/internal/orchestrator"
	"github.com/shaiso/Harvester/internal/repo"
	"github.com/shaiso/Harvester/internal/scheduler"
	"github.com/shaiso/Harvester/internal/telemetry"
)

// schedulerLockKey — ключ advisory lock лидера cron ("harv").
const schedulerLockKey int64 = 0x68617276

var startTime = time.Now()

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting harvester-daemon")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
	logger.Info("harvester-daemon stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	env, err := config.Load()
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	ps, err := config.LoadProviders(env.ProvidersFile)
	if err != nil {
		return err
	}
	logger.Info("providers loaded", "file", env.ProvidersFile, "providers", ps.Names())

	// DB pool
	db, err := bootstrap.OpenDatabase(ctx, env.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := repo.Migrate(ctx, db.Pool); err != nil {
		return err
	}
	logger.Info("database connected")

	stores, err := bootstrap.OpenStores(ctx, env, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	// RabbitMQ необязателен: без него нет AMQP triggers и unit.completed
	var notifier orchestrator.Notifier
	var mqConn *mq.Connection
	if env.RabbitURL != "" {
		mqConn, err = mq.NewConnection(env.RabbitURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running without AMQP", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			notifier = mq.NewPublisher(mqConn, logger)
		}
	}

	engines, err := bootstrap.BuildEngines(ps, bootstrap.Deps{
		Queue:       db.Units,
		Active:      db.Units,
		Runs:        db.Runs,
		Notifier:    notifier,
		Checkpoints: stores.Checkpoints,
		Sink:        stores.Sink,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	dispatcher := orchestrator.NewDispatcher(engines, logger)

	maxRuntime := func(provider string) time.Duration {
		if p, ok := ps.Get(provider); ok {
			return bootstrap.MaxRuntime(p, env.DefaultMaxRuntime)
		}
		return env.DefaultMaxRuntime
	}

	// Cron
	lease := repo.NewLease(db.Pool, schedulerLockKey)
	defer lease.Release(context.Background())

	sched, err := scheduler.New(scheduler.Config{
		Entries: bootstrap.ScheduleEntries(ps, env.DefaultMaxRuntime),
		Runner:  dispatcher,
		Leader:  lease.Held,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	go sched.Run(ctx, 0)

	// AMQP triggers
	if mqConn != nil {
		consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:   string(mq.QueueRunRequests),
			Handler: runRequestHandler(ctx, dispatcher, maxRuntime, logger),
		})
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("run request consumer stopped", "error", err)
			}
		}()
		defer consumer.Stop()
	}

	handler := api.NewHandler(api.Config{
		Units:       db.Units,
		Runs:        db.Runs,
		Checkpoints: stores.Checkpoints,
		Dispatcher:  dispatcher,
		Schedule:    sched,
		RunContext:  ctx,
		MaxRuntime:  maxRuntime,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + env.DaemonPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Runs видят отмену ctx и сохраняют checkpoints
	dispatcher.Wait()
	return nil
}

// runRequestHandler обрабатывает run.requested из harvest.requests.
func runRequestHandler(runCtx context.Context, d *orchestrator.Dispatcher, maxRuntime func(string) time.Duration, logger *slog.Logger) mq.Handler {
	return func(ctx context.Context, msg *mq.Delivery) error {
		payload, err := mq.ParsePayload[mq.RunRequestedPayload](&msg.Message)
		if err != nil {
			return fmt.Errorf("%w: %v", mq.ErrDiscard, err)
		}

		budget := maxRuntime(payload.Provider)
		if payload.MaxRuntime != "" {
			budget, err = time.ParseDuration(payload.MaxRuntime)
			if err != nil || budget <= 0 {
				return fmt.Errorf("%w: invalid max_runtime %q", mq.ErrDiscard, payload.MaxRuntime)
			}
		}

		err = d.Start(runCtx, payload.Provider, orchestrator.Options{
			MaxRuntime:  budget,
			Trigger:     "mq",
			RetryFailed: payload.RetryFailed,
		})
		switch {
		case errors.Is(err, orchestrator.ErrUnknownProvider):
			return fmt.Errorf("%w: %v", mq.ErrDiscard, err)
		case errors.Is(err, orchestrator.ErrRunInProgress):
			// Идущий run и так обработает очередь
			logger.Info("run request skipped, already in progress",
				"provider", payload.Provider,
				"requested_by", payload.RequestedBy,
			)
			return nil
		case err != nil:
			return err
		}

		logger.Info("run requested via AMQP",
			"provider", payload.Provider,
			"max_runtime", budget,
			"requested_by", payload.RequestedBy,
		)
		return nil
	}
}
