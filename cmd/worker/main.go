package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"jobflow/internal/bus"
	"jobflow/internal/config"
	"jobflow/internal/events"
	"jobflow/internal/logging"
	"jobflow/internal/notify"
	"jobflow/internal/queue"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
	"jobflow/internal/worker"
)

// The worker runs the deadline watcher out of process. Alerts it raises are
// persisted here and relayed over NATS so API instances can push them to
// connected clients.
func main() {
	cfg := config.Load()
	logger, err := logging.FromConfig(os.Stdout, cfg, "jobflow-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.StoreBackend, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if cfg.UsesMemoryStore() {
		logger.Warn("worker is using the in-memory store; it will not see jobs created by the api")
	}

	eventBus := events.NewBus(logger.With("component", "events"), cfg.InstanceID)
	dispatcher := notify.NewDispatcher(st, eventBus, logger.With("component", "notify"))
	eventBus.Subscribe("notify", dispatcher)

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL, "jobflow-worker-"+cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		eventBus.Subscribe("relay", bus.NewRelay(nc, cfg.NATSSubjectPrefix, cfg.InstanceID, nil, logger.With("component", "relay")))
	}

	redisClient := queue.NewRedisClient(cfg)
	defer redisClient.Close()
	processor := worker.NewProcessor(cfg, queue.NewDeadlineQueue(redisClient), st, dispatcher, logger.With("component", "deadline-watcher"))

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("deadline watcher started",
			"poll_interval", cfg.DeadlinePollInterval,
			"risk_window", cfg.DeadlineRiskWindow,
			"backoff_initial", cfg.BackoffInitial)
		if err := processor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
