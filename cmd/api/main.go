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

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"jobflow/internal/api"
	"jobflow/internal/archive"
	"jobflow/internal/bus"
	"jobflow/internal/config"
	"jobflow/internal/events"
	"jobflow/internal/logging"
	"jobflow/internal/queue"
	"jobflow/internal/ratelimit"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
	"jobflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger, err := logging.FromConfig(os.Stdout, cfg, "jobflow-api")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.StoreBackend, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	eventBus := events.NewBus(logger.With("component", "events"), cfg.InstanceID)
	core := api.NewCore(cfg, st, eventBus, logger)

	redisClient := queue.NewRedisClient(cfg)
	defer redisClient.Close()
	deadlines := queue.NewDeadlineQueue(redisClient)
	eventBus.Subscribe("deadline-scheduler", worker.NewScheduler(deadlines, cfg.DeadlineRiskWindow, logger.With("component", "scheduler")))

	uploader, err := archive.NewUploader(ctx, cfg)
	if err != nil {
		return fmt.Errorf("archive uploader: %w", err)
	}
	var archiver *archive.Archiver
	if uploader != nil {
		archiver = archive.NewArchiver(core.Lifecycle, uploader, logger.With("component", "archive"))
		eventBus.Subscribe("archive", archiver)
	}

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL, "jobflow-api-"+cfg.InstanceID)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		relay := bus.NewRelay(nc, cfg.NATSSubjectPrefix, cfg.InstanceID, core.Hub, logger.With("component", "relay"))
		if err := relay.Start(); err != nil {
			return fmt.Errorf("start relay: %w", err)
		}
		defer relay.Stop()
		eventBus.Subscribe("relay", relay)
	}

	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	server := api.New(cfg, core, limiter, logger.With("component", "http"))
	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Actor-ID", "X-Actor-Role"},
	}).Handler(server.Router())

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", httpServer.Addr, "store", cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	if cfg.RunDeadlineWatcher {
		processor := worker.NewProcessor(cfg, deadlines, st, core.Notify, logger.With("component", "deadline-watcher"))
		g.Go(func() error {
			if err := processor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if archiver != nil {
		archiver.Wait()
	}
	return err
}
