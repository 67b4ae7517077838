package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/api"
	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/application/services"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/ehr"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/fhirbundle"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/lock"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/messaging"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/metrics"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/persistence/postgres"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest/handlers"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest/middleware"
	"github.com/interopehrate/r2d-access-gateway/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting r2d access gateway",
		"port", cfg.Server.Port,
		"log_level", cfg.Logger.Level,
		"max_running_per_day", cfg.Coordinator.MaxConcurrentRunningRequestPerDay,
		"cache_days", cfg.Coordinator.CacheDurationInDays,
	)

	ctx := context.Background()
	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.CheckSchema(ctx); err != nil {
		logger.Error("request store is not ready", "error", err)
		os.Exit(1)
	}

	requestRepo := postgres.NewRequestRepository(db)
	responseRepo := postgres.NewResponseRepository(db)
	txCoordinator := postgres.NewTransactionCoordinator(db)

	locker, closeLocker := newLocker(ctx, cfg.Redis, logger)
	defer closeLocker()

	collector := metrics.NewCollector()

	dispatcher := ehr.NewRetryDispatcher(ehr.NewHTTPDispatcher(cfg.EHRClient), cfg.Retry, logger)
	codec := fhirbundle.NewBundleCodec(cfg.EHRClient.ProvenanceAgent)

	coordinator := services.NewCoordinator(
		requestRepo,
		responseRepo,
		txCoordinator,
		codec,
		dispatcher,
		locker,
		cfg.Coordinator,
		logger,
		services.WithObserver(collector),
	)
	queryService := services.NewQueryService(requestRepo, responseRepo)

	doc, err := api.GetSwagger()
	if err != nil {
		logger.Error("failed to load api document", "error", err)
		os.Exit(1)
	}
	validation, err := middleware.Validation(doc, logger)
	if err != nil {
		logger.Error("failed to build request validation", "error", err)
		os.Exit(1)
	}

	h := handlers.NewHandlers(coordinator, queryService, db, cfg.Server.PublicURL, logger)

	mux := http.NewServeMux()
	api.RegisterDocsRoutes(mux)
	mux.Handle("GET /metrics", collector.Handler())
	h.RegisterRoutes(mux,
		middleware.Citizen(cfg.Auth, logger),
		middleware.CallbackKey(cfg.Auth.CallbackKey, logger),
	)

	handler := middleware.Metrics(collector)(mux)
	handler = validation(handler)
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Timeout(cfg.Server.ReadTimeout)(handler)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	reaper := worker.NewStaleReaper(requestRepo, coordinator, collector, cfg.Worker, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Start(workerCtx)
	}()

	if cfg.Messaging.URL != "" {
		consumer := messaging.NewConsumer(cfg.Messaging, coordinator, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(workerCtx)
		}()
	} else {
		logger.Info("messaging url not set, notifications arrive over http callbacks only")
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	wg.Wait()

	logger.Info("server exited")
}

// newLocker uses Redis when configured so the request lock holds across
// instances, and an in-process lock otherwise.
func newLocker(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (application.Locker, func()) {
	if cfg.URL == "" {
		logger.Info("redis url not set, using in-process request lock")
		return lock.NewLocalLocker(cfg.LockWait), func() {}
	}

	client, err := lock.Connect(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	return lock.NewRedisLocker(client, cfg, logger), func() { _ = client.Close() }
}
