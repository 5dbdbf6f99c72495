package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/imageworks-api/internal/config"
	"github.com/phrazzld/imageworks-api/internal/platform/blob"
	"github.com/phrazzld/imageworks-api/internal/platform/logger"
	"github.com/phrazzld/imageworks-api/internal/platform/lookup"
	"github.com/phrazzld/imageworks-api/internal/platform/postgres"
	"github.com/phrazzld/imageworks-api/internal/platform/redisq"
	"github.com/phrazzld/imageworks-api/internal/service"
	"github.com/phrazzld/imageworks-api/internal/task"
)

// queuePrefix namespaces this service's Redis keys.
const queuePrefix = "imageworks:jobs"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

// application holds the assembled components of the running server.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *sql.DB
	rdb   *redis.Client
	pool  *task.WorkerPool
	serve *http.Server
}

// newApplication loads configuration and wires together every component:
// store, queue, blob store, lookup client, pipelines, worker pool, service,
// and the HTTP router.
func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	blobs, err := blob.NewMinioStore(ctx, cfg.Blob)
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	jobStore := postgres.NewPostgresJobStore(db, appLogger)
	queue := redisq.NewQueue(rdb, queuePrefix, appLogger)

	fetcher := lookup.NewClient(cfg.Lookup, appLogger)
	pipelines := task.NewRegistry(
		task.NewUploadPipeline(blobs, cfg.Upload, appLogger),
		task.NewLookupPipeline(fetcher, blobs, appLogger),
	)

	pool := task.NewWorkerPool(queue, jobStore, pipelines, task.WorkerPoolConfig{
		WorkerCount:       cfg.Queue.WorkerCount,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		ReapInterval:      cfg.Queue.ReapInterval,
	}, appLogger)

	jobService, err := service.NewJobService(jobStore, queue, appLogger)
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}

	router := newRouter(cfg, appLogger, jobService, blobs)

	serve := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:    cfg,
		logger: appLogger,
		db:     db,
		rdb:    rdb,
		pool:   pool,
		serve:  serve,
	}, nil
}

// Run starts the worker pool and the HTTP server, then blocks until a signal
// arrives on stop or the server fails, shutting everything down in order.
func (a *application) Run(stop <-chan os.Signal) error {
	if err := a.pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "port", a.cfg.Server.Port)
		if err := a.serve.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-stop:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		a.logger.Error("server failed", "error", err)
		a.shutdown()
		return err
	}

	return a.shutdown()
}

// shutdown stops accepting requests, drains in-flight workers, and closes
// the backing connections. Order matters: the HTTP surface goes first so no
// new jobs arrive while the pool drains.
func (a *application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.serve.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
		firstErr = err
	}

	a.pool.Stop()

	if err := a.rdb.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.logger.Info("shutdown complete")
	return firstErr
}
