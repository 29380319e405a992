package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/bastion/pkg/async"
	"github.com/platinummonkey/bastion/pkg/audit"
	"github.com/platinummonkey/bastion/pkg/config"
	"github.com/platinummonkey/bastion/pkg/httputil"
	"github.com/platinummonkey/bastion/pkg/middleware"
	"github.com/platinummonkey/bastion/pkg/observability"
	"github.com/platinummonkey/bastion/pkg/rbac"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bastion: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting bastion")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Connected to database")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var otelMetrics *observability.OTelMetrics
	if providers != nil {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OTel metrics: %w", err)
		}
	}

	cache, redisClient, err := buildCache(ctx, cfg)
	if err != nil {
		return err
	}

	sink, dbLogger, err := buildAuditSink(db, cfg.Audit)
	if err != nil {
		return err
	}
	writer := audit.NewWriter(sink, logger,
		audit.WithDenials(cfg.Audit.LogDenials),
		audit.WithMetrics(metrics),
	)

	manager := rbac.NewManager(db, rbac.Config{
		CacheTTL:         cfg.RBAC.CacheTTL,
		CacheSize:        cfg.RBAC.CacheSize,
		Cache:            cache,
		// built-in roles are seeded alongside migrations
		SeedDefaultRoles: cfg.Database.AutoMigrate,
	}, rbac.Deps{
		Audit:       writer,
		Logger:      logger,
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
	})

	if cfg.Database.AutoMigrate {
		if err := manager.Initialize(ctx); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	background := async.NewGroup(ctx, logger)
	if cfg.RBAC.SeedFile != "" {
		seedFile := cfg.RBAC.SeedFile
		background.Go("seed watcher", func(ctx context.Context) error {
			return manager.Service().WatchSeedFile(ctx, seedFile, rbac.DefaultSeedDebounce, func(result rbac.SyncResult, err error) {
				if err != nil {
					logger.WithError(err).Warn("Seed sync failed")
					return
				}
				logger.WithFields(map[string]interface{}{
					"created":   result.Created,
					"updated":   result.Updated,
					"unchanged": result.Unchanged,
				}).Info("Seed synced")
			})
		})
	}
	background.Go("pool stats", func(ctx context.Context) error {
		recordPoolStats(ctx, db, metrics, otelMetrics)
		return nil
	})

	router := mux.NewRouter()
	router.Use(
		httputil.Chain(
			httputil.RequestIDMiddleware,
			httputil.LoggingMiddleware(logger),
			httputil.RecoveryMiddleware(logger),
		),
		middleware.Identity(cfg.Identity.Header),
	)
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		observability.RegisterMetricsEndpoint(router, registry)
	}
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))

	manager.RegisterRoutes(router)
	if searcher, ok := sink.(audit.Searcher); ok {
		audit.NewHandlers(searcher).RegisterRoutes(router, manager.Middleware().RequirePermission(rbac.PermAuditLogsView))
	}

	var handler http.Handler = router
	if providers != nil {
		handler = otelhttp.NewHandler(router, "bastion")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return writer.Close() })
	if cfg.Audit.Archive.Bucket != "" && dbLogger != nil {
		scheduler, err := startArchive(ctx, dbLogger, cfg.Audit.Archive, logger)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"bucket":   cfg.Audit.Archive.Bucket,
			"schedule": cfg.Audit.Archive.Schedule,
		}).Info("Audit archive scheduled")
		shutdown.RegisterShutdownFunc("audit archive", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}
	shutdown.RegisterShutdownFunc("background", background.Stop)

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	waitCtx, stopWait := context.WithCancel(ctx)
	defer stopWait()
	go func() {
		if err := <-serverErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			stopWait()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// buildCache returns the permission cache for the configured backend and
// the redis client when one was dialed
func buildCache(ctx context.Context, cfg *config.Config) (rbac.PermissionCache, *redis.Client, error) {
	switch cfg.RBAC.CacheBackend {
	case config.CacheBackendNone:
		return rbac.NopCache{}, nil, nil
	case config.CacheBackendRedis:
		c, err := rbac.DialRedis(ctx, rbac.RedisOptions{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		return rbac.NewRedisCache(c, cfg.Redis.KeyPrefix), c, nil
	default:
		return rbac.NewMemoryCache(cfg.RBAC.CacheSize, cfg.RBAC.CacheTTL), nil, nil
	}
}

// buildAuditSink returns the configured sink and, when entries go to the
// database, the table logger the archive job reads from
func buildAuditSink(db *sql.DB, cfg config.AuditConfig) (audit.Logger, *audit.DBLogger, error) {
	newFile := func() (*audit.FileLogger, error) {
		return audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.FilePath,
			MaxSize:  cfg.FileMaxSize,
			MaxFiles: cfg.FileMaxKeep,
		})
	}

	switch cfg.Sink {
	case config.AuditSinkNone:
		return audit.NewNoOpLogger(), nil, nil
	case config.AuditSinkFile:
		fileLogger, err := newFile()
		if err != nil {
			return nil, nil, err
		}
		return fileLogger, nil, nil
	case config.AuditSinkBoth:
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		fileLogger, err := newFile()
		if err != nil {
			return nil, nil, err
		}
		return audit.NewMultiLogger(dbLogger, fileLogger), dbLogger, nil
	default:
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		return dbLogger, dbLogger, nil
	}
}

func startArchive(ctx context.Context, source audit.Searcher, cfg config.ArchiveConfig, logger *observability.Logger) (*cron.Cron, error) {
	archiver, err := audit.NewS3Archiver(ctx, audit.S3Config{
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		Prefix:       cfg.Prefix,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UsePathStyle: cfg.UsePathStyle,
		CreateBucket: cfg.Endpoint != "",
	})
	if err != nil {
		return nil, err
	}

	job, err := audit.NewArchiveJob(source, archiver, audit.WithArchiveLogger(logger))
	if err != nil {
		return nil, err
	}
	return job.Schedule(cfg.Schedule, 30*time.Minute)
}

func recordPoolStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.RecordDBStats(stats)
			if otelMetrics != nil {
				otelMetrics.UpdateDBConnectionStats(ctx, stats)
			}
		}
	}
}
