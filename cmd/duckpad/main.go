package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckpad/duckpad/internal/api"
	"github.com/duckpad/duckpad/internal/api/uistatic"
	"github.com/duckpad/duckpad/internal/auth"
	"github.com/duckpad/duckpad/internal/config"
	historypostgres "github.com/duckpad/duckpad/internal/history/postgres"
	"github.com/duckpad/duckpad/internal/maintenance"
	"github.com/duckpad/duckpad/internal/observability"
	duckdbengine "github.com/duckpad/duckpad/internal/query/duckdb"
	s3store "github.com/duckpad/duckpad/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("duckpad")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	engine := duckdbengine.NewEngine(duckdbengine.Config{
		Path:     cfg.Engine.Path,
		Threads:  cfg.Engine.Threads,
		SeedDemo: cfg.Engine.SeedDemo,
	})
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engine.Connect(connectCtx); err != nil {
		// The page reports the failure; keep serving.
		logger.Error("failed to initialize database", slog.Any("error", err))
	} else {
		logger.Info("database initialized",
			slog.String("path", displayPath(cfg.Engine.Path)),
			slog.Bool("seed_demo", cfg.Engine.SeedDemo),
		)
	}
	cancelConnect()
	observability.SetEngineConnected(engine.Status().Connected)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	deps := api.Dependencies{
		Logger:            logger,
		Engine:            engine,
		UI:                uistatic.Handler(),
		DependencyTimeout: time.Second,
	}
	checks := []api.ReadinessCheck{api.PingCheck("engine", engine.Ping)}
	var background []func(context.Context) error

	if cfg.History.Enabled {
		historyDB, err := historypostgres.Open(context.Background(), historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		repo := historypostgres.NewRepository(historyDB)
		deps.History = repo
		checks = append(checks, api.PingCheck("history", repo.HealthCheck))

		retention := &maintenance.Service{
			History: repo,
			Config: maintenance.Config{
				RetentionInterval: cfg.History.RetentionInterval,
				MaxAge:            cfg.History.Retention,
			},
			Logger: logger,
		}
		background = append(background, retention.Run)
	}

	if cfg.Export.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exports = objectStore
		checks = append(checks, api.PingCheck("object store", objectStore.Ping))
	}
	deps.Readiness = api.CombineReadinessChecks(checks...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		if validator.Len() == 0 {
			logger.Warn("auth is required but no static keys are configured")
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, task := range background {
		go func() {
			if err := task(ctx); err != nil {
				logger.Error("background task failed", slog.Any("error", err))
			}
		}()
	}

	go func() {
		logger.Info("starting server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Bool("tls", cfg.HTTP.TLSEnabled),
			slog.Bool("history", cfg.History.Enabled),
			slog.Bool("export", cfg.Export.Enabled),
		)
		var err error
		if cfg.HTTP.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}
