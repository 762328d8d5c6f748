package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ondrasimku/file-intake/internal/auth"
	"github.com/ondrasimku/file-intake/internal/config"
	"github.com/ondrasimku/file-intake/internal/database"
	httphandler "github.com/ondrasimku/file-intake/internal/http"
	"github.com/ondrasimku/file-intake/internal/intake"
	"github.com/ondrasimku/file-intake/internal/log"
	"github.com/ondrasimku/file-intake/internal/metrics"
	"github.com/ondrasimku/file-intake/internal/registry"
	"github.com/ondrasimku/file-intake/internal/storage"
	"github.com/ondrasimku/file-intake/internal/storage/memory"
	"github.com/ondrasimku/file-intake/internal/storage/sqlstore"
	"github.com/ondrasimku/file-intake/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	metrics.Register()

	backend, ready, err := newBackend(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize registry backend", "backend", cfg.Registry.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close registry backend", "error", err)
		}
	}()

	reg, err := registry.New(backend, registry.Options{
		Capacity:          cfg.Registry.Capacity,
		ReplaceDuplicates: cfg.Registry.DuplicatePolicy == config.DuplicateReplace,
		RetryAttempts:     cfg.Registry.RetryAttempts,
		RetryBackoff:      cfg.Registry.RetryBackoff,
		OpTimeout:         cfg.Registry.OpTimeout,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("Failed to initialize registry", "error", err)
		os.Exit(1)
	}

	pipeline := intake.NewPipeline(reg, intake.Options{
		Policy:      policyFromConfig(cfg),
		InsertOrder: intake.InsertOrder(cfg.Policy.InsertOrder),
		Logger:      logger,
	})

	deps := httphandler.Deps{Intake: pipeline, Registry: reg, Ready: ready}
	if cfg.Auth.Enabled {
		authCfg := auth.Config{
			JWKSUrl:      cfg.Auth.JWKSUrl,
			Issuer:       cfg.Auth.Issuer,
			Audience:     cfg.Auth.Audience,
			JWKSCacheTTL: cfg.Auth.JWKSCacheTTL,
		}
		deps.Verifier = auth.NewVerifier(auth.NewJWKSClient(authCfg.JWKSUrl, authCfg.JWKSCacheTTL), authCfg)
	}

	router := httphandler.NewRouter(deps, cfg, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("Starting file intake service",
			"addr", cfg.HTTPAddr,
			"backend", cfg.Registry.Backend,
			"capacity", cfg.Registry.Capacity,
			"duplicates", cfg.Registry.DuplicatePolicy,
			"auth", cfg.Auth.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited")
}

func newBackend(cfg *config.Config, logger *slog.Logger) (storage.Backend, func(context.Context) error, error) {
	if cfg.Registry.Backend == config.BackendMemory {
		return memory.NewMemoryBackend(), nil, nil
	}

	db, err := database.Open(cfg.Registry.Backend, &cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	backend, err := sqlstore.New(db, cfg.Registry.ListKey)
	if err != nil {
		return nil, nil, err
	}

	ready := func(ctx context.Context) error {
		return database.HealthCheck(ctx, db)
	}
	return backend, ready, nil
}

func policyFromConfig(cfg *config.Config) validation.Policy {
	allowed := make(map[string]bool, len(cfg.Policy.AllowedMediaTypes))
	for _, t := range cfg.Policy.AllowedMediaTypes {
		allowed[validation.NormalizeMediaType(t)] = true
	}
	return validation.Policy{
		AllowedMediaTypes:      allowed,
		MaxBytes:               cfg.MaxFileSize,
		AllowExtensionFallback: cfg.Policy.AllowExtensionFallback,
		AllowedExtensions:      cfg.Policy.AllowedExtensions,
	}
}
