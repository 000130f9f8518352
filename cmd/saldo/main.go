package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"saldo/internal/backend"
	"saldo/internal/cache"
	"saldo/internal/cli"
	apphttp "saldo/internal/http"
	"saldo/internal/log"
	"saldo/internal/reconcile"
	"saldo/internal/services"
)

func main() {
	cli.LoadEnvFile()

	bootLogger := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	ledgerCache := cache.NewLRUCache[reconcile.Ledger](cfg.ReconcileCacheSize, cfg.ReconcileCacheTTL)
	caches := cache.NewManager()
	caches.Register(ledgerCache)
	caches.StartCleanup(time.Minute)

	ledgerSvc := services.NewLedgerService(result.Store, result.Publisher, logger)
	reconcileSvc := services.NewReconcileService(result.Store, ledgerCache, logger)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Location:           cfg.Location(),
		Logger:             logger,
		Ready:              result.Ready,
	}, ledgerSvc, reconcileSvc)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if err := result.Close(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting saldo server",
		"addr", srv.Addr,
		"backend", cfg.DataBackend,
		"timezone", cfg.DisplayTimezone)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
