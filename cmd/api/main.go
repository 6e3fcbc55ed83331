package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/infrastructure/config"
	"meshmind-backend/infrastructure/di"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer container.Shutdown(context.Background())

	handler := container.Router.Setup()

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The server comes up first so liveness answers immediately; readiness
	// stays 503 per tenant until its hydration lands.
	go func() {
		container.Logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Hydrate every served tenant in the background, each under the tenant
	// write lock so a concurrent export cannot publish mid-hydration. A
	// failed tenant leaves the process up but not ready.
	go func() {
		for _, tenantID := range container.Tenants {
			var report *ports.HydrationReport
			err := container.WriteCoordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
				var hydrateErr error
				report, hydrateErr = container.SnapshotManager.Hydrate(ctx, tenantID)
				return hydrateErr
			})
			if err != nil {
				container.Logger.Error("Hydration failed",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(err),
				)
				continue
			}
			container.NodeCache.Flush()
			container.Logger.Info("Tenant hydrated",
				zap.String("tenant_id", tenantID.String()),
				zap.String("version", report.Version),
				zap.String("state", string(report.State)),
				zap.Duration("duration", report.Duration),
			)
		}

		// Maintenance starts once every tenant has had its hydration pass
		go container.BackupScheduler.Run(ctx)
		go container.IntegrityScanner.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown error", zap.Error(err))
	}

	log.Println("Server stopped")
}
