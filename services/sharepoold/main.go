// Command sharepoold runs the proportional-share accounting service: it
// restores the share ledger from disk, connects to the lending venue, and
// serves the deposit/withdraw gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sharepool/audit"
	"sharepool/coordinator"
	"sharepool/gateway"
	"sharepool/native/pool"
	"sharepool/observability/logging"
	telemetry "sharepool/observability/otel"
	"sharepool/storage"
	"sharepool/venue/rpcclient"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "sharepoold.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:     "sharepoold",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		FilePath:    cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "sharepoold",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "ledger.db"), nil)
	if err != nil {
		logger.Error("open ledger store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ledger := pool.NewLedger()
	snap, err := store.LoadSnapshot()
	switch {
	case err == nil:
		if err := ledger.Restore(snap); err != nil {
			logger.Error("restore ledger snapshot", "error", err)
			os.Exit(1)
		}
		logger.Info("ledger restored", "totalShares", snap.TotalShares, "accounts", len(snap.Balances))
	case errors.Is(err, storage.ErrNoSnapshot):
		logger.Info("starting with an empty ledger")
	default:
		logger.Error("load ledger snapshot", "error", err)
		os.Exit(1)
	}

	auditLog, err := audit.Open(filepath.Join(cfg.DataDir, "audit.db"), logger, gateway.RequestIDFromContext)
	if err != nil {
		logger.Error("open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	venueClient, err := rpcclient.NewClient(rpcclient.Config{
		BaseURL:            cfg.Venue.BaseURL,
		BearerToken:        cfg.VenueBearerToken,
		SharedSecretHeader: cfg.Venue.SharedSecretHeader,
		SharedSecretValue:  cfg.VenueSharedSecret,
		TLSClientCAFile:    cfg.Venue.TLSClientCAFile,
		AllowInsecure:      cfg.Venue.AllowInsecure,
		RequestTimeout:     cfg.VenueTimeout(),
	})
	if err != nil {
		logger.Error("build venue client", "error", err)
		os.Exit(1)
	}

	coord, err := coordinator.New(ledger, venueClient, store, auditLog, logger, coordinator.Config{
		VenueTimeout: cfg.VenueTimeout(),
	})
	if err != nil {
		logger.Error("build coordinator", "error", err)
		os.Exit(1)
	}

	server := gateway.NewServer(coord, logger, gateway.Config{
		AuthHeader:    cfg.AuthHeader,
		AuthSecret:    cfg.AuthSecret,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
		ServiceName:   "sharepoold",
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sharepoold listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("listen failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}
