package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rgodfrey/mockfeed/internal/config"
	"github.com/rgodfrey/mockfeed/internal/feed"
	"github.com/rgodfrey/mockfeed/internal/gateway"
	"github.com/rgodfrey/mockfeed/internal/manager"
	"github.com/rgodfrey/mockfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedserver.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedserver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"mode", cfg.Mode,
		"store_dir", cfg.Store.Dir,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create the market data manager
	mgr, err := manager.New(manager.Config{
		Mode:           cfg.Mode,
		DataDir:        cfg.Store.Dir,
		UpdateInterval: cfg.Stream.UpdateInterval,
		BufferSize:     cfg.Stream.BufferSize,
		Symbols:        cfg.Stream.Symbols,
		Feed: feed.ClientConfig{
			URL:          cfg.Feed.URL,
			AccessToken:  cfg.Feed.AccessToken,
			PingInterval: cfg.Feed.PingInterval,
			WriteTimeout: cfg.Feed.WriteTimeout,
		},
	}, logger)
	if err != nil {
		logger.Error("failed to create manager", "error", err)
		os.Exit(1)
	}

	// Open the store early so schema problems fail fast
	if _, err := mgr.DB(); err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	logger.Info("store ready", "dir", cfg.Store.Dir)

	// Gateway must subscribe before the stream starts
	srv := gateway.NewServer(cfg.HTTP.Port, mgr, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("gateway server error", "error", err)
			cancel()
		}
	}()

	// Start streaming
	if err := mgr.StartStreaming(ctx); err != nil {
		logger.Error("failed to start streaming", "error", err)
		os.Exit(1)
	}

	logger.Info("feedserver running",
		"port", cfg.HTTP.Port,
		"mock_mode", mgr.IsMockMode(),
	)

	<-ctx.Done()

	// Graceful shutdown: stream first, then gateway, then store
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := mgr.StopStreaming(shutdownCtx); err != nil {
		logger.Error("error stopping stream", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down gateway", "error", err)
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Error("error closing manager", "error", err)
	}

	logger.Info("feedserver stopped")
}
