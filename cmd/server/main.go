package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/villagegrid/telemetryd/pkg/config"
	"github.com/villagegrid/telemetryd/pkg/logging"
	"github.com/villagegrid/telemetryd/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	// A missing .env file is fine; containers set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting telemetryd",
		zap.String("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.Duration("partition_width", cfg.PartitionWidth),
		zap.Duration("compression_age", cfg.CompressionAge),
		zap.Duration("retention_horizon", cfg.RetentionHorizon),
		zap.String("delete_policy", string(cfg.DeletePolicy)))

	app, err := server.Setup(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Rollup engine consumes ingest notifications until ctx is cancelled.
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Engine.Run(ctx)
	}()

	// WebSocket hub fans readings out to connected clients.
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Hub.Run(ctx)
	}()

	stopLifecycle := make(chan bool)
	wg.Add(1)
	go server.RunLifecycle(app.Lifecycle, app.LifecycleMonitor,
		logger.Named("lifecycle"), stopLifecycle, &wg)

	stopHeartbeat := make(chan bool)
	wg.Add(1)
	go server.RunHeartbeatSweep(app.Registry, logger.Named("heartbeat"), stopHeartbeat, &wg)

	stopGC := make(chan bool)
	wg.Add(1)
	go app.RunBadgerGC(stopGC, &wg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// Cancel the context before waiting on the group or the engine and hub
	// loops never exit.
	cancel()
	close(stopLifecycle)
	close(stopHeartbeat)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("background tasks stopped")
	case <-time.After(5 * time.Second):
		logger.Warn("some background tasks did not stop in time")
	}

	if err := app.Close(); err != nil {
		logger.Warn("storage close", zap.Error(err))
	}

	logger.Info("telemetryd exited cleanly")
}
