package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"graphkb-backend/infrastructure/config"
	"graphkb-backend/infrastructure/di"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()
	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	logger := container.Logger
	defer logger.Sync()

	if container.Tracing != nil {
		defer container.Tracing.Shutdown(ctx)
	}

	if container.Schema != nil && cfg.WatchSchema {
		if err := container.Schema.Watch(); err != nil {
			logger.Fatal("failed to start schema watcher", zap.Error(err))
		}
		defer container.Schema.Stop()
	}

	container.Worker.Start()

	var metricsServer *http.Server
	if container.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(container.Metrics.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("metrics server listening", zap.String("address", cfg.MetricsAddress))
	}

	logger.Info("graphd running",
		zap.String("graph_file", cfg.GraphFilePath),
		zap.Int("nodes", container.Service.NodeCount()),
		zap.Int("edges", container.Service.EdgeCount()),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	container.Service.Close()
	container.Worker.Stop(cfg.DomainConfig().DeliveryDrainTimeout)
	if metricsServer != nil {
		metricsServer.Shutdown(ctx)
	}
}
