package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/api"
	"github.com/sirosfoundation/go-linkshare/internal/backend"
	"github.com/sirosfoundation/go-linkshare/internal/events"
	"github.com/sirosfoundation/go-linkshare/internal/mirror"
	"github.com/sirosfoundation/go-linkshare/internal/orchestrator"
	"github.com/sirosfoundation/go-linkshare/internal/server"
	"github.com/sirosfoundation/go-linkshare/internal/watcher"
	"github.com/sirosfoundation/go-linkshare/internal/websocket"
	"github.com/sirosfoundation/go-linkshare/pkg/config"
	"github.com/sirosfoundation/go-linkshare/pkg/logging"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting linkshare",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	// Initialize storage backend
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := backend.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(ctx)
	cancel()
	if err != nil {
		logger.Fatal("Failed to ping storage", zap.Error(err))
	}
	logger.Info("Storage backend initialized", zap.String("type", string(store.Type())))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hub := events.NewHub()

	orch, err := orchestrator.New(orchestrator.ConfigFrom(cfg.Instances), logger,
		orchestrator.WithPublisher(hub),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
	)
	if err != nil {
		logger.Fatal("Failed to initialize orchestrator", zap.Error(err))
	}

	handlers := api.NewHandlers(store, orch, api.Options{
		StorageType: string(store.Type()),
		Mirror:      mirror.NewClient(cfg.Mirror, logger),
		Version:     version,
	}, logger)

	wsManager := websocket.NewManager(hub, cfg.CORS.AllowedOrigins, logger)
	eventsProvider := server.NewEventsProvider(wsManager)

	mgr := server.NewManager(server.ServerConfigFrom(cfg, handlers.Status), logger)
	mgr.AddProvider(server.NewControlProvider(handlers))
	mgr.AddProvider(server.NewMetricsProvider(reg))
	mgr.AddProvider(eventsProvider)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := mgr.Start(runCtx); err != nil {
		logger.Fatal("Failed to start control server", zap.Error(err))
	}

	if cfg.Watcher.Enabled && store.WatchPath() != "" {
		w := watcher.New(store.WatchPath(), cfg.Watcher.Debounce(), logger)
		go func() {
			err := w.Run(runCtx, func() {
				hub.Publish(events.Event{
					Type:    events.ConfigChanged,
					Message: store.WatchPath(),
				})
			})
			if err != nil && runCtx.Err() == nil {
				logger.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	stop()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orch.Shutdown(ctx); err != nil {
		logger.Error("Instances forced to shutdown", zap.Error(err))
	}
	eventsProvider.Close()
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error("Control server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
