// Main package for the octerm hub: accepts client device sockets, keeps them alive
// with heartbeats and exposes broadcast and observability endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/octerm/octerm-hub/internal"
	"github.com/octerm/octerm-hub/pkg/broadcast"
	"github.com/octerm/octerm-hub/pkg/forward"
	"github.com/octerm/octerm-hub/pkg/handlers"
	"github.com/octerm/octerm-hub/pkg/heartbeat"
	"github.com/octerm/octerm-hub/pkg/logsink"
	"github.com/octerm/octerm-hub/pkg/metrics"
	"github.com/octerm/octerm-hub/pkg/presence"
	"github.com/octerm/octerm-hub/pkg/store"
	"github.com/octerm/octerm-hub/pkg/transport"
	"go.uber.org/zap"
)

func main() {
	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	defer logger.Sync()

	cfg, err := LoadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		os.Exit(2)
	}

	shutdownCtx, shutdownRelease := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer shutdownRelease()

	//
	// Storage
	pool, err := store.Connect(shutdownCtx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return
	}
	defer pool.Close()

	if err := store.Migrate(shutdownCtx, pool); err != nil {
		logger.Error("Failed to apply database schema", zap.Error(err))
		return
	}
	clients := store.NewClientRepo(pool)
	clientLogs := store.NewClientLogRepo(pool)

	//
	// Registry + observers
	registry := metrics.NewRegistry()
	hubMetrics := metrics.NewHubMetrics(registry)
	observers := []internal.ClientStoreObserver{hubMetrics}

	if cfg.RedisURL != "" {
		rdb, err := presence.NewRedisClient(shutdownCtx, cfg.RedisURL)
		if err != nil {
			logger.Error("Failed to connect to redis", zap.Error(err))
			return
		}
		defer rdb.Close()

		redisPresence := presence.CreateRedisPresence(rdb, logger)
		if err := redisPresence.Reset(shutdownCtx); err != nil {
			logger.Warn("Failed to clear stale presence", zap.Error(err))
		}
		observers = append(observers, redisPresence)
	}

	clientStore := internal.CreateClientStore(observers...)

	var forwarder handlers.Forwarder
	if cfg.NatsURL != "" {
		nc, err := forward.Connect(cfg.NatsURL, "octerm-hub")
		if err != nil {
			logger.Error("Failed to connect to nats", zap.Error(err))
			return
		}
		defer nc.Drain()
		forwarder = forward.CreateNatsForwarder(nc, cfg.NatsSubjectPrefix, logger)
	}

	logQueue := logsink.CreateQueue(logsink.QueueParams{
		Persister: clientLogs,
		Size:      cfg.LogQueueSize,
		Metrics:   hubMetrics,
		Logger:    logger,
	})

	//
	// Transport + HTTP
	wsHandler, err := transport.CreateWebsocketHandler(clientStore, transport.WebsocketClientParams{
		ApiKeyHeader:       cfg.ApiKeyHeader,
		AllowAllHosts:      len(cfg.AllowedOrigins) == 0,
		AllowlistedHosts:   cfg.AllowedOrigins,
		MaxReadMessageSize: cfg.MaxMessageSize,
		WriteWait:          cfg.WriteWait,
		InboxCapacity:      cfg.InboxCapacity,
		Credentials:        clients,
		Recorder:           clients,
		LogSink:            logQueue,
		Forwarder:          forwarder,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("Failed to create WebSocket handler", zap.Error(err))
		return
	}

	server := CreateServer(ServerParams{
		ListenAddress:  cfg.ListenAddress,
		WsEndpoint:     cfg.WsEndpoint,
		UpgradeHandler: wsHandler.HandleUpgrade,
		Store:          clientStore,
		Gateway:        broadcast.CreateGateway(clientStore, hubMetrics, logger),
		Logs:           clientLogs,
		MetricsHandler: metrics.Handler(registry),
		Logger:         logger,
	})

	supervisor := heartbeat.CreateSupervisor(heartbeat.SupervisorParams{
		Store:    clientStore,
		Interval: cfg.HeartbeatInterval,
		Grace:    cfg.HeartbeatGrace,
		Metrics:  hubMetrics,
		Logger:   logger,
	})

	// The log queue outlives the readers so their last lines are still persisted.
	logCtx, logRelease := context.WithCancel(context.Background())
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		logQueue.Start(logCtx)
	}()

	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Start(shutdownCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		supervisor.Start(shutdownCtx)
	}()

	wg.Wait()

	logger.Info("Releasing client connections", zap.Int("count", clientStore.Len()))
	clientStore.Close()

	logRelease()
	select {
	case <-logDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Timed out flushing client logs")
	}
	logger.Info("Shutdown complete")
}
