package main

import (
	"context"

	"chatstream/internal/handlers"
	"chatstream/internal/metrics"
	"chatstream/internal/pipeline"
	"chatstream/internal/websocket"
	"chatstream/pkg/config"
	"chatstream/pkg/logging"
	"chatstream/pkg/models"
	"chatstream/pkg/monitoring"
	"chatstream/pkg/server"
	"chatstream/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("chatstream")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting ChatStream (real-time conversation monitor)")

	pollingInterval := config.GetEnvSeconds("POLLING_INTERVAL_SECONDS", 10)
	heartbeatInterval := config.GetEnvSeconds("WEBSOCKET_HEARTBEAT_INTERVAL", 30)
	messageTTL := config.GetEnvSeconds("MESSAGE_TTL_SECONDS", 120)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("chatstream", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("chatstream", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		EventsIngested:    metricsCollector.NewCounter("events_ingested_total", "Conversation events ingested", []string{"event_type"}),
		EventsAdmitted:    metricsCollector.NewCounter("events_admitted_total", "Conversation events admitted to the live set", []string{"event_type"}),
		LiveEvents:        metricsCollector.NewGauge("live_events", "Currently live conversation events", []string{"type"}),
		TickDuration:      metricsCollector.NewHistogram("tick_duration_seconds", "Poll tick duration", []string{"stage"}, nil),
		HubConnections:    metricsCollector.NewGauge("websocket_hub_connections_active", "Active WebSocket hub connections", []string{"channel"}),
		HubMessages:       metricsCollector.NewCounter("websocket_hub_messages_total", "WebSocket hub messages", []string{"channel", "direction"}),
		BroadcastFailures: metricsCollector.NewCounter("websocket_broadcast_failures_total", "Subscribers dropped on send failure", []string{"channel"}),
	}

	// Core pipeline components, constructed once and passed explicitly
	queue := pipeline.NewIngestionQueue()
	normalizer := pipeline.NewNormalizer(messageTTL)
	store := pipeline.NewLiveEventStore()
	statsAggregator := pipeline.NewStatsAggregator()

	// WebSocket hub; new subscribers catch up from the store and stats
	hub := websocket.NewHub(func() ([]models.ConversationEvent, models.Stats) {
		return store.Snapshot(), statsAggregator.Snapshot()
	}, heartbeatInterval, logger, serviceMetrics)

	// Health checks
	healthChecker.AddCheck("websocket_hub", monitoring.HubHealthCheck(hub.ClientCount))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"POLLING_INTERVAL_SECONDS":     pollingInterval.String(),
		"WEBSOCKET_HEARTBEAT_INTERVAL": heartbeatInterval.String(),
		"MESSAGE_TTL_SECONDS":          messageTTL.String(),
	}))

	// One-time system validation before the background loop is allowed to start
	if health := healthChecker.CheckHealth(); health.Status == monitoring.StatusUnhealthy {
		logger.WithField("checks", health.Checks).Fatal("System validation failed")
	}
	logger.Info("System validation successful")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	poller := pipeline.NewPoller(queue, normalizer, store, statsAggregator, hub, pollingInterval, logger, serviceMetrics)
	go poller.Run(ctx)

	// Setup router
	router := server.SetupServiceRouter(logger, "chatstream", healthChecker, metricsCollector)

	chatstreamHandlers := handlers.NewChatStreamHandlers(queue, store, statsAggregator, hub, logger)

	router.POST("/webhook/conversation", chatstreamHandlers.HandleConversationWebhook)
	router.POST("/webhook/ai-response", chatstreamHandlers.HandleAIResponseWebhook)
	router.POST("/webhook/user-message", chatstreamHandlers.HandleUserMessageWebhook)
	router.GET("/messages/live", chatstreamHandlers.HandleLiveMessages)
	router.GET("/stats", chatstreamHandlers.HandleStats)
	router.GET("/ws", chatstreamHandlers.HandleWebSocket)
	router.NoRoute(chatstreamHandlers.HandleNotFound)

	// Start server with graceful shutdown; the poller and hub unwind once the
	// listener has drained.
	serverConfig := server.DefaultConfig("chatstream", "8000")
	if err := server.Start(serverConfig, router, logger, func(context.Context) { cancel() }); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
