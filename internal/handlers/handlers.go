package handlers

import (
	"net/http"
	"time"

	"chatstream/internal/pipeline"
	"chatstream/internal/websocket"
	"chatstream/pkg/logging"
	"chatstream/pkg/middleware"
	"chatstream/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ChatStreamHandlers contains the HTTP handlers for the service
type ChatStreamHandlers struct {
	queue     *pipeline.IngestionQueue
	store     *pipeline.LiveEventStore
	stats     *pipeline.StatsAggregator
	hub       *websocket.Hub
	logger    logging.Logger
	startTime time.Time
}

// NewChatStreamHandlers creates a new handlers instance
func NewChatStreamHandlers(queue *pipeline.IngestionQueue, store *pipeline.LiveEventStore, stats *pipeline.StatsAggregator, hub *websocket.Hub, logger logging.Logger) *ChatStreamHandlers {
	return &ChatStreamHandlers{
		queue:     queue,
		store:     store,
		stats:     stats,
		hub:       hub,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HandleWebSocket serves WebSocket connections for real-time updates
func (h *ChatStreamHandlers) HandleWebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// HandleLiveMessages returns the current live messages
func (h *ChatStreamHandlers) HandleLiveMessages(c *gin.Context) {
	messages := h.store.Snapshot()
	if messages == nil {
		messages = []models.ConversationEvent{}
	}

	c.JSON(http.StatusOK, models.LiveMessagesResponse{
		Messages:  messages,
		Count:     len(messages),
		Timestamp: time.Now().UTC(),
	})
}

// HandleStats returns the current statistics
func (h *ChatStreamHandlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatsResponse{
		Stats:            h.stats.Snapshot(),
		Timestamp:        time.Now().UTC(),
		ActiveWebsockets: h.hub.ClientCount(),
	})
}

// HandleConversationWebhook receives one complete conversation exchange.
// Validation of required fields happens here, at the transport boundary;
// valid payloads go onto the ingestion queue for the next poll tick.
func (h *ChatStreamHandlers) HandleConversationWebhook(c *gin.Context) {
	var payload pipeline.RawPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_payload",
			Message: "Request body must be a JSON object",
			Service: "chatstream",
		})
		return
	}

	for _, field := range []string{"user_message", "ai_response"} {
		if _, ok := payload[field]; !ok {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "missing_field",
				Message: "Missing required field: " + field,
				Service: "chatstream",
			})
			return
		}
	}

	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	h.queue.Enqueue(payload)
	middleware.GetContextLogger(c, h.logger).WithField("user_message", truncate(pipeline.ExtractUserMessage(payload), 50)).Info("Added live request")

	c.JSON(http.StatusOK, models.WebhookAck{Status: "success", Message: "Conversation data received"})
}

// HandleAIResponseWebhook receives a completed AI response. The provider
// sends the reply under "response"; it is remapped onto the canonical
// ai_response field and marked completed before queueing.
func (h *ChatStreamHandlers) HandleAIResponseWebhook(c *gin.Context) {
	var payload pipeline.RawPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_payload",
			Message: "Request body must be a JSON object",
			Service: "chatstream",
		})
		return
	}

	if _, ok := payload["ai_response"]; !ok {
		payload["ai_response"] = payload["response"]
		delete(payload, "response")
	}
	if _, ok := payload["id"]; !ok {
		payload["id"] = "response_" + uuid.NewString()
	}
	payload["status"] = models.StatusCompleted

	h.queue.Enqueue(payload)
	middleware.GetContextLogger(c, h.logger).WithField("id", payload["id"]).Info("AI response received")

	c.JSON(http.StatusOK, models.WebhookAck{Status: "success", Message: "AI response received"})
}

// HandleUserMessageWebhook receives a user message before the AI responds.
// The pending entry is broadcast immediately, bypassing the ingestion queue,
// so viewers see the question while the answer is still in flight.
func (h *ChatStreamHandlers) HandleUserMessageWebhook(c *gin.Context) {
	var payload pipeline.RawPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_payload",
			Message: "Request body must be a JSON object",
			Service: "chatstream",
		})
		return
	}

	message, _ := payload["message"].(string)
	if message == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "missing_field",
			Message: "Missing required field: message",
			Service: "chatstream",
		})
		return
	}

	pending := models.PendingMessage{
		Type:        models.EventTypeUserMessage,
		ID:          stringOr(payload, "id", "pending_"+uuid.NewString()),
		Timestamp:   time.Now().UTC(),
		UserMessage: message,
		AIResponse:  "",
		Status:      models.StatusPending,
		PromptName:  stringOr(payload, "prompt_name", "unknown"),
		Model:       stringOr(payload, "model", "unknown"),
	}
	if ts, ok := payload["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			pending.Timestamp = parsed
		}
	}

	h.hub.BroadcastPending(pending)
	middleware.GetContextLogger(c, h.logger).WithField("user_message", truncate(message, 50)).Info("User message received")

	c.JSON(http.StatusOK, models.WebhookAck{Status: "success", Message: "User message received"})
}

// HandleNotFound provides a custom 404 handler
func (h *ChatStreamHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: "Endpoint not found",
		Service: "chatstream",
	})
}

func stringOr(payload pipeline.RawPayload, key, fallback string) string {
	if value, ok := payload[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
