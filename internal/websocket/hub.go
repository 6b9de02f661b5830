package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chatstream/internal/metrics"
	"chatstream/pkg/logging"
	"chatstream/pkg/models"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Per-client outbound buffer; a client that falls this far behind is dropped
	sendBufferSize = 256
)

// CatchupFunc produces the initial live set and stats a new subscriber
// receives before any further messages arrive
type CatchupFunc func() ([]models.ConversationEvent, models.Stats)

// Hub maintains the set of active subscribers and broadcasts conversation
// events, stats and live-set snapshots to all of them. A failed send only
// removes that one subscriber; it is never fatal to the hub.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	catchup           CatchupFunc
	heartbeatInterval time.Duration
	logger            logging.Logger
	metrics           *metrics.Metrics
	mutex             sync.RWMutex
}

// Client represents one connected WebSocket subscriber
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger logging.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub. catchup supplies the snapshot sent to
// every new subscriber; heartbeatInterval drives each client's keep-alive.
func NewHub(catchup CatchupFunc, heartbeatInterval time.Duration, logger logging.Logger, serviceMetrics *metrics.Metrics) *Hub {
	return &Hub{
		clients:           make(map[*Client]bool),
		broadcast:         make(chan []byte, 256),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		done:              make(chan struct{}),
		catchup:           catchup,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
		metrics:           serviceMetrics,
	}
}

// Run starts the hub's main loop. On context cancellation every client
// connection is closed and the loop exits.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()

			h.metrics.HubConnections.WithLabelValues("ws").Set(float64(count))
			h.logger.WithField("client_count", count).Info("WebSocket connected")

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// broadcastMessage attempts delivery to every registered subscriber. Failed
// subscribers are collected during the pass and removed after it completes,
// so one slow or dead connection never blocks delivery to the rest.
func (h *Hub) broadcastMessage(message []byte) {
	var failed []*Client

	h.mutex.RLock()
	for client := range h.clients {
		select {
		case client.send <- message:
			h.metrics.HubMessages.WithLabelValues("ws", "out").Inc()
		default:
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range failed {
		h.metrics.BroadcastFailures.WithLabelValues("ws").Inc()
		h.logger.Warn("Dropping unresponsive WebSocket client")
		h.removeClient(client)
	}
}

// removeClient is idempotent; removing an unknown client is a no-op
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	_, known := h.clients[client]
	if known {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mutex.Unlock()

	if known {
		h.metrics.HubConnections.WithLabelValues("ws").Set(float64(count))
		h.logger.WithField("client_count", count).Info("WebSocket disconnected")
	}
}

func (h *Hub) closeAll() {
	close(h.done)
	h.mutex.Lock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.mutex.Unlock()
	h.logger.Info("WebSocket hub stopped")
}

// release hands a client back to the hub loop for removal. Once the hub has
// stopped nothing drains the unregister channel, so the send is abandoned
// instead of blocking the caller forever.
func (h *Hub) release(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish serializes a message once and queues it for delivery to all
// registered subscribers
func (h *Hub) Publish(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// BroadcastEvent publishes one conversation event; the event's own type field
// is the wire discriminator
func (h *Hub) BroadcastEvent(event models.ConversationEvent) {
	h.metrics.EventsIngested.WithLabelValues(event.Type).Inc()
	h.Publish(event)
}

// BroadcastStats publishes a stats_update envelope
func (h *Hub) BroadcastStats(stats models.Stats) {
	h.Publish(models.StatsUpdate{Type: "stats_update", Data: stats})
}

// BroadcastLiveMessages publishes the full live set
func (h *Hub) BroadcastLiveMessages(events []models.ConversationEvent) {
	if events == nil {
		events = []models.ConversationEvent{}
	}
	h.Publish(models.LiveMessagesUpdate{Type: "live_messages_update", Data: events})
}

// BroadcastPending publishes a pending user message immediately, bypassing
// the ingestion queue
func (h *Hub) BroadcastPending(pending models.PendingMessage) {
	h.metrics.EventsIngested.WithLabelValues(models.EventTypeUserMessage).Inc()
	h.Publish(pending)
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request and registers the connection as a
// subscriber. The catch-up frames are queued before registration, so a new
// subscriber always sees the current live set and stats before any
// incremental message.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: h.logger,
	}

	live, stats := h.catchup()
	if live == nil {
		live = []models.ConversationEvent{}
	}
	client.queueMessage(models.LiveMessagesUpdate{Type: "live_messages_update", Data: live})
	client.queueMessage(models.StatsUpdate{Type: "stats_update", Data: stats})

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// queueMessage places a message on the client's own send buffer, ahead of
// any broadcast traffic
func (c *Client) queueMessage(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readPump drains the connection so close frames are processed; inbound
// payloads carry no meaning for this service and are discarded
func (c *Client) readPump() {
	defer func() {
		c.hub.release(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			return
		}
	}
}

// writePump pumps hub messages to the connection and emits a heartbeat frame
// on its own ticker, independent of the poll cadence, so idle connections are
// not reaped by intermediaries
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			heartbeat, err := json.Marshal(models.Heartbeat{Type: "heartbeat", Timestamp: time.Now().UTC()})
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		}
	}
}
