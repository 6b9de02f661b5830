package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatstream/internal/metrics"
	"chatstream/pkg/logging"
	"chatstream/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		EventsIngested:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_events_ingested"}, []string{"event_type"}),
		EventsAdmitted:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_events_admitted"}, []string{"event_type"}),
		LiveEvents:        prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_live_events"}, []string{"type"}),
		TickDuration:      prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_tick_duration"}, []string{"stage"}),
		HubConnections:    prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_hub_connections"}, []string{"channel"}),
		HubMessages:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_hub_messages"}, []string{"channel", "direction"}),
		BroadcastFailures: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_broadcast_failures"}, []string{"channel"}),
	}
}

func newTestHub(catchup CatchupFunc) *Hub {
	if catchup == nil {
		catchup = func() ([]models.ConversationEvent, models.Stats) {
			return nil, models.Stats{}
		}
	}
	return NewHub(catchup, time.Minute, logging.NewLogger(), testMetrics())
}

func dialTestHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return hub.ClientCount() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewSubscriberCatchup(t *testing.T) {
	live := []models.ConversationEvent{
		{ID: "a", Type: models.EventTypeNewMessage, UserMessage: "hi"},
		{ID: "b", Type: models.EventTypeNewMessage, UserMessage: "there"},
	}
	stats := models.Stats{TotalConversations: 2, MessagesPerMinute: 2}

	hub := newTestHub(func() ([]models.ConversationEvent, models.Stats) {
		return live, stats
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	// First frame: the full live set, before any incremental message
	frame := readFrame(t, conn)
	require.Equal(t, "live_messages_update", frame["type"])
	data, ok := frame["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, data, 2)
	first := data[0].(map[string]interface{})
	assert.Equal(t, "a", first["id"])

	// Second frame: current stats
	frame = readFrame(t, conn)
	require.Equal(t, "stats_update", frame["type"])
	statsData := frame["data"].(map[string]interface{})
	assert.Equal(t, float64(2), statsData["total_conversations"])
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := newTestHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	connA, cleanupA := dialTestHub(t, hub)
	defer cleanupA()
	connB, cleanupB := dialTestHub(t, hub)
	defer cleanupB()
	waitForClients(t, hub, 2)

	// Drain the catch-up frames
	for _, conn := range []*websocket.Conn{connA, connB} {
		readFrame(t, conn)
		readFrame(t, conn)
	}

	hub.BroadcastEvent(models.ConversationEvent{ID: "x", Type: models.EventTypeNewMessage})

	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := readFrame(t, conn)
		assert.Equal(t, "new_message", frame["type"])
		assert.Equal(t, "x", frame["id"])
	}
}

func TestBroadcastIsolatesFailedSubscriber(t *testing.T) {
	hub := newTestHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	healthy := &Client{hub: hub, send: make(chan []byte, 8), logger: hub.logger}
	alsoHealthy := &Client{hub: hub, send: make(chan []byte, 8), logger: hub.logger}
	// No buffer and no reader: every send to this subscriber fails
	broken := &Client{hub: hub, send: make(chan []byte), logger: hub.logger}

	hub.register <- healthy
	hub.register <- alsoHealthy
	hub.register <- broken
	waitForClients(t, hub, 3)

	hub.BroadcastStats(models.Stats{TotalConversations: 1})

	// The broken subscriber is removed; the others still got the message
	waitForClients(t, hub, 2)
	assert.Len(t, healthy.send, 1)
	assert.Len(t, alsoHealthy.send, 1)

	// A subsequent publish no longer attempts delivery to the removed client
	hub.BroadcastStats(models.Stats{TotalConversations: 2})
	assert.Eventually(t, func() bool {
		return len(healthy.send) == 2 && len(alsoHealthy.send) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.ClientCount())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := newTestHub(nil)

	client := &Client{hub: hub, send: make(chan []byte, 1), logger: hub.logger}
	hub.clients[client] = true

	hub.removeClient(client)
	assert.Equal(t, 0, hub.ClientCount())

	// Removing again is a no-op, not a double close
	hub.removeClient(client)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHeartbeatFrames(t *testing.T) {
	hub := NewHub(func() ([]models.ConversationEvent, models.Stats) {
		return nil, models.Stats{}
	}, 50*time.Millisecond, logging.NewLogger(), testMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	// Catch-up frames first
	readFrame(t, conn)
	readFrame(t, conn)

	frame := readFrame(t, conn)
	assert.Equal(t, "heartbeat", frame["type"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestReleaseAfterShutdownDoesNotBlock(t *testing.T) {
	hub := newTestHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// A readPump unwinding after the hub loop has exited must not hang on
	// the unregister handoff
	client := &Client{hub: hub, send: make(chan []byte, 1), logger: hub.logger}
	released := make(chan struct{})
	go func() {
		hub.release(client)
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("release blocked after hub shutdown")
	}
}

func TestRunClosesClientsOnCancel(t *testing.T) {
	hub := newTestHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)

	cancel()
	assert.Eventually(t, func() bool {
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		return err != nil && !strings.Contains(err.Error(), "timeout")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())
}
