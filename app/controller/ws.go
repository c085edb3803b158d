package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/ingest"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "job.event", "ping", "error"
	Payload interface{} `json:"payload"` // Event-specific data
}

// HandleWebSocket upgrades the HTTP connection and streams ingestion job
// lifecycle events. Requires Redis; without it the endpoint reports 503.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan ServerMessage, 256)
	var producers, writers sync.WaitGroup

	producers.Add(1)
	go func() {
		defer producers.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "job event forwarder")
		c.forwardJobEvents(ctx, send)
	}()

	producers.Add(1)
	go func() {
		defer producers.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "ping ticker")
		c.sendPings(ctx, send)
	}()

	writers.Add(1)
	go func() {
		defer writers.Done()
		defer c.recoverWS(cancel, r.RemoteAddr, "message writer")
		c.writeMessages(conn, send)
	}()

	// Block on the read loop: clients send nothing meaningful, but reading
	// is how the close handshake is detected.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	shutdownStream(cancel, &producers, send, &writers)

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// shutdownStream tears the stream down in order: stop the producers, wait
// for them to drain, then close the outgoing channel and wait for the
// writer. A producer mid-send can never hit a closed channel.
func shutdownStream(cancel context.CancelFunc, producers *sync.WaitGroup, send chan ServerMessage, writers *sync.WaitGroup) {
	cancel()
	producers.Wait()
	close(send)
	writers.Wait()
}

// forwardJobEvents relays ingestion lifecycle events from Redis to the client.
func (c *Controller) forwardJobEvents(ctx context.Context, send chan<- ServerMessage) {
	pubsub := c.App.RedisClient.Subscribe(ctx, ingest.EventsChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event ingest.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.App.Logger.Warn("Dropping malformed job event", zap.Error(err))
				continue
			}

			select {
			case send <- ServerMessage{Type: "job.event", Payload: event}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendPings keeps the connection alive through idle proxies.
func (c *Controller) sendPings(ctx context.Context, send chan<- ServerMessage) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case send <- ServerMessage{Type: "ping", Payload: map[string]interface{}{"timestamp": time.Now().UnixMilli()}}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writeMessages is the single writer for the connection. Gorilla connections
// do not support concurrent writes, so everything funnels through here.
func (c *Controller) writeMessages(conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Controller) recoverWS(cancel context.CancelFunc, remoteAddr, goroutine string) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in WebSocket goroutine",
			zap.Any("panic", rec),
			zap.String("goroutine", goroutine),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", remoteAddr))
		cancel()
	}
}
