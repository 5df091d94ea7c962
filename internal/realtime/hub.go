// Package realtime bridges the in-process event bus to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/alertmonitor/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// client is one connected WebSocket subscriber
type client struct {
	send chan []byte
}

// Hub fans bus events out to every connected WebSocket client.
// Alert batches are forwarded as-is; other events are wrapped in a {type, module, timestamp, data} envelope.
// A client whose buffer is full misses the message instead of slowing the emitter.
type Hub struct {
	bus     *events.Bus
	log     zerolog.Logger
	clients map[*client]struct{}
	unsub   func()
	dropped atomic.Int64
	mu      sync.RWMutex
}

// NewHub creates a hub and subscribes it to every event on the bus
func NewHub(bus *events.Bus, log zerolog.Logger) *Hub {
	h := &Hub{
		bus:     bus,
		log:     log.With().Str("component", "realtime_hub").Logger(),
		clients: make(map[*client]struct{}),
	}
	h.unsub = bus.SubscribeAll(h.handleEvent)
	return h
}

func (h *Hub) handleEvent(e events.Event) {
	var (
		msg []byte
		err error
	)
	if e.Type == events.PortfolioAlerts {
		msg, err = json.Marshal(e.Payload)
	} else {
		msg, err = json.Marshal(map[string]interface{}{
			"type":      string(e.Type),
			"module":    e.Module,
			"timestamp": e.Timestamp.Format(time.RFC3339),
			"data":      e.Payload,
		})
	}
	if err != nil {
		h.log.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to encode event")
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
			h.log.Warn().Msg("Client buffer full, dropping message")
		}
	}
}

// ServeHTTP handles GET /ws
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin checks are left to the reverse proxy
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	c := &client{send: make(chan []byte, clientBuffer)}
	h.register(c)
	defer h.unregister(c)

	// Clients never send anything meaningful; CloseRead handles control frames
	// and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Client connected to alert stream")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected from alert stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case msg := <-c.send:
			if err := h.write(ctx, conn, msg); err != nil {
				h.log.Debug().Err(err).Msg("Write to client failed")
				return
			}

		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Ping to client failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, msg)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were dropped for slow clients
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close unsubscribes the hub from the bus. Connected clients are closed by the HTTP server shutdown.
func (h *Hub) Close() {
	if h.unsub != nil {
		h.unsub()
	}
}
