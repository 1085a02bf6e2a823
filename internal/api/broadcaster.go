package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"crypto_dashboard/internal/infra"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Message is the websocket push format.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsClient serializes writes to one connection.
type wsClient struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Broadcaster pushes cycle results to connected websocket clients.
type Broadcaster struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]*wsClient
	upgrader websocket.Upgrader
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster. metrics may be nil.
func NewBroadcaster(metrics *infra.Metrics) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*websocket.Conn]*wsClient),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		metrics:  metrics,
		logger:   slog.Default().With("module", "broadcaster"),
	}
}

// Publish sends {type, data} to every client. Clients that fail a write are dropped.
func (b *Broadcaster) Publish(kind string, data any) {
	msg, err := json.Marshal(Message{Type: kind, Data: data})
	if err != nil {
		b.logger.Error("Failed to marshal broadcast", slog.String("type", kind), slog.Any("error", err))
		return
	}

	b.mu.Lock()
	targets := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	var failed []*websocket.Conn
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			b.logger.Warn("Websocket write failed", slog.Any("error", err))
			failed = append(failed, c.conn)
		}
	}
	if len(failed) == 0 {
		return
	}

	b.mu.Lock()
	for _, conn := range failed {
		b.removeLocked(conn)
	}
	b.mu.Unlock()
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		b.removeLocked(conn)
	}
}

func (b *Broadcaster) removeLocked(c *websocket.Conn) {
	if _, ok := b.clients[c]; !ok {
		return
	}
	delete(b.clients, c)
	c.Close()
	if b.metrics != nil {
		b.metrics.DecrementConnections()
	}
}

// Handler accepts websocket connections.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn("Websocket upgrade failed", slog.Any("error", err))
			return
		}

		b.mu.Lock()
		b.clients[conn] = &wsClient{conn: conn}
		if b.metrics != nil {
			b.metrics.IncrementConnections()
		}
		b.mu.Unlock()

		// read loop only detects disconnects; clients never send data
		go func() {
			defer func() {
				b.mu.Lock()
				b.removeLocked(conn)
				b.mu.Unlock()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
