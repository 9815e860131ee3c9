package inspect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is the envelope of every event streamed to WebSocket clients.
type Message struct {
	Type      pilet.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      any             `json:"data"`
}

// Client is a connected WebSocket client.
type Client struct {
	id      string
	subject string // token subject, empty when auth is off
	conn    *websocket.Conn
	send    chan Message
	logger  *zap.Logger
}

// Hub fans emitter events out to connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected",
		zap.String("client_id", c.id),
		zap.String("subject", c.subject))
}

// Unregister removes c and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", zap.String("client_id", c.id))
}

// Broadcast queues msg for every client. Clients with a full buffer miss
// the message.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("client_id", c.id),
				zap.String("type", string(msg.Type)))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Listen forwards every event of src to the hub and returns the
// unsubscribe function.
func (h *Hub) Listen(src EventSource) (unsubscribe func()) {
	return src.SubscribeAll(func(ev pilet.Event) {
		h.Broadcast(Message{Type: ev.Type, Timestamp: ev.Timestamp, Data: ev.Payload})
	})
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan Message, 256),
		logger: h.logger,
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		client.subject = claims.Subject
		client.logger = h.logger.With(zap.String("subject", claims.Subject))
	}
	h.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		cancel()
		close(done)
	}()

	client.readPump(ctx)

	h.Unregister(client)
	cancel()
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump drains client frames until the connection drops.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
