// Package streaming delivers selector events to WebSocket clients and Redis Streams.
package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType represents the type of streaming event.
type EventType string

const (
	EventTypeValidationFailed EventType = betting.EventValidationFailed
	EventTypeSelection        EventType = "betting:selection"
	EventTypeSettlement       EventType = "betting:settlement"
	EventTypeError            EventType = "error"
	EventTypeHeartbeat        EventType = "heartbeat"
)

// DefaultEventTypes are the event types a new client is subscribed to.
var DefaultEventTypes = []EventType{
	EventTypeValidationFailed,
	EventTypeSelection,
	EventTypeSettlement,
	EventTypeError,
	EventTypeHeartbeat,
}

// Event is a streaming event sent to clients.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub manages WebSocket connections and broadcasts events.
// It implements betting.EventEmitter.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// done is closed when Run returns; register and unregister stop blocking.
	done     chan struct{}
	doneOnce sync.Once

	upgrader          websocket.Upgrader
	log               *zap.Logger
	heartbeatInterval time.Duration
	onClientCount     func(int)
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Subscription filters
	subscriptions map[EventType]bool
	subMu         sync.RWMutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(log *zap.Logger) HubOption {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeatInterval = d
		}
	}
}

// WithClientCountHook is called with the client count after every change.
func WithClientCountHook(fn func(int)) HubOption {
	return func(h *Hub) {
		h.onClientCount = fn
	}
}

// NewHub creates a new streaming hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced by the router
			},
		},
		log:               zap.NewNop(),
		heartbeatInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's event loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("stream client connected", zap.Int("clients", count))
			h.clientCountChanged(count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("stream client disconnected", zap.Int("clients", count))
			h.clientCountChanged(count)

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-heartbeat.C:
			h.Broadcast(Event{
				Type: EventTypeHeartbeat,
				Data: map[string]interface{}{"clients": h.ClientCount()},
			})
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) clientCountChanged(count int) {
	if h.onClientCount != nil {
		h.onClientCount(count)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.clientCountChanged(0)
}

func (h *Hub) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to marshal stream event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		// Check if client is subscribed to this event type
		if !client.isSubscribed(event.Type) {
			continue
		}

		select {
		case client.send <- data:
		default:
			// Client buffer full, close connection
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Broadcast sends an event to all connected clients. It never blocks.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("stream broadcast channel full, dropping event", zap.String("type", string(event.Type)))
	}
}

// Emit broadcasts a selector event.
func (h *Hub) Emit(name string, payload any) {
	h.Broadcast(Event{
		Type: EventType(name),
		Data: payload,
	})
}

// BroadcastSelection broadcasts the result of a selection run.
func (h *Hub) BroadcastSelection(selection interface{}) {
	h.Broadcast(Event{
		Type: EventTypeSelection,
		Data: selection,
	})
}

// BroadcastSettlement broadcasts updated model stats.
func (h *Hub) BroadcastSettlement(stats interface{}) {
	h.Broadcast(Event{
		Type: EventTypeSettlement,
		Data: stats,
	})
}

// BroadcastError broadcasts an error event.
func (h *Hub) BroadcastError(err error, context string) {
	h.Broadcast(Event{
		Type: EventTypeError,
		Data: map[string]interface{}{
			"error":   err.Error(),
			"context": context,
		},
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles WebSocket upgrade requests.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
	}

	// Subscribe to all events by default
	for _, t := range DefaultEventTypes {
		client.subscriptions[t] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub stopped"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// isSubscribed checks if client is subscribed to an event type.
func (c *Client) isSubscribed(eventType EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[eventType]
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes subscribe/unsubscribe messages.
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type   string   `json:"type"`
		Events []string `json:"events"`
	}

	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subMu.Lock()
		for _, event := range msg.Events {
			c.subscriptions[EventType(event)] = true
		}
		c.subMu.Unlock()

	case "unsubscribe":
		c.subMu.Lock()
		for _, event := range msg.Events {
			delete(c.subscriptions, EventType(event))
		}
		c.subMu.Unlock()
	}
}

// writePump writes messages to the WebSocket connection, one event per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
