package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stakewatch/stakewatch/internal/logging"
)

// Event channels pushed over /ws.
const (
	ChannelRefresh = "refresh" // snapshot refreshed
	ChannelTx      = "tx"      // meta-tx lifecycle state changes
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is the wire format in both directions
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WebSocketClient is one connected dashboard client
type WebSocketClient struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

// WebSocketHub fans events out to connected clients.
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan *WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	mu         sync.RWMutex
}

// NewWebSocketHub creates an idle hub; Run starts it.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan *WebSocketMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
	}
}

// Run processes registration and broadcast until the context ends.
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("dashboard client connected",
				"total_clients", total,
				logging.Component("websocket"))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("dashboard client disconnected",
				"total_clients", total,
				logging.Component("websocket"))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *WebSocketHub) deliver(msg *WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	var stalled []*WebSocketClient

	h.mu.RLock()
	for client := range h.clients {
		if msg.Channel != "" && !client.isSubscribed(msg.Channel) {
			continue
		}
		select {
		case client.send <- data:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	// A client whose buffer is full is not draining; drop it.
	if len(stalled) > 0 {
		h.mu.Lock()
		for _, client := range stalled {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast queues an event for all clients subscribed to the channel.
func (h *WebSocketHub) Broadcast(channel, eventType string, data interface{}) {
	msg := &WebSocketMessage{Type: eventType, Channel: channel, Data: data}
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn("WebSocket broadcast buffer full",
			"channel", channel,
			logging.Component("websocket"))
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newWebSocketClient(hub *WebSocketHub, conn *websocket.Conn) *WebSocketClient {
	return &WebSocketClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		// New clients receive both channels until they say otherwise
		subscribed: map[string]bool{ChannelRefresh: true, ChannelTx: true},
	}
}

func (c *WebSocketClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed[channel]
}

// readPump consumes client messages until the connection closes
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("WebSocket read error", logging.Err(err), logging.Component("websocket"))
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handleMessage(&msg)
	}
}

// writePump delivers hub messages and keeps the connection alive
func (c *WebSocketClient) writePump() {
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

func (c *WebSocketClient) handleMessage(msg *WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		c.setSubscriptions(msg, true)
	case "unsubscribe":
		c.setSubscriptions(msg, false)
	case "ping":
		c.sendMessage(&WebSocketMessage{Type: "pong"})
	}
}

func (c *WebSocketClient) setSubscriptions(msg *WebSocketMessage, on bool) {
	var req struct {
		Channels []string `json:"channels"`
	}
	if data, err := json.Marshal(msg.Data); err == nil {
		json.Unmarshal(data, &req)
	}

	c.mu.Lock()
	for _, channel := range req.Channels {
		if on {
			c.subscribed[channel] = true
		} else {
			delete(c.subscribed, channel)
		}
	}
	channels := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	reply := "subscribed"
	if !on {
		reply = "unsubscribed"
	}
	c.sendMessage(&WebSocketMessage{
		Type: reply,
		Data: map[string]interface{}{"channels": channels},
	})
}

func (c *WebSocketClient) sendMessage(msg *WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleWebSocket upgrades the connection and starts the pumps
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", logging.Err(err), logging.Component("websocket"))
		return
	}

	client := newWebSocketClient(s.wsHub, conn)
	s.wsHub.register <- client

	go client.writePump()
	go client.readPump()
}
