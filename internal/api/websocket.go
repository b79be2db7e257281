package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/railhub/internal/infrastructure/config"
	"github.com/nerrad567/railhub/internal/infrastructure/logging"
	"github.com/nerrad567/railhub/internal/state"
)

// WebSocket message types.
const (
	WSTypeState    = "state"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeResponse = "response"
	WSTypeError    = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to or from a WebSocket client.
type WSMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks connected WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected state socket. It is registered as a store
// listener for the lifetime of the connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// onMessage handles inbound messages.
	onMessage func(c *WSClient, data []byte)

	mu     sync.Mutex // Guards send against close
	closed bool

	// resync is set when a change was dropped; the next notification then
	// carries the full snapshot.
	resync  atomic.Bool
	dropped atomic.Uint64
}

// Compile-time check that WSClient is a store listener.
var _ state.Listener = (*WSClient)(nil)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.close()
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients so their pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleStateSocket upgrades the connection and streams state.
func (s *Server) handleStateSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		onMessage: s.handleClientMessage,
	}

	s.hub.Register(client)
	go client.writePump(s.wsCfg)

	// Replays the current snapshot into the send buffer.
	s.store.AddListener(client)

	go func() {
		client.readPump(s.wsCfg)
		// No notification can reach the client once RemoveListener returns.
		s.store.RemoveListener(client)
		s.hub.Unregister(client)
	}()
}

// StateChanged implements state.Listener. It never blocks: when the
// client's buffer is full the change is dropped and the next message
// carries a full snapshot.
func (c *WSClient) StateChanged(snap state.Snapshot, topic string) {
	full := topic == "" || c.resync.Load()
	var payload any = snap
	if !full {
		rec, ok := snap[topic]
		if !ok {
			return
		}
		payload = map[string]state.Record{topic: rec}
	}

	data, err := marshalMessage(WSTypeState, "", payload)
	if err != nil {
		c.hub.logger.Error("failed to marshal state message", "error", err)
		return
	}
	if !c.trySend(data) {
		c.resync.Store(true)
		n := c.dropped.Add(1)
		c.hub.logger.Warn("websocket client too slow, dropped state update",
			"topic", topic,
			"dropped", n)
		return
	}
	if full {
		c.resync.Store(false)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer c.conn.Close()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		if c.onMessage != nil {
			c.onMessage(c, message)
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage processes one inbound message.
func (s *Server) handleClientMessage(c *WSClient, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", ErrCodeBadRequest, "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	case ControlSetPoints, ControlSetPowerSwitch, ControlSetReverser, ControlSetSpeed, ControlToggleFunction:
		ctl, err := s.executeControl(msg.Type, msg.Payload)
		if err != nil {
			s.logger.Warn("control message rejected", "type", msg.Type, "error", err)
			c.sendError(msg.ID, controlErrorCode(err), err.Error())
			return
		}
		c.sendResponse(msg.ID, WSTypeResponse, map[string]string{"command_topic": ctl.Topic})
	default:
		c.sendError(msg.ID, ErrCodeBadRequest, "unknown message type: "+msg.Type)
	}
}

// trySend queues data without blocking. It reports false when the
// client is closed or its buffer is full.
func (c *WSClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the send channel once.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := marshalMessage(msgType, id, payload)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client. code is one of the
// ErrCode constants.
func (c *WSClient) sendError(id, code, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"code": code, "message": message})
}

func marshalMessage(msgType, id string, payload any) ([]byte, error) {
	msg := WSMessage{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}
