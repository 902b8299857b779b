package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleet-bridge/internal/auth"
	"github.com/nerrad567/fleet-bridge/internal/bridge"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
)

// WebSocket defaults applied when the config leaves a field unset.
const (
	defaultSendBuffer     = 256
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// Hub tracks bridge WebSocket clients. Each client owns one session.
type Hub struct {
	cfg        config.WebSocketConfig
	sessions   *bridge.Manager
	logger     *logging.Logger
	sendBuffer int
	clients    map[*WSClient]struct{}
	mu         sync.RWMutex
}

// WSClient is one connected browser and its bridge session.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	session *bridge.Session
	claims  *auth.CustomClaims // nil when auth is disabled
	logger  *logging.Logger
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub whose clients get sessions from sessions.
func NewHub(cfg config.WebSocketConfig, sessions *bridge.Manager, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		sessions:   sessions,
		logger:     logger,
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*WSClient]struct{}),
	}
}

// SetSendBuffer sets the per-client outbound buffer for clients attached later.
func (h *Hub) SetSendBuffer(n int) {
	if n > 0 {
		h.sendBuffer = n
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

// Unregister removes a client and closes its session.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !existed {
		return
	}
	close(client.send)
	if err := h.sessions.Close(client.session.ID()); err != nil {
		h.logger.Debug("closing session", "session_id", client.session.ID(), "error", err)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients so their pumps exit, then closes their sessions.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		//nolint:errcheck // session may already be gone
		h.sessions.Close(client.session.ID())
	}
}

func (h *Hub) pingInterval() time.Duration {
	if h.cfg.PingInterval <= 0 {
		return defaultPingInterval
	}
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongWait() time.Duration {
	if h.cfg.PongTimeout <= 0 {
		return defaultPongTimeout
	}
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

func (h *Hub) maxMessageSize() int64 {
	if h.cfg.MaxMessageSize <= 0 {
		return defaultMaxMessageSize
	}
	return int64(h.cfg.MaxMessageSize)
}

// handleBridgeSocket upgrades the request and attaches a new bridge session.
// When auth is enabled the token comes from the "token" query parameter or
// the Authorization header.
func (s *Server) handleBridgeSocket(w http.ResponseWriter, r *http.Request) {
	var claims *auth.CustomClaims
	if s.authEnabled() {
		token := r.URL.Query().Get("token")
		if token == "" {
			token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			writeUnauthorized(w, "token query parameter is required")
			return
		}
		parsed, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		if !parsed.Can(auth.PermBridgeConnect) {
			writeForbidden(w, "missing permission "+string(auth.PermBridgeConnect))
			return
		}
		claims = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, s.hub.sendBuffer),
		claims: claims,
	}
	client.session = s.sessions.Open(client.notify)
	client.logger = s.logger.With("session_id", client.session.ID())

	s.hub.Register(client)
	client.notify(bridge.SessionInfo{ID: client.session.ID()})

	go client.writePump()
	go client.readPump()
}

// readPump reads client frames and dispatches them to the session.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pingInterval := c.hub.pingInterval()
	pongWait := c.hub.pongWait()

	c.conn.SetReadLimit(c.hub.maxMessageSize())
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client frame keeps the connection alive, even if the browser
		// ignores protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued notifications and keepalive pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := c.hub.pongWait()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
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

// handleMessage decodes one client frame and hands it to the session.
func (c *WSClient) handleMessage(data []byte) {
	cmd, err := bridge.DecodeCommand(data)
	if err != nil {
		c.notify(bridge.CommandError{Message: err.Error()})
		return
	}

	switch cmd.(type) {
	case bridge.PublishCommand, bridge.ServiceCallCommand:
		if !c.claims.Can(auth.PermBridgePublish) {
			c.notify(bridge.CommandError{Message: "forbidden: missing permission " + string(auth.PermBridgePublish)})
			return
		}
	}

	c.session.Dispatch(cmd)
}

// notify encodes n and queues it for the client. It never blocks: when the
// client's buffer is full the notification is dropped.
func (c *WSClient) notify(n bridge.Notification) {
	data, err := bridge.EncodeNotification(n)
	if err != nil {
		c.hub.logger.Error("failed to encode notification", "type", bridge.NotificationType(n), "error", err)
		return
	}
	if !c.trySend(data) {
		c.hub.logger.Warn("client send buffer full, dropping notification",
			"type", bridge.NotificationType(n),
		)
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected) and reports
// false for full buffers (slow client).
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = true
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
