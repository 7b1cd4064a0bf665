package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/incidentwatch/incident"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// pushEnvelope wraps a broadcast incident list.
type pushEnvelope struct {
	Type      string           `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Incidents []incident.Group `json:"incidents"`
}

// Hub broadcasts each processing pass to connected WebSocket clients.
// Delivery is at-most-once: a client that cannot keep up is dropped and
// catches up on its next connect.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	gauge    prometheus.Gauge

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

func newHub(gauge prometheus.Gauge, logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from arbitrary hosts on the LAN.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		logger:  logger,
		gauge:   gauge,
		clients: make(map[*websocket.Conn]bool),
	}
}

// handleWebSocket upgrades the connection and tracks the client until it
// disconnects.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[conn] = true
	h.gauge.Set(float64(len(h.clients)))
	h.mu.Unlock()

	h.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	go h.readLoop(conn)
	go h.pingLoop(conn)
}

// readLoop consumes control frames so pongs and closes are processed. Any
// read error tears the client down.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.remove(conn)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps the connection alive; the read deadline catches dead peers.
func (h *Hub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !h.has(conn) {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.remove(conn)
			return
		}
	}
}

// Publish broadcasts the incident list to every connected client. Clients
// whose writes fail are dropped.
func (h *Hub) Publish(groups []incident.Group) {
	if groups == nil {
		groups = []incident.Group{}
	}
	data, err := json.Marshal(pushEnvelope{
		Type:      "incidents",
		Timestamp: time.Now().UnixMilli(),
		Incidents: groups,
	})
	if err != nil {
		h.logger.Error("broadcast marshal failed", "error", err)
		return
	}

	for _, conn := range h.snapshot() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Info("dropping websocket client", "error", err)
			h.remove(conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) has(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[conn]
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		h.gauge.Set(float64(len(h.clients)))
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// close disconnects every client and refuses new ones.
func (h *Hub) close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.gauge.Set(0)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}
