// Package websocket streams lifecycle events to connected control clients.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// subscriberBuffer is how many events a slow client may lag behind
	// before it starts missing them
	subscriberBuffer = 64
)

// Message types sent to clients
const (
	TypeReady = "ready"
	TypeEvent = "event"
)

// ServerMessage represents a message sent from server to client
type ServerMessage struct {
	Type     string        `json:"type"`
	ClientID string        `json:"client_id,omitempty"`
	Event    *events.Event `json:"event,omitempty"`
}

// ClientMessage represents a message received from client. Sending a list of
// networks restricts the stream to events for those networks; an empty list
// clears the filter. Config events are always delivered.
type ClientMessage struct {
	Networks []string `json:"networks"`
}

// clientConnection represents a connected WebSocket client
type clientConnection struct {
	id   string
	conn *websocket.Conn

	filterMu sync.RWMutex
	networks map[string]bool

	closeOnce sync.Once
	done      chan struct{}
}

func (c *clientConnection) setFilter(networks []string) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if len(networks) == 0 {
		c.networks = nil
		return
	}
	c.networks = make(map[string]bool, len(networks))
	for _, n := range networks {
		c.networks[n] = true
	}
}

func (c *clientConnection) wants(e events.Event) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if c.networks == nil || e.Network == "" {
		return true
	}
	return c.networks[e.Network]
}

func (c *clientConnection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Subscriber is the event source a Manager streams from
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Manager streams lifecycle events to WebSocket clients
type Manager struct {
	hub      Subscriber
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*clientConnection // client id -> connection
}

// NewManager creates a new WebSocket manager. allowedOrigins limits which
// browser origins may connect; empty or "*" allows any.
func NewManager(hub Subscriber, allowedOrigins []string, logger *zap.Logger) *Manager {
	return &Manager{
		hub:    hub,
		logger: logger.Named("websocket-manager"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		clients: make(map[string]*clientConnection),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// HandleConnection handles a new WebSocket connection
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &clientConnection{
		id:   uuid.New().String(),
		conn: conn,
		done: make(chan struct{}),
	}

	m.clientsMu.Lock()
	m.clients[client.id] = client
	m.clientsMu.Unlock()

	m.logger.Info("WebSocket client connected", zap.String("client_id", client.id))

	stream, cancel := m.hub.Subscribe(subscriberBuffer)
	go m.writeLoop(client, stream, cancel)
	go m.readLoop(client)
}

// writeLoop owns all writes to the connection.
func (m *Manager) writeLoop(client *clientConnection, stream <-chan events.Event, cancel func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		client.close()
		m.remove(client)
	}()

	if err := m.write(client, ServerMessage{Type: TypeReady, ClientID: client.id}); err != nil {
		return
	}

	for {
		select {
		case <-client.done:
			return

		case e, ok := <-stream:
			if !ok {
				return
			}
			if !client.wants(e) {
				continue
			}
			if err := m.write(client, ServerMessage{Type: TypeEvent, Event: &e}); err != nil {
				m.logger.Debug("Failed to send event", zap.String("client_id", client.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) write(client *clientConnection, msg ServerMessage) error {
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteJSON(msg)
}

// readLoop handles filter updates and notices disconnects.
func (m *Manager) readLoop(client *clientConnection) {
	defer client.close()

	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				m.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			m.logger.Debug("Failed to parse message", zap.String("client_id", client.id), zap.Error(err))
			continue
		}
		client.setFilter(msg.Networks)
		m.logger.Debug("Client filter updated",
			zap.String("client_id", client.id),
			zap.Strings("networks", msg.Networks),
		)
	}
}

func (m *Manager) remove(client *clientConnection) {
	m.clientsMu.Lock()
	if existing, ok := m.clients[client.id]; ok && existing == client {
		delete(m.clients, client.id)
	}
	m.clientsMu.Unlock()
	m.logger.Info("WebSocket client disconnected", zap.String("client_id", client.id))
}

// Connected returns the number of connected clients
func (m *Manager) Connected() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Close closes all connections
func (m *Manager) Close() {
	m.clientsMu.Lock()
	clients := make([]*clientConnection, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMu.Unlock()

	for _, client := range clients {
		client.close()
	}
}
