package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/kiranamart/mandi/pkg/models"
)

// writeTimeout bounds one WebSocket send. A client that cannot drain a frame
// within this window is treated as dead.
const writeTimeout = 5 * time.Second

// heartbeatInterval is how often the server pings an open socket.
const heartbeatInterval = 25 * time.Second

// idleTimeout closes sockets with no inbound frames. Server pings keep the
// transport alive but do not count as client activity.
const idleTimeout = 5 * time.Minute

// ConnectionManager owns the WebSocket connections relaying bus events to
// clients. Each connection is bound to exactly one session — the session id
// in the upgrade path — and holds one bus subscription for its lifetime.
type ConnectionManager struct {
	bus *Bus

	mu          sync.RWMutex
	connections map[string]*Connection

	logger *slog.Logger
}

// Connection represents a single WebSocket client.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnectionManager creates a manager relaying events from the bus.
func NewConnectionManager(bus *Bus) *ConnectionManager {
	return &ConnectionManager{
		bus:         bus,
		connections: make(map[string]*Connection),
		logger:      slog.Default().With("component", "events.ConnectionManager"),
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sessionID string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	c := &Connection{
		ID:        connID,
		SessionID: sessionID,
		Conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	sub := m.bus.Subscribe(sessionID)
	defer m.bus.Unsubscribe(sub)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
		"session_id":    sessionID,
	})

	// Writer: relay bus events and keep the heartbeat going. Any send or
	// ping failure cancels ctx, which also unblocks the read loop below.
	go m.writeLoop(c, sub)

	// Read loop — consumes client frames until the connection closes or goes
	// idle. The only recognised client message is the opaque "ping" string.
	for {
		readCtx, readCancel := context.WithTimeout(ctx, idleTimeout)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			if ctx.Err() == nil && readCtx.Err() == context.DeadlineExceeded {
				m.logger.Info("Closing idle WebSocket connection",
					"connection_id", connID, "session_id", sessionID)
				_ = conn.Close(websocket.StatusGoingAway, "idle timeout")
			}
			return
		}
		if string(data) == "ping" {
			m.sendRaw(c, []byte("pong"))
		}
	}
}

// writeLoop forwards subscribed events and pings on the heartbeat interval.
func (m *ConnectionManager) writeLoop(c *Connection, sub *Subscription) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				c.cancel()
				return
			}
			if err := m.sendEvent(c, ev); err != nil {
				m.logger.Warn("Failed to send to WebSocket client",
					"connection_id", c.ID, "error", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.Conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				m.logger.Info("WebSocket heartbeat failed, closing",
					"connection_id", c.ID, "error", err)
				c.cancel()
				return
			}
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll terminates every open connection. Used on shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.cancel()
		_ = c.Conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
	m.logger.Info("WebSocket connection established",
		"connection_id", c.ID, "session_id", c.SessionID)
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, c.ID)
	m.logger.Info("WebSocket connection closed",
		"connection_id", c.ID, "session_id", c.SessionID)
}

// sendEvent writes one bus event as a JSON frame.
func (m *ConnectionManager) sendEvent(c *Connection, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// sendJSON marshals and sends a control payload, logging on failure.
func (m *ConnectionManager) sendJSON(c *Connection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("Failed to marshal WebSocket payload", "error", err)
		return
	}
	m.sendRaw(c, data)
}

// sendRaw sends one text frame, logging on failure.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) {
	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.Conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		m.logger.Warn("Failed to send to WebSocket client",
			"connection_id", c.ID, "error", err)
	}
}
