package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/podplayr/media-engine/internal/media"
)

// WebSocket upgrader with permissive origin checks for browser clients.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Play event types delivered over /ws/events.
const (
	eventPlayStarted = "play_started" // fires immediately on session start
	eventPlayCounted = "play_counted" // fires once per session at the threshold
)

// PlayEvent is a real-time play notification message.
type PlayEvent struct {
	Type      string      `json:"type"`
	MediaKey  string      `json:"media_key"`
	Track     media.Track `json:"track"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsClient represents a connected WebSocket client.
type wsClient struct {
	conn   *websocket.Conn
	send   chan PlayEvent
	server *Server
	logger *slog.Logger
}

// handleWebSocket upgrades the connection and streams play events to
// the client until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan PlayEvent, 64),
		server: s,
		logger: s.logger,
	}

	s.logger.Info("WebSocket client connected", "remote_addr", r.RemoteAddr)

	s.registerWSClient(client)

	go client.writePump()
	go client.readPump()
}

// registerWSClient adds a client to the broadcast set.
func (s *Server) registerWSClient(client *wsClient) {
	s.wsMutex.Lock()
	s.wsClients[client] = true
	s.wsMutex.Unlock()
}

// unregisterWSClient removes a client from the broadcast set.
func (s *Server) unregisterWSClient(client *wsClient) {
	s.wsMutex.Lock()
	delete(s.wsClients, client)
	s.wsMutex.Unlock()
}

// broadcastPlayEvent sends a play event to all connected WebSocket
// clients. Slow clients are skipped rather than blocking the tracker.
func (s *Server) broadcastPlayEvent(event PlayEvent) {
	event.Timestamp = time.Now()

	s.wsMutex.RLock()
	clients := make([]*wsClient, 0, len(s.wsClients))
	for client := range s.wsClients {
		clients = append(clients, client)
	}
	s.wsMutex.RUnlock()

	s.logger.Debug("Broadcasting play event",
		"type", event.Type,
		"media_key", event.MediaKey,
		"client_count", len(clients))

	for _, client := range clients {
		select {
		case client.send <- event:
		default:
			client.logger.Warn("Dropping play event - client channel full", "media_key", event.MediaKey)
		}
	}
}

// writePump handles sending messages to the WebSocket client.
// Runs in a goroutine and manages connection cleanup on error.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.server.unregisterWSClient(c)
		c.logger.Debug("WebSocket write pump stopped")
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Error("WebSocket write error", "error", err)
				return
			}

		case <-ticker.C:
			// Keep-alive ping
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("WebSocket ping error", "error", err)
				return
			}
		}
	}
}

// readPump drains client messages and maintains connection health. The
// events socket is one-directional; inbound text is ignored.
func (c *wsClient) readPump() {
	defer func() {
		c.conn.Close()
		close(c.send)
		c.logger.Debug("WebSocket read pump stopped")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}
