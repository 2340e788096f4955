package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection limits. Pings go out a little more often than the pong
// deadline so an idle display is not dropped.
const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	maxMessageSize   = 4096
	maxSubscriptions = 8
	sendBuffer       = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Scoreboard displays are served from other origins
		return true
	},
}

// Client is one scoreboard display or scorekeeper tablet following games
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// games is owned by the read pump
	games map[string]struct{}
}

// ClientMessage is a request from a connected client
type ClientMessage struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
		games:  make(map[string]struct{}),
	}
}

// readPump reads client requests until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read failed", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage dispatches one client request
func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.follow(msg.GameID)

	case MessageTypeUnsubscribe:
		if _, ok := c.games[msg.GameID]; !ok {
			c.sendError(fmt.Sprintf("not subscribed to %q", msg.GameID))
			return
		}
		delete(c.games, msg.GameID)
		c.hub.Unsubscribe(c, msg.GameID)
		c.sendAck("unsubscribed", msg.GameID)

	case MessageTypeScoreboard:
		// Resync on demand, e.g. after a display wakes up
		if msg.GameID == "" {
			c.sendError("game_id required for scoreboard")
			return
		}
		m, ok := c.hub.scoreboardMessage(msg.GameID)
		if !ok {
			c.sendError(fmt.Sprintf("game %q is not live", msg.GameID))
			return
		}
		c.sendMessage(m)

	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now()})

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
		c.sendError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// follow subscribes the client to gameID, acknowledging before the hub sends
// the current scoreboard
func (c *Client) follow(gameID string) {
	switch {
	case gameID == "":
		c.sendError("game_id required for subscribe")
		return
	case len(c.games) >= maxSubscriptions:
		c.sendError(fmt.Sprintf("at most %d games per connection", maxSubscriptions))
		return
	}
	if _, ok := c.games[gameID]; ok {
		c.sendAck("subscribed", gameID)
		return
	}
	c.games[gameID] = struct{}{}
	c.sendAck("subscribed", gameID)
	c.hub.Subscribe(c, gameID)
}

// writePump writes queued messages and keepalive pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeBatch(data); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBatch writes first plus whatever is already queued as one frame of
// newline separated JSON messages
func (c *Client) writeBatch(first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for n := len(c.send); n > 0; n-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.send)
	}
	return w.Close()
}

// sendMessage queues msg for this client, dropping it if the buffer is full
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, dropping message", "type", msg.Type)
	}
}

func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		Data:      map[string]string{"error": errMsg},
		Timestamp: time.Now(),
	})
}

func (c *Client) sendAck(action, gameID string) {
	c.sendMessage(&Message{
		Type:      action,
		GameID:    gameID,
		Data:      map[string]string{"status": "ok"},
		Timestamp: time.Now(),
	})
}

// ServeWs upgrades the request and starts the client pumps. Games listed in
// ?game_id=a,b are followed immediately.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	for _, gameID := range strings.Split(r.URL.Query().Get("game_id"), ",") {
		if gameID = strings.TrimSpace(gameID); gameID != "" {
			client.follow(gameID)
		}
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("new websocket connection", "remote", r.RemoteAddr)
}
