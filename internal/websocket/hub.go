package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/waterpolo-stats/internal/domain"
)

// Message types
const (
	MessageTypeScoreboard  = "scoreboard"
	MessageTypeEvent       = "event"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	GameID    string    `json:"game_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreboardSource returns the current scoreboard of a game for new subscribers
type ScoreboardSource func(gameID string) (domain.Scoreboard, bool)

// Hub tracks connected clients and the games each one follows. All
// membership changes go through Run.
type Hub struct {
	mu        sync.RWMutex
	connected map[*Client]struct{}
	followers map[string]map[*Client]struct{}

	joins     chan *Client
	leaves    chan *Client
	follows   chan follow
	unfollows chan follow
	outbox    chan *Message

	// Clock-driven scoreboard pushes are throttled per game
	limiterMu   sync.Mutex
	limiters    map[string]*rate.Limiter
	maxPerSec   rate.Limit
	scoreboards ScoreboardSource

	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

type follow struct {
	client *Client
	gameID string
}

// NewHub creates a new Hub. Clock-driven scoreboard pushes are limited to
// maxPerSecond per game; zero disables the limit.
func NewHub(maxPerSecond float64, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	limit := rate.Inf
	if maxPerSecond > 0 {
		limit = rate.Limit(maxPerSecond)
	}
	return &Hub{
		connected: make(map[*Client]struct{}),
		followers: make(map[string]map[*Client]struct{}),
		joins:     make(chan *Client),
		leaves:    make(chan *Client),
		follows:   make(chan follow, 64),
		unfollows: make(chan follow, 64),
		outbox:    make(chan *Message, 256),
		limiters:  make(map[string]*rate.Limiter),
		maxPerSec: limit,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetScoreboardSource installs the lookup used to greet new subscribers
func (h *Hub) SetScoreboardSource(src ScoreboardSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scoreboards = src
}

// scoreboardMessage builds a scoreboard message for a live game
func (h *Hub) scoreboardMessage(gameID string) (*Message, bool) {
	h.mu.RLock()
	src := h.scoreboards
	h.mu.RUnlock()
	if src == nil {
		return nil, false
	}
	sb, ok := src(gameID)
	if !ok {
		return nil, false
	}
	return &Message{
		Type:      MessageTypeScoreboard,
		GameID:    gameID,
		Data:      sb,
		Timestamp: time.Now(),
	}, true
}

// Run serialises membership changes and fan-out until Stop is called
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.joins:
			h.mu.Lock()
			h.connected[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client connected", "client_id", c.id, "connections", h.GetTotalConnections())
		case c := <-h.leaves:
			h.drop(c)
		case f := <-h.follows:
			h.addFollower(f)
		case f := <-h.unfollows:
			h.mu.Lock()
			h.removeFollowerLocked(f.client, f.gameID)
			h.mu.Unlock()
			h.logger.Debug("client unfollowed game", "client_id", f.client.id, "game_id", f.gameID)
		case m := <-h.outbox:
			h.fanOut(m)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// drop forgets a disconnected client and closes its send buffer exactly once
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connected[c]; !ok {
		return
	}
	delete(h.connected, c)
	for gameID := range h.followers {
		h.removeFollowerLocked(c, gameID)
	}
	close(c.send)
	h.logger.Debug("client disconnected", "client_id", c.id)
}

func (h *Hub) removeFollowerLocked(c *Client, gameID string) {
	set, ok := h.followers[gameID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.followers, gameID)
	}
}

// addFollower subscribes the client and greets it with the current scoreboard
func (h *Hub) addFollower(f follow) {
	h.mu.Lock()
	if _, ok := h.connected[f.client]; !ok {
		h.mu.Unlock()
		return
	}
	set, ok := h.followers[f.gameID]
	if !ok {
		set = make(map[*Client]struct{})
		h.followers[f.gameID] = set
	}
	set[f.client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client followed game", "client_id", f.client.id, "game_id", f.gameID)

	if m, ok := h.scoreboardMessage(f.gameID); ok {
		f.client.sendMessage(m)
	}
}

// fanOut delivers a message to the followers of its game. Slow clients miss
// messages rather than stalling the hub.
func (h *Hub) fanOut(m *Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("encode message", "type", m.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.followers[m.GameID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client send buffer full", "client_id", c.id, "game_id", m.GameID)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.outbox <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "game_id", message.GameID)
	}
}

// BroadcastScoreboard pushes a scoreboard to subscribers of its game. Unless
// force is set the push is subject to the per-game rate limit; it reports
// whether the message was queued.
func (h *Hub) BroadcastScoreboard(sb domain.Scoreboard, force bool) bool {
	if !force && !h.limiter(sb.GameID).Allow() {
		return false
	}
	h.enqueue(&Message{
		Type:      MessageTypeScoreboard,
		GameID:    sb.GameID,
		Data:      sb,
		Timestamp: time.Now(),
	})
	return true
}

// BroadcastEvent pushes a newly recorded game event to subscribers
func (h *Hub) BroadcastEvent(gameID string, ev domain.GameEventRecord) {
	h.enqueue(&Message{
		Type:      MessageTypeEvent,
		GameID:    gameID,
		Data:      ev,
		Timestamp: time.Now(),
	})
}

// Forget drops the throttle state of a game that is no longer live
func (h *Hub) Forget(gameID string) {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()
	delete(h.limiters, gameID)
}

func (h *Hub) limiter(gameID string) *rate.Limiter {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()
	l, ok := h.limiters[gameID]
	if !ok {
		l = rate.NewLimiter(h.maxPerSec, 1)
		h.limiters[gameID] = l
	}
	return l
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.joins <- client
}

// Unregister removes a client and all of its subscriptions
func (h *Hub) Unregister(client *Client) {
	h.leaves <- client
}

// Subscribe starts sending a game's updates to the client
func (h *Hub) Subscribe(client *Client, gameID string) {
	h.follows <- follow{client: client, gameID: gameID}
}

// Unsubscribe stops sending a game's updates to the client
func (h *Hub) Unsubscribe(client *Client, gameID string) {
	h.unfollows <- follow{client: client, gameID: gameID}
}

// GetSubscriberCount returns the number of subscribers for a game
func (h *Hub) GetSubscriberCount(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.followers[gameID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connected)
}
