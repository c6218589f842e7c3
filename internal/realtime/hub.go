package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/signaling"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains session_id -> set of connections and pushes stored envelopes to them.
// Uses Redis pub/sub for horizontal scaling: an append on any instance reaches every
// instance's subscribers through the session channel.
type Hub struct {
	sessions map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per session
	mu       sync.RWMutex
	store    signaling.Store
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher publishes envelopes for cross-instance delivery.
type RedisPublisher interface {
	PublishSessionEnvelope(sessionID string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming envelopes.
type RedisSubscriber interface {
	SubscribeSession(sessionID string, handler func(payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. store is used for backlog and gap fill.
// redisPub and redisSub may be nil for a single instance.
func NewHub(store signaling.Store, logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		store:    store,
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a session. Starts Redis subscription for this session if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.redisSub != nil {
			sessionID := c.SessionID
			cancel, err := h.redisSub.SubscribeSession(sessionID, func(payload []byte) {
				var env models.Envelope
				if err := json.Unmarshal(payload, &env); err != nil {
					h.logger.Warn("invalid envelope on session channel", zap.String("session_id", sessionID), zap.Error(err))
					return
				}
				h.deliver(env)
			})
			if err == nil {
				h.subs[sessionID] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// Unregister removes a client from a session. Cancels Redis subscription when last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// PublishEnvelope hands a freshly stored envelope to every subscriber of its session.
// With Redis the subscriber callback delivers it once on every instance, this one included.
func (h *Hub) PublishEnvelope(env models.Envelope) {
	if h.redis != nil && h.redisSub != nil {
		data, err := json.Marshal(env)
		if err == nil {
			if err = h.redis.PublishSessionEnvelope(env.SessionID, data); err == nil {
				return
			}
		}
		h.logger.Warn("redis publish failed, delivering locally", zap.String("session_id", env.SessionID), zap.Error(err))
	}
	h.deliver(env)
}

// deliver pushes to local clients only.
func (h *Hub) deliver(env models.Envelope) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[env.SessionID]))
	for _, c := range h.sessions[env.SessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.offer(env)
	}
}

// ClientCount returns the number of connected clients in a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
