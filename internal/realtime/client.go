package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/pkg/response"
)

// EventEnvelope is the event name of pushed envelopes.
const EventEnvelope = "envelope"

const sendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // browsers authenticate with the token query parameter
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one WebSocket subscriber of a session's envelopes. It never sends an id
// at or below the last id it sent and fills gaps from the store.
type Client struct {
	ID        string
	SessionID string
	UserID    string
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger

	mu        sync.Mutex
	lastSent  int64
	closeOnce sync.Once
}

// ServeWs handles GET /ws?session_id=&token=&last_message_id=.
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		token := c.Query("token")
		if sessionID == "" || token == "" {
			response.BadRequest(c, "session_id and token required")
			return
		}
		var lastID int64
		if v := c.Query("last_message_id"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				response.BadRequest(c, "invalid last_message_id")
				return
			}
			lastID = n
		}
		userID, _, err := jwtValidate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    userID,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, sendBuffer),
			logger:    logger,
			lastSent:  lastID,
		}
		hub.Register(client)
		go client.writePump()
		client.catchUp(c.Request.Context())
		client.readPump()
	}
}

// catchUp sends everything after the client's cursor.
func (c *Client) catchUp(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillLocked(ctx)
}

func (c *Client) fillLocked(ctx context.Context) {
	if c.hub.store == nil {
		return
	}
	list, err := c.hub.store.ListSince(ctx, c.SessionID, c.lastSent)
	if err != nil {
		c.logger.Warn("envelope backlog failed", zap.String("session_id", c.SessionID), zap.Error(err))
		return
	}
	for _, env := range list {
		if !c.enqueueLocked(env) {
			return
		}
	}
}

// offer pushes a live envelope, filling from the store when ids were skipped.
func (c *Client) offer(env models.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case env.ID <= c.lastSent:
		return
	case env.ID == c.lastSent+1:
		c.enqueueLocked(env)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.fillLocked(ctx)
	}
}

func (c *Client) enqueueLocked(env models.Envelope) bool {
	if env.ID <= c.lastSent {
		return true
	}
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	select {
	case c.send <- WSMessage{Event: EventEnvelope, Data: data}:
		c.lastSent = env.ID
		return true
	default:
		// dropping would break ordering; the peer reconnects with its cursor
		c.logger.Warn("websocket client too slow, closing", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	// envelopes are posted over HTTP; inbound frames only keep the connection alive
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
