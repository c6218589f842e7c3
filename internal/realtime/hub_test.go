package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/signaling"
)

func appendEnv(t *testing.T, store signaling.Store, sessionID string, typ models.EnvelopeType) models.Envelope {
	t.Helper()
	env := &models.Envelope{SessionID: sessionID, Type: typ, Data: json.RawMessage(`{"candidate":"c"}`)}
	require.NoError(t, store.Append(context.Background(), env))
	return *env
}

func newTestClient(hub *Hub, sessionID string, lastSent int64) *Client {
	return &Client{ID: "c1", SessionID: sessionID, hub: hub, send: make(chan WSMessage, sendBuffer), logger: hub.logger, lastSent: lastSent}
}

func drainIDs(t *testing.T, c *Client) []int64 {
	t.Helper()
	var ids []int64
	for {
		select {
		case msg := <-c.send:
			var env models.Envelope
			require.NoError(t, json.Unmarshal(msg.Data, &env))
			assert.Equal(t, EventEnvelope, msg.Event)
			ids = append(ids, env.ID)
		default:
			return ids
		}
	}
}

func TestClient_OfferSkipsSentAndFillsGaps(t *testing.T) {
	store := signaling.NewMemoryStore()
	hub := NewHub(store, zaptest.NewLogger(t), nil, nil)
	c := newTestClient(hub, "s1", 1)

	e1 := appendEnv(t, store, "s1", models.EnvelopeOffer)
	appendEnv(t, store, "s1", models.EnvelopeICECandidate)
	e3 := appendEnv(t, store, "s1", models.EnvelopeICECandidate)

	c.offer(e1)
	assert.Empty(t, drainIDs(t, c))

	c.offer(e3)
	assert.Equal(t, []int64{2, 3}, drainIDs(t, c))

	c.offer(e3)
	assert.Empty(t, drainIDs(t, c))
}

func TestHub_RegisterAndPublish(t *testing.T) {
	store := signaling.NewMemoryStore()
	hub := NewHub(store, zaptest.NewLogger(t), nil, nil)
	a := newTestClient(hub, "s1", 0)
	b := newTestClient(hub, "s2", 0)
	b.ID = "c2"
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 1, hub.ClientCount("s1"))

	hub.PublishEnvelope(appendEnv(t, store, "s1", models.EnvelopeOffer))
	assert.Equal(t, []int64{1}, drainIDs(t, a))
	assert.Empty(t, drainIDs(t, b))

	hub.Unregister(a)
	assert.Equal(t, 0, hub.ClientCount("s1"))
}

type fakePubSub struct {
	handlers map[string]func([]byte)
	failPub  bool
	cancels  int
}

func (f *fakePubSub) PublishSessionEnvelope(sessionID string, payload []byte) error {
	if f.failPub {
		return errors.New("redis down")
	}
	if h := f.handlers[sessionID]; h != nil {
		h(payload)
	}
	return nil
}

func (f *fakePubSub) SubscribeSession(sessionID string, handler func([]byte)) (func(), error) {
	f.handlers[sessionID] = handler
	return func() { f.cancels++ }, nil
}

func TestHub_PublishThroughRedis(t *testing.T) {
	store := signaling.NewMemoryStore()
	ps := &fakePubSub{handlers: map[string]func([]byte){}}
	hub := NewHub(store, zaptest.NewLogger(t), ps, ps)
	c := newTestClient(hub, "s1", 0)
	hub.Register(c)
	require.Contains(t, ps.handlers, "s1")

	hub.PublishEnvelope(appendEnv(t, store, "s1", models.EnvelopeOffer))
	assert.Equal(t, []int64{1}, drainIDs(t, c))

	ps.failPub = true
	hub.PublishEnvelope(appendEnv(t, store, "s1", models.EnvelopeICECandidate))
	assert.Equal(t, []int64{2}, drainIDs(t, c))

	hub.Unregister(c)
	assert.Equal(t, 1, ps.cancels)
}

func TestServeWs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := signaling.NewMemoryStore()
	hub := NewHub(store, zaptest.NewLogger(t), nil, nil)
	validate := func(token string) (string, string, error) {
		if token != "good" {
			return "", "", errors.New("bad token")
		}
		return "u1", "member", nil
	}
	r := gin.New()
	r.GET("/ws", ServeWs(hub, zaptest.NewLogger(t), validate))
	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("rejects bad token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?session_id=s1&token=bad", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("backlog then live", func(t *testing.T) {
		appendEnv(t, store, "s1", models.EnvelopeOffer)
		appendEnv(t, store, "s1", models.EnvelopeICECandidate)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?session_id=s1&token=good&last_message_id=1", nil)
		require.NoError(t, err)
		defer conn.Close()

		read := func() models.Envelope {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			var msg WSMessage
			require.NoError(t, conn.ReadJSON(&msg))
			var env models.Envelope
			require.NoError(t, json.Unmarshal(msg.Data, &env))
			return env
		}
		assert.Equal(t, int64(2), read().ID)

		require.Eventually(t, func() bool { return hub.ClientCount("s1") == 1 }, time.Second, 10*time.Millisecond)
		hub.PublishEnvelope(appendEnv(t, store, "s1", models.EnvelopeICECandidate))
		assert.Equal(t, int64(3), read().ID)
	})
}
