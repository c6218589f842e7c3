package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerline/backend/config"
	pauth "github.com/peerline/backend/internal/auth"
	"github.com/peerline/backend/internal/middleware"
)

type fakeRooms struct {
	created []*lkproto.CreateRoomRequest
	deleted []string
	err     error
}

func (f *fakeRooms) CreateRoom(_ context.Context, req *lkproto.CreateRoomRequest) (*lkproto.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &lkproto.Room{Name: req.Name}, nil
}

func (f *fakeRooms) DeleteRoom(_ context.Context, req *lkproto.DeleteRoomRequest) (*lkproto.DeleteRoomResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, req.Room)
	return &lkproto.DeleteRoomResponse{}, nil
}

var testCfg = config.LiveKitConfig{
	URL:             "wss://lk.example.test",
	APIKey:          "APIkey",
	APISecret:       "a-secret-that-is-long-enough-for-hmac",
	TokenTTL:        time.Hour,
	EmptyTimeout:    300,
	MaxParticipants: 2,
}

func newRouter(rooms RoomService, cfg config.LiveKitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetClaims(c, &pauth.Claims{UserID: "user-1", DisplayName: "Alex", Role: pauth.RoleMember})
	})
	h := NewHandler(rooms, cfg, nil)
	r.GET("/calls/:sessionId/livekit-token", h.GetToken)
	r.DELETE("/calls/:sessionId/livekit-room", h.DeleteRoom)
	return r
}

func TestGetTokenCreatesRoom(t *testing.T) {
	rooms := &fakeRooms{}
	w := httptest.NewRecorder()
	newRouter(rooms, testCfg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls/s-1/livekit-token", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, rooms.created, 1)
	assert.Equal(t, "s-1", rooms.created[0].Name)
	assert.Equal(t, uint32(2), rooms.created[0].MaxParticipants)

	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, testCfg.URL, body.Data.URL)

	verifier, err := auth.ParseAPIToken(body.Data.Token)
	require.NoError(t, err)
	grants, err := verifier.Verify(testCfg.APISecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", grants.Identity)
	require.NotNil(t, grants.Video)
	assert.Equal(t, "s-1", grants.Video.Room)
	assert.True(t, grants.Video.RoomJoin)
}

func TestGetTokenRoomFailure(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(&fakeRooms{err: errors.New("twirp unavailable")}, testCfg).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls/s-1/livekit-token", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNotConfigured(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(nil, config.LiveKitConfig{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls/s-1/livekit-token", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteRoom(t *testing.T) {
	rooms := &fakeRooms{}
	w := httptest.NewRecorder()
	newRouter(rooms, testCfg).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/calls/s-1/livekit-room", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"s-1"}, rooms.deleted)
}
