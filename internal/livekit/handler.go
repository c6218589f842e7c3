package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"go.uber.org/zap"

	"github.com/peerline/backend/config"
	"github.com/peerline/backend/internal/middleware"
	"github.com/peerline/backend/pkg/response"
)

// RoomService is the part of the LiveKit room API the handler uses.
// *lksdk.RoomServiceClient implements it.
type RoomService interface {
	CreateRoom(ctx context.Context, req *lkproto.CreateRoomRequest) (*lkproto.Room, error)
	DeleteRoom(ctx context.Context, req *lkproto.DeleteRoomRequest) (*lkproto.DeleteRoomResponse, error)
}

// NewRoomService connects the room API client. The host is the server url.
func NewRoomService(cfg config.LiveKitConfig) RoomService {
	return lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret)
}

// TokenResponse is returned by GET /calls/:sessionId/livekit-token.
type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Room  string `json:"room"`
}

// Handler bootstraps LiveKit rooms for calls. The room name is the session id.
type Handler struct {
	rooms  RoomService
	cfg    config.LiveKitConfig
	logger *zap.Logger
}

// NewHandler creates a LiveKit handler. rooms may be nil when LiveKit is not configured.
func NewHandler(rooms RoomService, cfg config.LiveKitConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Handler{rooms: rooms, cfg: cfg, logger: logger}
}

// Configured reports whether url and api credentials are set.
func (h *Handler) Configured() bool {
	return h.rooms != nil && h.cfg.URL != "" && h.cfg.APIKey != "" && h.cfg.APISecret != ""
}

// GetToken handles GET /calls/:sessionId/livekit-token. It makes sure the room
// exists and returns a join token for the caller.
func (h *Handler) GetToken(c *gin.Context) {
	if !h.Configured() {
		response.ServiceUnavailable(c, "LiveKit not configured (LIVEKIT_URL, LIVEKIT_API_KEY, LIVEKIT_API_SECRET)")
		return
	}
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		response.BadRequest(c, "session id required")
		return
	}
	if _, err := h.rooms.CreateRoom(c.Request.Context(), &lkproto.CreateRoomRequest{
		Name:            sessionID,
		EmptyTimeout:    h.cfg.EmptyTimeout,
		MaxParticipants: h.cfg.MaxParticipants,
	}); err != nil {
		h.logger.Error("livekit create room failed", zap.Error(err), zap.String("session_id", sessionID))
		response.ServiceUnavailable(c, "failed to prepare call room")
		return
	}
	identity := middleware.UserID(c)
	token, err := EncodeToken(h.cfg, sessionID, identity, c.GetString(middleware.ContextDisplayName), false)
	if err != nil {
		h.logger.Error("livekit token failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, URL: h.cfg.URL, Room: sessionID})
}

// DeleteRoom handles DELETE /calls/:sessionId/livekit-room (admin): disconnects everyone.
func (h *Handler) DeleteRoom(c *gin.Context) {
	if !h.Configured() {
		response.ServiceUnavailable(c, "LiveKit not configured")
		return
	}
	sessionID := c.Param("sessionId")
	if _, err := h.rooms.DeleteRoom(c.Request.Context(), &lkproto.DeleteRoomRequest{Room: sessionID}); err != nil {
		h.logger.Warn("livekit delete room failed", zap.Error(err), zap.String("session_id", sessionID))
		response.ServiceUnavailable(c, "failed to close call room")
		return
	}
	response.NoContent(c)
}

// EncodeToken signs an access token that joins the room.
func EncodeToken(cfg config.LiveKitConfig, room, identity, name string, admin bool) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("livekit: identity required")
	}
	grant := &auth.VideoGrant{
		Room:      room,
		RoomJoin:  true,
		RoomAdmin: admin,
	}
	tk := auth.NewAccessToken(cfg.APIKey, cfg.APISecret)
	tk.AddGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(cfg.TokenTTL)
	return tk.ToJWT()
}
