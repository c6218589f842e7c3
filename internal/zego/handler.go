package zego

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/peerline/backend/config"
	"github.com/peerline/backend/internal/middleware"
	"github.com/peerline/backend/pkg/response"
)

const tokenValidSec = 2 * 3600

// TokenResponse is returned by GET /calls/:sessionId/zego-token.
type TokenResponse struct {
	Token  string `json:"token"`
	AppID  uint32 `json:"app_id"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// Handler issues ZEGOCLOUD tokens for call rooms. The room id is the session id.
type Handler struct {
	cfg    config.ZegoConfig
	logger *zap.Logger
}

// NewHandler creates a ZEGO handler.
func NewHandler(cfg config.ZegoConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, logger: logger}
}

// Configured reports whether app id and secret are set.
func (h *Handler) Configured() bool {
	return h.cfg.AppID != 0 && h.cfg.ServerSecret != ""
}

// GetToken handles GET /calls/:sessionId/zego-token. JWT required.
func (h *Handler) GetToken(c *gin.Context) {
	if !h.Configured() {
		response.ServiceUnavailable(c, "ZEGOCLOUD not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
		return
	}
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		response.BadRequest(c, "session id required")
		return
	}
	userID := middleware.UserID(c)
	token, err := GenerateRoomToken(h.cfg.AppID, h.cfg.ServerSecret, sessionID, userID, false, tokenValidSec)
	if err != nil {
		h.logger.Error("zego token generation failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, AppID: h.cfg.AppID, RoomID: sessionID, UserID: userID})
}
