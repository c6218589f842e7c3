package signaling

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/pkg/response"
)

// PostRequest is the body for POST /signaling.
type PostRequest struct {
	SessionID string              `json:"sessionId" binding:"required"`
	Type      models.EnvelopeType `json:"type" binding:"required"`
	From      models.Role         `json:"from"`
	Data      json.RawMessage     `json:"data"`
}

type postResponse struct {
	ID int64 `json:"id"`
}

type listResponse struct {
	Messages []models.Envelope `json:"messages"`
}

// EnvelopePublisher receives every stored envelope (websocket push fan-out).
type EnvelopePublisher interface {
	PublishEnvelope(env models.Envelope)
}

// Handler serves the store-and-poll relay.
type Handler struct {
	store  Store
	pub    EnvelopePublisher
	logger *zap.Logger
}

// NewHandler creates a signaling handler. pub may be nil.
func NewHandler(store Store, pub EnvelopePublisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, pub: pub, logger: logger}
}

// Post handles POST /signaling: append one envelope and return its id.
func (h *Handler) Post(c *gin.Context) {
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.Type.Valid() {
		response.BadRequest(c, "type must be offer, answer or ice-candidate")
		return
	}
	if req.From != "" && !req.From.Valid() {
		response.BadRequest(c, "from must be initiator or responder")
		return
	}
	if err := validatePayload(req.Type, req.Data); err != "" {
		response.BadRequest(c, err)
		return
	}

	env := &models.Envelope{SessionID: req.SessionID, Type: req.Type, From: req.From, Data: req.Data}
	if err := h.store.Append(c.Request.Context(), env); err != nil {
		h.logger.Error("append envelope failed", zap.Error(err), zap.String("session_id", req.SessionID))
		response.Internal(c, "failed to store envelope")
		return
	}
	if h.pub != nil {
		h.pub.PublishEnvelope(*env)
	}
	h.logger.Debug("envelope stored", zap.String("session_id", env.SessionID), zap.Int64("id", env.ID), zap.String("type", string(env.Type)))
	response.Created(c, postResponse{ID: env.ID})
}

// List handles GET /signaling?sessionId=&lastMessageId=: envelopes after the cursor.
func (h *Handler) List(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		response.BadRequest(c, "sessionId required")
		return
	}
	var lastID int64
	if v := c.Query("lastMessageId"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			response.BadRequest(c, "invalid lastMessageId")
			return
		}
		lastID = n
	}
	list, err := h.store.ListSince(c.Request.Context(), sessionID, lastID)
	if err != nil {
		h.logger.Error("list envelopes failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to list envelopes")
		return
	}
	response.OK(c, listResponse{Messages: list})
}

func validatePayload(typ models.EnvelopeType, data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return "data required"
	}
	switch typ {
	case models.EnvelopeOffer, models.EnvelopeAnswer:
		var sd models.SessionDescription
		if err := json.Unmarshal(data, &sd); err != nil || sd.SDP == "" {
			return "data must be a session description with sdp"
		}
	case models.EnvelopeICECandidate:
		var ic models.ICECandidate
		if err := json.Unmarshal(data, &ic); err != nil {
			return "data must be an ice candidate"
		}
	}
	return ""
}
