package callstatus

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/middleware"
	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/pkg/queue"
	"github.com/peerline/backend/pkg/response"
)

// JobQueue is the background work the handler hands off. *queue.Queue implements it.
type JobQueue interface {
	EnqueueStatusWebhook(ctx context.Context, payload queue.StatusWebhookPayload) error
	EnqueueDiagnostics(ctx context.Context, payload queue.DiagnosticsPayload) error
}

// Handler serves the call status callback and diagnostics intake.
type Handler struct {
	store  Store
	jobs   JobQueue
	logger *zap.Logger
}

// NewHandler creates a call status handler. jobs may be nil when Redis is unavailable.
func NewHandler(store Store, jobs JobQueue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, jobs: jobs, logger: logger}
}

// PostStatus handles POST /calls/status.
func (h *Handler) PostStatus(c *gin.Context) {
	var req models.CallStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev := &models.CallStatusEvent{
		SessionID:  req.SessionID,
		Status:     req.Status,
		Provider:   req.Provider,
		ReportedBy: middleware.UserID(c),
	}
	if req.Error != "" {
		msg := req.Error
		ev.Error = &msg
	}
	ctx := c.Request.Context()
	if err := h.store.Record(ctx, ev); err != nil {
		h.logger.Error("record call status failed", zap.Error(err), zap.String("session_id", req.SessionID))
		response.Internal(c, "failed to record status")
		return
	}
	h.logger.Info("call status",
		zap.String("session_id", ev.SessionID),
		zap.String("status", string(ev.Status)),
		zap.String("provider", ev.Provider),
		zap.String("reported_by", ev.ReportedBy),
	)
	if h.jobs != nil {
		if err := h.jobs.EnqueueStatusWebhook(ctx, queue.StatusWebhookPayload{Event: *ev}); err != nil {
			h.logger.Warn("enqueue status webhook failed", zap.Error(err), zap.String("session_id", ev.SessionID))
		}
	}
	response.Accepted(c, gin.H{"id": ev.ID})
}

// History handles GET /calls/:sessionId/status (admin).
func (h *Handler) History(c *gin.Context) {
	sessionID := c.Param("sessionId")
	list, err := h.store.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list call status failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to list status")
		return
	}
	response.OK(c, gin.H{"events": list})
}

// PostDiagnostics handles POST /calls/diagnostics.
func (h *Handler) PostDiagnostics(c *gin.Context) {
	var d models.CallDiagnostics
	if err := c.ShouldBindJSON(&d); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if h.jobs == nil {
		response.ServiceUnavailable(c, "diagnostics archive unavailable")
		return
	}
	payload := queue.DiagnosticsPayload{ReportedBy: middleware.UserID(c), ReceivedAt: time.Now().UTC(), Diagnostics: d}
	if err := h.jobs.EnqueueDiagnostics(c.Request.Context(), payload); err != nil {
		h.logger.Error("enqueue diagnostics failed", zap.Error(err), zap.String("session_id", d.SessionID))
		response.Internal(c, "failed to accept diagnostics")
		return
	}
	response.Accepted(c, nil)
}
