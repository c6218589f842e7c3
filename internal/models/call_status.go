package models

import (
	"time"

	"github.com/google/uuid"
)

// CallStatusValue is what the surrounding application stores on its session record.
type CallStatusValue string

const (
	CallStatusConnected    CallStatusValue = "connected"
	CallStatusDisconnected CallStatusValue = "disconnected"
	CallStatusError        CallStatusValue = "error"
)

// CallStatus is the lifecycle callback body.
type CallStatus struct {
	SessionID string          `json:"sessionId" binding:"required"`
	Status    CallStatusValue `json:"status" binding:"required,oneof=connected disconnected error"`
	Provider  string          `json:"provider" binding:"required"`
	Error     string          `json:"error,omitempty"`
}

// CallStatusEvent is a recorded CallStatus.
type CallStatusEvent struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  string          `json:"session_id"`
	Status     CallStatusValue `json:"status"`
	Provider   string          `json:"provider"`
	Error      *string         `json:"error,omitempty"`
	ReportedBy string          `json:"reported_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StateTransition is one entry of the diagnostics timeline.
type StateTransition struct {
	From CallState `json:"from"`
	To   CallState `json:"to"`
	At   time.Time `json:"at"`
}

// QualitySample is one periodic stats reading.
type QualitySample struct {
	At              time.Time         `json:"at"`
	PacketsLost     int64             `json:"packets_lost"`
	PacketsReceived int64             `json:"packets_received"`
	Quality         ConnectionQuality `json:"quality"`
}

// CallDiagnostics is submitted after a call attempt terminates, for support review.
type CallDiagnostics struct {
	SessionID        string            `json:"sessionId" binding:"required"`
	Provider         string            `json:"provider"`
	Role             Role              `json:"role"`
	FinalState       CallState         `json:"final_state"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	DurationSeconds  int64             `json:"duration_seconds"`
	Transitions      []StateTransition `json:"transitions"`
	QualitySamples   []QualitySample   `json:"quality_samples,omitempty"`
	PollFailures     int               `json:"poll_failures"`
	ProviderAttempts []string          `json:"provider_attempts,omitempty"`
}
