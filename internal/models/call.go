package models

import "time"

// CallState is the lifecycle state of one call attempt.
type CallState string

const (
	CallStateConnecting CallState = "connecting"
	CallStateConnected  CallState = "connected"
	CallStateEnded      CallState = "ended"
	CallStateFailed     CallState = "failed"
)

// Terminal reports whether no transition leaves the state.
func (s CallState) Terminal() bool {
	return s == CallStateEnded || s == CallStateFailed
}

// Role decides which side originates the offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// ConnectionQuality is derived from periodic transport statistics.
type ConnectionQuality string

const (
	QualityGood ConnectionQuality = "good"
	QualityFair ConnectionQuality = "fair"
	QualityPoor ConnectionQuality = "poor"
)

// CallSession identifies one voice call attempt as seen by the UI.
type CallSession struct {
	SessionID         string            `json:"session_id"`
	Role              Role              `json:"role"`
	PartnerLabel      string            `json:"partner_label"`
	State             CallState         `json:"state"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`
	Muted             bool              `json:"muted"`
	Speaker           bool              `json:"speaker"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	FailureMessage    string            `json:"failure_message,omitempty"`
}

// Duration returns the connected time, up to now for a live call.
func (c CallSession) Duration(now time.Time) time.Duration {
	if c.StartedAt == nil {
		return 0
	}
	end := now
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	if end.Before(*c.StartedAt) {
		return 0
	}
	return end.Sub(*c.StartedAt)
}
