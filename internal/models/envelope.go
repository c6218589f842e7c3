package models

import (
	"encoding/json"
	"time"
)

// EnvelopeType tags a signaling message.
type EnvelopeType string

const (
	EnvelopeOffer        EnvelopeType = "offer"
	EnvelopeAnswer       EnvelopeType = "answer"
	EnvelopeICECandidate EnvelopeType = "ice-candidate"
)

// Valid reports whether t is one of the relayed types.
func (t EnvelopeType) Valid() bool {
	switch t {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeICECandidate:
		return true
	}
	return false
}

// Envelope is one immutable signaling message. ID is assigned by the store and
// increases by one per session. From is the sender's role when the client sent it,
// so a peer can skip its own candidates.
type Envelope struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	Type      EnvelopeType    `json:"type"`
	From      Role            `json:"from,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SessionDescription is the payload of offer and answer envelopes.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the payload of ice-candidate envelopes (browser RTCIceCandidateInit shape).
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
