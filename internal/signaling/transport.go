package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/peerline/backend/internal/models"
)

// Transport is the peer-side view of the relay.
type Transport interface {
	PostEnvelope(ctx context.Context, sessionID string, from models.Role, typ models.EnvelopeType, payload any) (int64, error)
	FetchEnvelopesSince(ctx context.Context, sessionID string, lastMessageID int64) ([]models.Envelope, error)
}

// LocalTransport serves a Transport straight from a Store, for in-process peers.
type LocalTransport struct {
	Store Store
	// Publish, when set, is called with every stored envelope.
	Publish func(models.Envelope)
}

// PostEnvelope implements Transport.
func (t *LocalTransport) PostEnvelope(ctx context.Context, sessionID string, from models.Role, typ models.EnvelopeType, payload any) (int64, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return 0, &TransportError{Op: "post", SessionID: sessionID, Err: err}
	}
	env := &models.Envelope{SessionID: sessionID, Type: typ, From: from, Data: data}
	if err := t.Store.Append(ctx, env); err != nil {
		return 0, &TransportError{Op: "post", SessionID: sessionID, Err: err}
	}
	if t.Publish != nil {
		t.Publish(*env)
	}
	return env.ID, nil
}

// FetchEnvelopesSince implements Transport.
func (t *LocalTransport) FetchEnvelopesSince(ctx context.Context, sessionID string, lastMessageID int64) ([]models.Envelope, error) {
	list, err := t.Store.ListSince(ctx, sessionID, lastMessageID)
	if err != nil {
		return nil, &TransportError{Op: "fetch", SessionID: sessionID, Err: err}
	}
	return list, nil
}

// PostWithRetry posts an envelope, retrying transport failures up to attempts times.
func PostWithRetry(ctx context.Context, t Transport, attempts int, backoff time.Duration, sessionID string, from models.Role, typ models.EnvelopeType, payload any) (int64, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff * time.Duration(i)):
			}
		}
		id, err := t.PostEnvelope(ctx, sessionID, from, typ, payload)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !IsTransportError(err) {
			return 0, err
		}
	}
	return 0, lastErr
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}
