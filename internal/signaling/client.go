package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/pkg/response"
)

const defaultHTTPTimeout = 10 * time.Second

// Client is the HTTP Transport used by call participants.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a signaling client for the server at baseURL. token is the
// bearer token issued by the surrounding application.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

type postRequest struct {
	SessionID string              `json:"sessionId"`
	Type      models.EnvelopeType `json:"type"`
	From      models.Role         `json:"from,omitempty"`
	Data      json.RawMessage     `json:"data"`
}

// PostEnvelope implements Transport.
func (c *Client) PostEnvelope(ctx context.Context, sessionID string, from models.Role, typ models.EnvelopeType, payload any) (int64, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return 0, &TransportError{Op: "post", SessionID: sessionID, Err: err}
	}
	body, err := json.Marshal(postRequest{SessionID: sessionID, Type: typ, From: from, Data: data})
	if err != nil {
		return 0, &TransportError{Op: "post", SessionID: sessionID, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signaling", bytes.NewReader(body))
	if err != nil {
		return 0, &TransportError{Op: "post", SessionID: sessionID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var out response.Envelope[postResponse]
	if status, err := c.do(req, &out); err != nil {
		return 0, &TransportError{Op: "post", SessionID: sessionID, Status: status, Err: err}
	}
	return out.Data.ID, nil
}

// FetchEnvelopesSince implements Transport.
func (c *Client) FetchEnvelopesSince(ctx context.Context, sessionID string, lastMessageID int64) ([]models.Envelope, error) {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("lastMessageId", strconv.FormatInt(lastMessageID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/signaling?"+q.Encode(), nil)
	if err != nil {
		return nil, &TransportError{Op: "fetch", SessionID: sessionID, Err: err}
	}

	var out response.Envelope[listResponse]
	if status, err := c.do(req, &out); err != nil {
		return nil, &TransportError{Op: "fetch", SessionID: sessionID, Status: status, Err: err}
	}
	if out.Data.Messages == nil {
		return []models.Envelope{}, nil
	}
	return out.Data.Messages, nil
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb response.Envelope[json.RawMessage]
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			return resp.StatusCode, errors.New(eb.Error)
		}
		return resp.StatusCode, errors.New(http.StatusText(resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}
	return resp.StatusCode, nil
}
