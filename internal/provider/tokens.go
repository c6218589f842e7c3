package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/peerline/backend/pkg/response"
)

// ZegoCredentials is issued by GET /calls/:sessionId/zego-token.
type ZegoCredentials struct {
	Token  string `json:"token"`
	AppID  uint32 `json:"app_id"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// LiveKitCredentials is issued by GET /calls/:sessionId/livekit-token.
type LiveKitCredentials struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Room  string `json:"room"`
}

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceServersResponse struct {
	ICEServers []iceServer `json:"ice_servers"`
}

// TokenSource fetches short-lived provider credentials from the server.
type TokenSource struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewTokenSource creates a token source for the server at baseURL.
func NewTokenSource(baseURL, token string, httpClient *http.Client) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenSource{baseURL: baseURL, token: token, http: httpClient}
}

// Zego returns ZEGOCLOUD credentials for the session's room.
func (s *TokenSource) Zego(ctx context.Context, sessionID string) (ZegoCredentials, error) {
	var out ZegoCredentials
	if err := s.get(ctx, "/calls/"+url.PathEscape(sessionID)+"/zego-token", &out); err != nil {
		return out, err
	}
	if out.Token == "" {
		return out, errors.New("empty zego token")
	}
	return out, nil
}

// LiveKit returns LiveKit credentials for the session's room.
func (s *TokenSource) LiveKit(ctx context.Context, sessionID string) (LiveKitCredentials, error) {
	var out LiveKitCredentials
	if err := s.get(ctx, "/calls/"+url.PathEscape(sessionID)+"/livekit-token", &out); err != nil {
		return out, err
	}
	if out.Token == "" || out.URL == "" {
		return out, errors.New("incomplete livekit credentials")
	}
	return out, nil
}

// ICEServers returns the STUN/TURN servers configured on the server.
func (s *TokenSource) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var out iceServersResponse
	if err := s.get(ctx, "/calls/ice-servers", &out); err != nil {
		return nil, err
	}
	servers := make([]webrtc.ICEServer, 0, len(out.ICEServers))
	for _, is := range out.ICEServers {
		srv := webrtc.ICEServer{URLs: is.URLs, Username: is.Username}
		if is.Credential != "" {
			srv.Credential = is.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

func (s *TokenSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	var body response.Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !body.Success {
		if body.Error != "" {
			return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, body.Error)
		}
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
