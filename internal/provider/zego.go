package provider

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/peerline/backend/internal/call"
	"github.com/peerline/backend/internal/models"
)

// ErrSDKUnavailable is the init failure of an adapter constructed without an SDK handle.
var ErrSDKUnavailable = errors.New("sdk not available")

// ZegoEngine is the part of the ZEGOCLOUD express SDK the adapter drives.
type ZegoEngine interface {
	LoginRoom(ctx context.Context, appID uint32, token, roomID, userID, userName string) error
	StartPublishing(ctx context.Context, streamID string) error
	StartPlaying(ctx context.Context, streamID string) error
	MuteMicrophone(mute bool) error
	LogoutRoom(ctx context.Context, roomID string) error
}

// Zego carries calls over ZEGOCLOUD rooms named after the session.
type Zego struct {
	engine   ZegoEngine
	tokens   *TokenSource
	reporter call.StatusReporter
	logger   *zap.Logger

	mu        sync.Mutex
	creds     *ZegoCredentials
	cfg       Config
	roomID    string
	sessionID string
	connected bool
	muted     bool
}

// NewZego creates the adapter. A nil engine makes Initialize fail.
func NewZego(engine ZegoEngine, tokens *TokenSource, reporter call.StatusReporter, logger *zap.Logger) *Zego {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zego{engine: engine, tokens: tokens, reporter: reporter, logger: logger}
}

func (z *Zego) Name() string { return NameZego }

// Initialize fetches a room token.
func (z *Zego) Initialize(ctx context.Context, cfg Config) error {
	if z.engine == nil {
		return &InitError{Provider: NameZego, Err: ErrSDKUnavailable}
	}
	if z.tokens == nil {
		return &InitError{Provider: NameZego, Err: errors.New("no token source")}
	}
	creds, err := z.tokens.Zego(ctx, cfg.SessionID)
	if err != nil {
		return initError(NameZego, err)
	}
	z.mu.Lock()
	z.creds = &creds
	z.cfg = cfg
	z.mu.Unlock()
	return nil
}

// MakeCall joins the room, publishes the local stream and plays the partner's.
func (z *Zego) MakeCall(ctx context.Context, sessionID, recipientID string, _ CallOptions) error {
	z.mu.Lock()
	creds, cfg := z.creds, z.cfg
	z.mu.Unlock()
	if creds == nil {
		return &InitError{Provider: NameZego, Err: ErrNotInitialized}
	}
	roomID := creds.RoomID
	if roomID == "" {
		roomID = sessionID
	}
	userID := creds.UserID
	if userID == "" {
		userID = cfg.UserID
	}
	if err := z.engine.LoginRoom(ctx, creds.AppID, creds.Token, roomID, userID, cfg.DisplayName); err != nil {
		return initError(NameZego, err)
	}
	z.mu.Lock()
	z.roomID, z.sessionID = roomID, sessionID
	z.mu.Unlock()
	if err := z.engine.StartPublishing(ctx, streamID(roomID, userID)); err != nil {
		return initError(NameZego, err)
	}
	if err := z.engine.StartPlaying(ctx, streamID(roomID, recipientID)); err != nil {
		return initError(NameZego, err)
	}
	z.mu.Lock()
	z.connected = true
	z.mu.Unlock()
	report(z.reporter, sessionID, models.CallStatusConnected, NameZego)
	return nil
}

// EndCall leaves the room.
func (z *Zego) EndCall(ctx context.Context) error {
	z.mu.Lock()
	roomID, sessionID, connected := z.roomID, z.sessionID, z.connected
	z.roomID, z.connected = "", false
	z.mu.Unlock()
	if roomID == "" {
		return nil
	}
	if err := z.engine.LogoutRoom(ctx, roomID); err != nil {
		z.logger.Warn("zego logout failed", zap.String("room_id", roomID), zap.Error(err))
	}
	// a half-joined room never reported connected
	if connected {
		report(z.reporter, sessionID, models.CallStatusDisconnected, NameZego)
	}
	return nil
}

// Live reports whether the room was fully joined and not yet left.
func (z *Zego) Live() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.connected
}

// ToggleMute flips the microphone.
func (z *Zego) ToggleMute() (bool, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.connected {
		return z.muted, ErrNoActiveCall
	}
	if err := z.engine.MuteMicrophone(!z.muted); err != nil {
		return z.muted, err
	}
	z.muted = !z.muted
	return z.muted, nil
}

func streamID(roomID, userID string) string { return roomID + "_" + userID }

func report(r call.StatusReporter, sessionID string, status models.CallStatusValue, provider string) {
	if r == nil {
		return
	}
	r.Report(models.CallStatus{SessionID: sessionID, Status: status, Provider: provider})
}
