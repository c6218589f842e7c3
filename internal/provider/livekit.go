package provider

import (
	"context"
	"errors"
	"sync"

	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/call"
	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/rtc"
)

// LiveKitRoom is a joined LiveKit room.
type LiveKitRoom interface {
	PublishAudio(track webrtc.TrackLocal) error
	SetMuted(muted bool)
	Disconnect()
}

// LiveKitConnector joins rooms.
type LiveKitConnector interface {
	Connect(ctx context.Context, url, token string) (LiveKitRoom, error)
}

// SDKConnector joins rooms with the LiveKit Go SDK.
type SDKConnector struct{}

// Connect implements LiveKitConnector.
func (SDKConnector) Connect(ctx context.Context, url, token string) (LiveKitRoom, error) {
	type result struct {
		room *lksdk.Room
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(url, token, &lksdk.RoomCallback{})
		ch <- result{room, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return &sdkRoom{room: r.room}, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.room != nil {
				r.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type sdkRoom struct {
	room *lksdk.Room
	pub  *lksdk.LocalTrackPublication
}

func (r *sdkRoom) PublishAudio(track webrtc.TrackLocal) error {
	pub, err := r.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: "microphone"})
	if err != nil {
		return err
	}
	r.pub = pub
	return nil
}

func (r *sdkRoom) SetMuted(muted bool) {
	if r.pub != nil {
		r.pub.SetMuted(muted)
	}
}

func (r *sdkRoom) Disconnect() { r.room.Disconnect() }

// LiveKit carries calls over a LiveKit room named after the session, publishing
// the local microphone.
type LiveKit struct {
	connector   LiveKitConnector
	tokens      *TokenSource
	mic         rtc.Microphone
	constraints rtc.AudioConstraints
	reporter    call.StatusReporter
	logger      *zap.Logger

	mu        sync.Mutex
	creds     *LiveKitCredentials
	room      LiveKitRoom
	stream    rtc.LocalStream
	sessionID string
}

// NewLiveKit creates the adapter. A nil connector makes Initialize fail.
func NewLiveKit(connector LiveKitConnector, tokens *TokenSource, mic rtc.Microphone, constraints rtc.AudioConstraints, reporter call.StatusReporter, logger *zap.Logger) *LiveKit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveKit{connector: connector, tokens: tokens, mic: mic, constraints: constraints, reporter: reporter, logger: logger}
}

func (l *LiveKit) Name() string { return NameLiveKit }

// Initialize fetches a join token; the server creates the room on demand.
func (l *LiveKit) Initialize(ctx context.Context, cfg Config) error {
	if l.connector == nil {
		return &InitError{Provider: NameLiveKit, Err: ErrSDKUnavailable}
	}
	if l.tokens == nil || l.mic == nil {
		return &InitError{Provider: NameLiveKit, Err: errors.New("token source and microphone required")}
	}
	creds, err := l.tokens.LiveKit(ctx, cfg.SessionID)
	if err != nil {
		return initError(NameLiveKit, err)
	}
	l.mu.Lock()
	l.creds = &creds
	l.mu.Unlock()
	return nil
}

// MakeCall joins the room and publishes the microphone.
func (l *LiveKit) MakeCall(ctx context.Context, sessionID, _ string, _ CallOptions) error {
	l.mu.Lock()
	creds := l.creds
	l.mu.Unlock()
	if creds == nil {
		return &InitError{Provider: NameLiveKit, Err: ErrNotInitialized}
	}
	stream, err := l.mic.Acquire(ctx, l.constraints)
	if err != nil {
		return initError(NameLiveKit, err)
	}
	room, err := l.connector.Connect(ctx, creds.URL, creds.Token)
	if err != nil {
		stream.Stop()
		return initError(NameLiveKit, err)
	}
	if err := room.PublishAudio(stream.Track()); err != nil {
		room.Disconnect()
		stream.Stop()
		return initError(NameLiveKit, err)
	}
	l.mu.Lock()
	l.room, l.stream, l.sessionID = room, stream, sessionID
	l.mu.Unlock()
	l.logger.Info("joined livekit room", zap.String("room", creds.Room), zap.String("session_id", sessionID))
	report(l.reporter, sessionID, models.CallStatusConnected, NameLiveKit)
	return nil
}

// EndCall leaves the room and releases the microphone.
func (l *LiveKit) EndCall(context.Context) error {
	l.mu.Lock()
	room, stream, sessionID := l.room, l.stream, l.sessionID
	l.room, l.stream = nil, nil
	l.mu.Unlock()
	if room == nil {
		return nil
	}
	room.Disconnect()
	stream.Stop()
	report(l.reporter, sessionID, models.CallStatusDisconnected, NameLiveKit)
	return nil
}

// Live reports whether the room is joined.
func (l *LiveKit) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.room != nil
}

// ToggleMute mutes the published track and stops feeding it.
func (l *LiveKit) ToggleMute() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.room == nil {
		return false, ErrNoActiveCall
	}
	muted := l.stream.Enabled()
	l.stream.SetEnabled(!muted)
	l.room.SetMuted(muted)
	return muted, nil
}
