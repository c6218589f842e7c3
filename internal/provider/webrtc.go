package provider

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/call"
	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/rtc"
	"github.com/peerline/backend/internal/signaling"
)

// ICESource supplies STUN/TURN servers. *TokenSource implements it.
type ICESource interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// WebRTCDeps wire the raw peer connection path.
type WebRTCDeps struct {
	Transport   signaling.Transport
	Factory     rtc.PeerConnectionFactory
	Microphone  rtc.Microphone
	ICE         ICESource // optional; Controller.ICEServers is used when nil
	Controller  rtc.Config
	Call        call.Options // SessionID, Role, PartnerLabel and Provider are set per call
	Reporter    call.StatusReporter
	Diagnostics call.DiagnosticsSink
	Observer    func(call.Snapshot)
	Speaker     rtc.Speaker
	Logger      *zap.Logger
}

// WebRTC is the fallback provider: a direct peer connection negotiated over
// the signaling relay.
type WebRTC struct {
	deps    WebRTCDeps
	surface call.Surface

	mu         sync.Mutex
	iceServers []webrtc.ICEServer
	ready      bool
}

// NewWebRTC creates the fallback adapter.
func NewWebRTC(deps WebRTCDeps) *WebRTC {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &WebRTC{deps: deps}
}

func (w *WebRTC) Name() string { return NameWebRTC }

// Initialize resolves ICE servers.
func (w *WebRTC) Initialize(ctx context.Context, _ Config) error {
	if w.deps.Transport == nil || w.deps.Factory == nil || w.deps.Microphone == nil {
		return &InitError{Provider: NameWebRTC, Err: ErrSDKUnavailable}
	}
	servers := w.deps.Controller.ICEServers
	if w.deps.ICE != nil {
		fetched, err := w.deps.ICE.ICEServers(ctx)
		if err != nil {
			if len(servers) == 0 {
				return initError(NameWebRTC, err)
			}
			w.deps.Logger.Warn("ice server fetch failed, using configured servers", zap.Error(err))
		} else {
			servers = fetched
		}
	}
	w.mu.Lock()
	w.iceServers, w.ready = servers, true
	w.mu.Unlock()
	return nil
}

// MakeCall starts a call session. recipientID is only used as the partner label fallback.
func (w *WebRTC) MakeCall(ctx context.Context, sessionID, recipientID string, opts CallOptions) error {
	w.mu.Lock()
	ready, servers := w.ready, w.iceServers
	w.mu.Unlock()
	if !ready {
		return &InitError{Provider: NameWebRTC, Err: ErrNotInitialized}
	}

	ctrlCfg := w.deps.Controller
	ctrlCfg.ICEServers = servers
	callOpts := w.deps.Call
	callOpts.SessionID = sessionID
	callOpts.Role = opts.Role
	if callOpts.Role == "" {
		callOpts.Role = models.RoleInitiator
	}
	callOpts.PartnerLabel = opts.PartnerLabel
	if callOpts.PartnerLabel == "" {
		callOpts.PartnerLabel = recipientID
	}
	callOpts.Provider = NameWebRTC
	callOpts.ProviderAttempts = append(append([]string(nil), opts.Attempts...), NameWebRTC)

	d := w.deps
	newController := func(onEvent func(rtc.Event)) call.MediaController {
		options := []rtc.Option{rtc.WithEventHandler(onEvent), rtc.WithLogger(d.Logger)}
		if d.Speaker != nil {
			options = append(options, rtc.WithSpeaker(d.Speaker))
		}
		return rtc.NewController(ctrlCfg, d.Factory, d.Microphone, d.Transport, options...)
	}
	s := call.New(callOpts, call.Deps{
		Transport:     d.Transport,
		NewController: newController,
		Reporter:      d.Reporter,
		Diagnostics:   d.Diagnostics,
		Observer:      d.Observer,
		Logger:        d.Logger,
	})
	if err := w.surface.Start(ctx, s); err != nil {
		return initError(NameWebRTC, err)
	}
	return nil
}

// Session returns the current call session, or nil.
func (w *WebRTC) Session() *call.Session { return w.surface.Active() }

// EndCall hangs up and waits for teardown.
func (w *WebRTC) EndCall(ctx context.Context) error {
	s := w.surface.Active()
	if s == nil {
		return nil
	}
	s.Hangup()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Live reports whether the current session is still Connecting or Connected.
func (w *WebRTC) Live() bool {
	s := w.surface.Active()
	return s != nil && !s.State().Terminal()
}

// ToggleMute flips the microphone of the live call.
func (w *WebRTC) ToggleMute() (bool, error) {
	s := w.surface.Active()
	if s == nil || s.State().Terminal() {
		return false, ErrNoActiveCall
	}
	return s.ToggleMute(), nil
}
