package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/signaling"
)

const (
	defaultPostAttempts = 3
	defaultPostBackoff  = 200 * time.Millisecond
	candidateQueueSize  = 64
)

// Config configures a Controller.
type Config struct {
	ICEServers   []webrtc.ICEServer
	Audio        AudioConstraints
	PostAttempts int
	PostBackoff  time.Duration
}

// EventKind is the kind of a controller event.
type EventKind int

const (
	// EventRemoteTrack fires when the partner's audio arrives.
	EventRemoteTrack EventKind = iota
	// EventConnectionState fires on every peer connection state change.
	EventConnectionState
)

// Event is delivered to the controller's event handler. Handlers run on pion
// goroutines and must not block.
type Event struct {
	Kind  EventKind
	State webrtc.PeerConnectionState
	Track *webrtc.TrackRemote
}

// Speaker receives decoded remote RTP payloads while the speaker is on.
type Speaker interface {
	Play(payload []byte)
}

// Controller owns the media session of one call: local capture, the peer
// connection and the offer/answer/candidate exchange over a signaling Transport.
type Controller struct {
	cfg       Config
	factory   PeerConnectionFactory
	mic       Microphone
	transport signaling.Transport
	speaker   Speaker
	onEvent   func(Event)
	logger    *zap.Logger

	mu         sync.Mutex
	role       models.Role
	sessionID  string
	pc         PeerConnection
	stream     LocalStream
	remoteSet  bool
	pending    []webrtc.ICECandidateInit
	lastSeen   int64
	muted      bool
	speakerOn  bool
	disposed   bool
	candidates chan webrtc.ICECandidateInit

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	disposeOnce sync.Once
}

// Option configures optional Controller collaborators.
type Option func(*Controller)

// WithEventHandler sets the handler for remote track and connection state events.
func WithEventHandler(f func(Event)) Option {
	return func(c *Controller) { c.onEvent = f }
}

// WithSpeaker routes remote audio to s.
func WithSpeaker(s Speaker) Option {
	return func(c *Controller) { c.speaker = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a controller. Nothing is acquired until Initialize.
func NewController(cfg Config, factory PeerConnectionFactory, mic Microphone, transport signaling.Transport, opts ...Option) *Controller {
	if cfg.PostAttempts < 1 {
		cfg.PostAttempts = defaultPostAttempts
	}
	if cfg.PostBackoff <= 0 {
		cfg.PostBackoff = defaultPostBackoff
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = DefaultAudioConstraints()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		factory:    factory,
		mic:        mic,
		transport:  transport,
		logger:     zap.NewNop(),
		speakerOn:  true,
		candidates: make(chan webrtc.ICECandidateInit, candidateQueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initialize acquires the microphone, creates the peer connection and, for the
// initiator, posts the offer. On error everything acquired so far is released.
func (c *Controller) Initialize(ctx context.Context, role models.Role, sessionID string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if c.pc != nil {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.role = role
	c.sessionID = sessionID
	c.mu.Unlock()

	stream, err := c.mic.Acquire(ctx, c.cfg.Audio)
	if err != nil {
		var me *MediaError
		if errors.As(err, &me) {
			return err
		}
		return &MediaError{Kind: MediaDeviceError, Err: err}
	}

	pc, err := c.factory(webrtc.Configuration{ICEServers: c.cfg.ICEServers})
	if err != nil {
		stream.Stop()
		return &PeerConnectionError{Op: "create", Err: err}
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		stream.Stop()
		_ = pc.Close()
		return ErrNotInitialized
	}
	c.pc = pc
	c.stream = stream
	c.wg.Add(1)
	c.mu.Unlock()
	go c.sendCandidates()

	if _, err := pc.AddTrack(stream.Track()); err != nil {
		c.Dispose()
		return &PeerConnectionError{Op: "add track", Err: err}
	}
	pc.OnICECandidate(c.handleLocalCandidate)
	pc.OnTrack(c.handleRemoteTrack)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.emit(Event{Kind: EventConnectionState, State: s})
	})

	c.logger.Info("peer connection created", zap.String("session_id", sessionID), zap.String("role", string(role)))
	if role != models.RoleInitiator {
		return nil
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		c.Dispose()
		return &PeerConnectionError{Op: "create offer", Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.Dispose()
		return &PeerConnectionError{Op: "set local offer", Err: err}
	}
	if err := c.post(ctx, models.EnvelopeOffer, models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}); err != nil {
		c.Dispose()
		return err
	}
	return nil
}

// HandleEnvelope applies one envelope from the partner. Envelopes already seen,
// envelopes from our own role and envelopes the role does not expect are ignored.
// Candidate failures are logged and dropped; description failures are returned.
func (c *Controller) HandleEnvelope(ctx context.Context, env models.Envelope) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	if c.pc == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if env.ID != 0 {
		if env.ID <= c.lastSeen {
			c.mu.Unlock()
			return nil
		}
		c.lastSeen = env.ID
	}
	if env.From != "" && env.From == c.role {
		c.mu.Unlock()
		return nil
	}

	switch env.Type {
	case models.EnvelopeOffer:
		answer, err := c.applyOfferLocked(env)
		c.mu.Unlock()
		if err != nil || answer == nil {
			return err
		}
		return c.post(ctx, models.EnvelopeAnswer, *answer)
	case models.EnvelopeAnswer:
		defer c.mu.Unlock()
		return c.applyAnswerLocked(env)
	case models.EnvelopeICECandidate:
		defer c.mu.Unlock()
		c.applyCandidateLocked(env)
		return nil
	default:
		c.mu.Unlock()
		c.logger.Warn("unknown envelope type", zap.String("type", string(env.Type)), zap.Int64("id", env.ID))
		return nil
	}
}

func (c *Controller) applyOfferLocked(env models.Envelope) (*models.SessionDescription, error) {
	if c.role != models.RoleResponder {
		c.logger.Warn("offer ignored by initiator", zap.String("session_id", c.sessionID), zap.Int64("id", env.ID))
		return nil, nil
	}
	if c.remoteSet {
		c.logger.Debug("duplicate offer ignored", zap.Int64("id", env.ID))
		return nil, nil
	}
	var sd models.SessionDescription
	if err := json.Unmarshal(env.Data, &sd); err != nil {
		return nil, &PeerConnectionError{Op: "decode offer", Err: err}
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sd.SDP}); err != nil {
		return nil, &PeerConnectionError{Op: "set remote offer", Err: err}
	}
	c.remoteSet = true
	c.flushPendingLocked()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, &PeerConnectionError{Op: "create answer", Err: err}
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, &PeerConnectionError{Op: "set local answer", Err: err}
	}
	return &models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *Controller) applyAnswerLocked(env models.Envelope) error {
	if c.role != models.RoleInitiator {
		c.logger.Warn("answer ignored by responder", zap.String("session_id", c.sessionID), zap.Int64("id", env.ID))
		return nil
	}
	// Stable after the first answer; a second one would fail in SetRemoteDescription.
	if c.remoteSet {
		c.logger.Debug("duplicate answer ignored", zap.Int64("id", env.ID))
		return nil
	}
	var sd models.SessionDescription
	if err := json.Unmarshal(env.Data, &sd); err != nil {
		return &PeerConnectionError{Op: "decode answer", Err: err}
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sd.SDP}); err != nil {
		return &PeerConnectionError{Op: "set remote answer", Err: err}
	}
	c.remoteSet = true
	c.flushPendingLocked()
	return nil
}

func (c *Controller) applyCandidateLocked(env models.Envelope) {
	var ic models.ICECandidate
	if err := json.Unmarshal(env.Data, &ic); err != nil {
		c.logger.Warn("malformed ice candidate", zap.Int64("id", env.ID), zap.Error(err))
		return
	}
	init := webrtc.ICECandidateInit{Candidate: ic.Candidate, SDPMid: ic.SDPMid, SDPMLineIndex: ic.SDPMLineIndex}
	if !c.remoteSet {
		c.pending = append(c.pending, init)
		return
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		c.logger.Warn("add ice candidate failed", zap.Int64("id", env.ID), zap.Error(err))
	}
}

func (c *Controller) flushPendingLocked() {
	for _, init := range c.pending {
		if err := c.pc.AddICECandidate(init); err != nil {
			c.logger.Warn("add buffered ice candidate failed", zap.Error(err))
		}
	}
	c.pending = nil
}

func (c *Controller) handleLocalCandidate(cand *webrtc.ICECandidate) {
	if cand == nil {
		return
	}
	init := cand.ToJSON()
	select {
	case c.candidates <- init:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("local candidate queue full, dropping candidate")
	}
}

// sendCandidates posts local candidates in gathering order.
func (c *Controller) sendCandidates() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case init := <-c.candidates:
			payload := models.ICECandidate{Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex}
			if err := c.post(c.ctx, models.EnvelopeICECandidate, payload); err != nil && c.ctx.Err() == nil {
				c.logger.Warn("post ice candidate failed", zap.String("session_id", c.sessionID), zap.Error(err))
			}
		}
	}
}

func (c *Controller) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("remote track received", zap.String("session_id", c.sessionID), zap.String("codec", track.Codec().MimeType))
	c.emit(Event{Kind: EventRemoteTrack, Track: track})
	go c.playRemote(track)
}

// playRemote drains the remote track until the connection closes.
func (c *Controller) playRemote(track *webrtc.TrackRemote) {
	defer c.wg.Done()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		c.mu.Lock()
		on := c.speakerOn
		c.mu.Unlock()
		if on && c.speaker != nil {
			c.speaker.Play(pkt.Payload)
		}
	}
}

func (c *Controller) post(ctx context.Context, typ models.EnvelopeType, payload any) error {
	c.mu.Lock()
	sessionID, role := c.sessionID, c.role
	c.mu.Unlock()
	_, err := signaling.PostWithRetry(ctx, c.transport, c.cfg.PostAttempts, c.cfg.PostBackoff, sessionID, role, typ, payload)
	return err
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// ToggleMute flips the local track's enabled flag and returns the new muted state.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = !c.muted
	if c.stream != nil {
		c.stream.SetEnabled(!c.muted)
	}
	return c.muted
}

// SetSpeaker turns remote audio playback on or off.
func (c *Controller) SetSpeaker(on bool) {
	c.mu.Lock()
	c.speakerOn = on
	c.mu.Unlock()
}

// RemoteDescriptionSet reports whether the partner's description has been applied.
func (c *Controller) RemoteDescriptionSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

// PendingCandidates is the number of remote candidates waiting for the description.
func (c *Controller) PendingCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns the peer connection statistics, nil before Initialize or after Dispose.
func (c *Controller) Stats() webrtc.StatsReport {
	c.mu.Lock()
	pc, disposed := c.pc, c.disposed
	c.mu.Unlock()
	if pc == nil || disposed {
		return nil
	}
	return pc.GetStats()
}

// Dispose stops the capture stream and closes the peer connection. It is safe to
// call any number of times and from any goroutine.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.disposed = true
		pc, stream := c.pc, c.stream
		c.pending = nil
		c.mu.Unlock()

		c.cancel()
		if stream != nil {
			stream.Stop()
		}
		if pc != nil {
			if err := pc.Close(); err != nil {
				c.logger.Warn("close peer connection failed", zap.Error(err))
			}
		}
		c.wg.Wait()
		c.logger.Info("peer connection disposed", zap.String("session_id", c.sessionID))
	})
}
