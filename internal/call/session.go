package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/rtc"
	"github.com/peerline/backend/internal/signaling"
)

// ProviderWebRTC is the provider name reported for the raw peer connection path.
const ProviderWebRTC = "webrtc"

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("call already started")

// MediaController is the peer connection side of a call. *rtc.Controller implements it.
type MediaController interface {
	Initialize(ctx context.Context, role models.Role, sessionID string) error
	HandleEnvelope(ctx context.Context, env models.Envelope) error
	ToggleMute() bool
	SetSpeaker(on bool)
	Stats() webrtc.StatsReport
	Dispose()
}

// ControllerFactory builds the controller for one call, delivering its events to onEvent.
type ControllerFactory func(onEvent func(rtc.Event)) MediaController

// StatusReporter forwards lifecycle status to the surrounding application.
// Report must not block; delivery failures are the reporter's concern.
type StatusReporter interface {
	Report(status models.CallStatus)
}

// DiagnosticsSink receives the diagnostics of a finished call. Submit must not block.
type DiagnosticsSink interface {
	Submit(d models.CallDiagnostics)
}

// Snapshot is what the UI renders.
type Snapshot struct {
	models.CallSession
	Duration     time.Duration `json:"duration"`
	PollFailures int           `json:"poll_failures"`
}

// Options describe one call attempt.
type Options struct {
	SessionID       string
	Role            models.Role
	PartnerLabel    string
	Provider        string
	PollInterval    time.Duration
	MaxPollFailures int
	QualityInterval time.Duration
	// ConnectTimeout fails a call stuck in Connecting. Zero disables it.
	ConnectTimeout   time.Duration
	Thresholds       QualityThresholds
	ProviderAttempts []string
}

// Deps are the collaborators of a Session. Transport and NewController are required.
type Deps struct {
	Transport     signaling.Transport
	NewController ControllerFactory
	Reporter      StatusReporter
	Diagnostics   DiagnosticsSink
	Observer      func(Snapshot)
	Logger        *zap.Logger
	Now           func() time.Time
}

type commandKind int

const (
	cmdHangup commandKind = iota
	cmdMute
	cmdSpeaker
)

type command struct {
	kind  commandKind
	reply chan bool
}

// Session runs one call attempt. All state changes happen on a single event loop
// goroutine fed by the poller, the peer connection and user commands.
type Session struct {
	opts Options
	deps Deps
	log  *zap.Logger

	mu      sync.Mutex
	machine *Machine
	snap    Snapshot

	ctrl        MediaController
	disposeOnce sync.Once
	sampler     qualitySampler
	samples     []models.QualitySample
	pollFails   int
	degraded    bool

	started  atomic.Bool
	loopCtx  context.Context
	cancel   context.CancelFunc
	batches  chan signaling.Batch
	events   chan rtc.Event
	commands chan command
	pollWG   sync.WaitGroup
	done     chan struct{}

	setupTimer    *time.Timer
	durationTick  *time.Ticker
	qualityTicker *time.Ticker
}

// New creates a session in Connecting. Nothing runs until Start.
func New(opts Options, deps Deps) *Session {
	if opts.Provider == "" {
		opts.Provider = ProviderWebRTC
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = 3
	}
	if opts.QualityInterval <= 0 {
		opts.QualityInterval = 5 * time.Second
	}
	if opts.Thresholds == (QualityThresholds{}) {
		opts.Thresholds = DefaultQualityThresholds()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		opts:     opts,
		deps:     deps,
		log:      log.With(zap.String("session_id", opts.SessionID), zap.String("role", string(opts.Role))),
		machine:  NewMachine(deps.Now),
		sampler:  qualitySampler{thresholds: opts.Thresholds},
		batches:  make(chan signaling.Batch),
		events:   make(chan rtc.Event, 16),
		commands: make(chan command),
		done:     make(chan struct{}),
	}
	s.snap = Snapshot{CallSession: models.CallSession{
		SessionID:         opts.SessionID,
		Role:              opts.Role,
		PartnerLabel:      opts.PartnerLabel,
		State:             models.CallStateConnecting,
		ConnectionQuality: models.QualityGood,
		Speaker:           true,
	}}
	return s
}

// Start initializes the media controller and starts the event loop. A failed
// initialization leaves the session Failed and returns the cause. Cancelling ctx
// hangs up.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.loopCtx, s.cancel = context.WithCancel(ctx)
	s.publish()

	s.ctrl = s.deps.NewController(s.onPeerEvent)
	if err := s.ctrl.Initialize(ctx, s.opts.Role, s.opts.SessionID); err != nil {
		s.log.Warn("call initialization failed", zap.Error(err))
		s.fail(ReasonFor(err), err)
		return err
	}
	s.log.Info("call connecting", zap.String("provider", s.opts.Provider))

	if s.opts.ConnectTimeout > 0 {
		s.setupTimer = time.NewTimer(s.opts.ConnectTimeout)
	}
	poller := signaling.NewPoller(s.deps.Transport, s.opts.SessionID, s.opts.PollInterval, s.log)
	s.pollWG.Add(1)
	go func() {
		defer s.pollWG.Done()
		poller.Run(s.loopCtx, s.batches)
	}()
	go s.run()
	return nil
}

// Done is closed once the call reaches Ended or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the current view of the call.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.Duration = snap.CallSession.Duration(s.deps.Now())
	return snap
}

// State returns the current lifecycle state.
func (s *Session) State() models.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Hangup ends a connected call, or abandons one still connecting.
func (s *Session) Hangup() { s.send(cmdHangup) }

// ToggleMute flips the microphone and returns the new muted state.
func (s *Session) ToggleMute() bool { return s.send(cmdMute) }

// ToggleSpeaker flips remote audio playback and returns the new speaker state.
func (s *Session) ToggleSpeaker() bool { return s.send(cmdSpeaker) }

func (s *Session) send(kind commandKind) bool {
	if !s.started.Load() {
		return s.current(kind)
	}
	cmd := command{kind: kind, reply: make(chan bool, 1)}
	select {
	case s.commands <- cmd:
		return <-cmd.reply
	case <-s.done:
		return s.current(kind)
	}
}

func (s *Session) current(kind commandKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case cmdMute:
		return s.snap.Muted
	case cmdSpeaker:
		return s.snap.Speaker
	}
	return false
}

// onPeerEvent runs on pion goroutines.
func (s *Session) onPeerEvent(ev rtc.Event) {
	select {
	case s.events <- ev:
	case <-s.loopCtx.Done():
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.loopCtx.Done():
			s.abandon()
		case b := <-s.batches:
			s.handleBatch(b)
		case ev := <-s.events:
			s.handlePeerEvent(ev)
		case cmd := <-s.commands:
			cmd.reply <- s.handleCommand(cmd)
		case <-timerC(s.setupTimer):
			if s.State() == models.CallStateConnecting {
				s.log.Warn("call setup timed out", zap.Duration("timeout", s.opts.ConnectTimeout))
				s.fail(ReasonSetupTimeout, nil)
			}
		case <-tickerC(s.durationTick):
			s.publish()
		case <-tickerC(s.qualityTicker):
			s.sampleQuality()
		}
	}
}

func (s *Session) handleBatch(b signaling.Batch) {
	if b.Err != nil {
		s.mu.Lock()
		s.pollFails++
		s.snap.PollFailures = s.pollFails
		s.mu.Unlock()
		if b.Failures >= s.opts.MaxPollFailures && !s.degraded {
			s.degraded = true
			s.log.Warn("signaling unreachable, quality degraded", zap.Int("consecutive_failures", b.Failures))
			s.setQuality(models.QualityPoor)
		}
		return
	}
	s.degraded = false
	for _, env := range b.Envelopes {
		if err := s.ctrl.HandleEnvelope(s.loopCtx, env); err != nil {
			if s.loopCtx.Err() != nil {
				return
			}
			s.log.Warn("envelope rejected", zap.Int64("id", env.ID), zap.String("type", string(env.Type)), zap.Error(err))
			s.fail(ReasonFor(err), err)
			return
		}
	}
}

func (s *Session) handlePeerEvent(ev rtc.Event) {
	if ev.Kind == rtc.EventRemoteTrack {
		s.log.Info("remote audio started")
		return
	}
	state := s.State()
	s.log.Debug("peer connection state", zap.String("peer_state", ev.State.String()))
	switch ev.State {
	case webrtc.PeerConnectionStateConnected:
		if state == models.CallStateConnecting {
			s.connect()
		}
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		if state == models.CallStateConnected {
			s.fail(ReasonConnectionLost, nil)
		} else if ev.State == webrtc.PeerConnectionStateFailed {
			s.fail(ReasonConnectionFailed, nil)
		}
	case webrtc.PeerConnectionStateClosed:
		if state == models.CallStateConnected {
			s.end()
		} else {
			s.fail(ReasonConnectionFailed, nil)
		}
	}
}

func (s *Session) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdMute:
		muted := s.ctrl.ToggleMute()
		s.mu.Lock()
		s.snap.Muted = muted
		s.mu.Unlock()
		s.publish()
		return muted
	case cmdSpeaker:
		s.mu.Lock()
		s.snap.Speaker = !s.snap.Speaker
		on := s.snap.Speaker
		s.mu.Unlock()
		s.ctrl.SetSpeaker(on)
		s.publish()
		return on
	default:
		s.abandon()
		return false
	}
}

// abandon is a user hangup: Ended once connected, Failed(cancelled) before.
func (s *Session) abandon() {
	if s.State() == models.CallStateConnected {
		s.end()
		return
	}
	s.fail(ReasonCancelled, nil)
}

func (s *Session) connect() {
	now := s.deps.Now().UTC()
	s.mu.Lock()
	if _, err := s.machine.Transition(models.CallStateConnected); err != nil {
		s.mu.Unlock()
		s.log.Error("connect transition rejected", zap.Error(err))
		return
	}
	s.snap.State = models.CallStateConnected
	s.snap.StartedAt = &now
	s.mu.Unlock()

	if s.setupTimer != nil {
		s.setupTimer.Stop()
		s.setupTimer = nil
	}
	s.durationTick = time.NewTicker(time.Second)
	s.qualityTicker = time.NewTicker(s.opts.QualityInterval)
	s.log.Info("call connected")
	s.report(models.CallStatusConnected, "")
	s.publish()
}

func (s *Session) sampleQuality() {
	report := s.ctrl.Stats()
	if report == nil {
		return
	}
	sample := s.sampler.sample(report, s.deps.Now())
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
	q := sample.Quality
	if s.degraded {
		q = models.QualityPoor
	}
	s.setQuality(q)
}

func (s *Session) setQuality(q models.ConnectionQuality) {
	s.mu.Lock()
	changed := s.snap.ConnectionQuality != q
	s.snap.ConnectionQuality = q
	s.mu.Unlock()
	if changed {
		s.publish()
	}
}

func (s *Session) end() {
	s.terminate(models.CallStateEnded, "", nil)
}

func (s *Session) fail(reason FailureReason, cause error) {
	s.terminate(models.CallStateFailed, reason, cause)
}

// terminate is the single exit path: it records the transition, stops every timer
// and the poller, disposes the controller once, then reports.
func (s *Session) terminate(to models.CallState, reason FailureReason, cause error) {
	now := s.deps.Now().UTC()
	s.mu.Lock()
	if _, err := s.machine.Transition(to); err != nil {
		s.mu.Unlock()
		return
	}
	s.snap.State = to
	s.snap.EndedAt = &now
	if reason != "" {
		s.snap.FailureReason = string(reason)
		s.snap.FailureMessage = reason.Message()
	}
	s.mu.Unlock()

	for _, t := range []*time.Ticker{s.durationTick, s.qualityTicker} {
		if t != nil {
			t.Stop()
		}
	}
	if s.setupTimer != nil {
		s.setupTimer.Stop()
	}
	s.cancel()
	s.disposeOnce.Do(s.ctrl.Dispose)
	s.pollWG.Wait()

	fields := []zap.Field{zap.String("state", string(to))}
	if reason != "" {
		fields = append(fields, zap.String("reason", string(reason)))
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.log.Info("call finished", fields...)

	if to == models.CallStateEnded {
		s.report(models.CallStatusDisconnected, "")
	} else {
		s.report(models.CallStatusError, string(reason))
	}
	if s.deps.Diagnostics != nil {
		s.deps.Diagnostics.Submit(s.Diagnostics())
	}
	s.publish()
	close(s.done)
}

func (s *Session) report(status models.CallStatusValue, errText string) {
	if s.deps.Reporter == nil {
		return
	}
	s.deps.Reporter.Report(models.CallStatus{
		SessionID: s.opts.SessionID,
		Status:    status,
		Provider:  s.opts.Provider,
		Error:     errText,
	})
}

func (s *Session) publish() {
	if s.deps.Observer != nil {
		s.deps.Observer(s.Snapshot())
	}
}

// Diagnostics summarizes the attempt so far.
func (s *Session) Diagnostics() models.CallDiagnostics {
	snap := s.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CallDiagnostics{
		SessionID:        s.opts.SessionID,
		Provider:         s.opts.Provider,
		Role:             s.opts.Role,
		FinalState:       s.machine.State(),
		FailureReason:    snap.FailureReason,
		DurationSeconds:  int64(snap.Duration / time.Second),
		Transitions:      s.machine.History(),
		QualitySamples:   append([]models.QualitySample(nil), s.samples...),
		PollFailures:     s.pollFails,
		ProviderAttempts: s.opts.ProviderAttempts,
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
