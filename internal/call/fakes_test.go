package call

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/rtc"
	"github.com/peerline/backend/internal/signaling"
)

type fakeController struct {
	mu        sync.Mutex
	onEvent   func(rtc.Event)
	initErr   error
	handleErr error
	handled   []models.Envelope
	muted     bool
	speaker   bool
	disposals int
	lost      int32
	lossStep  int32
}

func (c *fakeController) factory() ControllerFactory {
	return func(onEvent func(rtc.Event)) MediaController {
		c.mu.Lock()
		c.onEvent = onEvent
		c.mu.Unlock()
		return c
	}
}

func (c *fakeController) Initialize(context.Context, models.Role, string) error { return c.initErr }

func (c *fakeController) HandleEnvelope(_ context.Context, env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handled = append(c.handled, env)
	return c.handleErr
}

func (c *fakeController) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = !c.muted
	return c.muted
}

func (c *fakeController) SetSpeaker(on bool) {
	c.mu.Lock()
	c.speaker = on
	c.mu.Unlock()
}

func (c *fakeController) Stats() webrtc.StatsReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost += c.lossStep
	return webrtc.StatsReport{
		"inbound": webrtc.InboundRTPStreamStats{ID: "inbound", Type: webrtc.StatsTypeInboundRTP, PacketsLost: c.lost, PacketsReceived: 1000},
	}
}

func (c *fakeController) Dispose() {
	c.mu.Lock()
	c.disposals++
	c.mu.Unlock()
}

func (c *fakeController) emit(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	f := c.onEvent
	c.mu.Unlock()
	f(rtc.Event{Kind: rtc.EventConnectionState, State: state})
}

func (c *fakeController) disposeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposals
}

func (c *fakeController) handledEnvelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Envelope(nil), c.handled...)
}

// switchTransport serves from a store and fails fetches while failing is set.
type switchTransport struct {
	*signaling.LocalTransport
	failing atomic.Bool
}

func newSwitchTransport() *switchTransport {
	return &switchTransport{LocalTransport: &signaling.LocalTransport{Store: signaling.NewMemoryStore()}}
}

func (t *switchTransport) FetchEnvelopesSince(ctx context.Context, sessionID string, lastID int64) ([]models.Envelope, error) {
	if t.failing.Load() {
		return nil, &signaling.TransportError{Op: "fetch", SessionID: sessionID, Status: 503}
	}
	return t.LocalTransport.FetchEnvelopesSince(ctx, sessionID, lastID)
}

type recordingReporter struct {
	mu       sync.Mutex
	statuses []models.CallStatus
}

func (r *recordingReporter) Report(s models.CallStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recordingReporter) values() []models.CallStatusValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CallStatusValue, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s.Status)
	}
	return out
}

type diagnosticsSink chan models.CallDiagnostics

func (d diagnosticsSink) Submit(x models.CallDiagnostics) { d <- x }

type snapshotLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapshotLog) observe(s Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

func (l *snapshotLog) sawQuality(q models.ConnectionQuality) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.snaps {
		if s.ConnectionQuality == q {
			return true
		}
	}
	return false
}
