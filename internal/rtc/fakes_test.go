package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

type fakeStream struct {
	mu      sync.Mutex
	enabled bool
	stops   int
	track   webrtc.TrackLocal
}

func (s *fakeStream) Track() webrtc.TrackLocal { return s.track }
func (s *fakeStream) SetEnabled(e bool)        { s.mu.Lock(); s.enabled = e; s.mu.Unlock() }
func (s *fakeStream) Enabled() bool            { s.mu.Lock(); defer s.mu.Unlock(); return s.enabled }
func (s *fakeStream) Stop()                    { s.mu.Lock(); s.stops++; s.mu.Unlock() }

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Acquire(context.Context, AudioConstraints) (LocalStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func newFakeMic() *fakeMic { return &fakeMic{stream: &fakeStream{enabled: true}} }

type fakePC struct {
	mu          sync.Mutex
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	added       []webrtc.ICECandidateInit
	closes      int
	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
	remoteErr   error
}

func (p *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (p *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	if p.remote != nil {
		return errors.New("remote description already set")
	}
	p.remote = &d
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.added = append(p.added, c)
	return nil
}

func (p *fakePC) OnICECandidate(f func(*webrtc.ICECandidate))            { p.onCandidate = f }
func (p *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}
func (p *fakePC) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.onState = f
}
func (p *fakePC) GetStats() webrtc.StatsReport { return webrtc.StatsReport{} }

func (p *fakePC) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakePC) addedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.added...)
}

func fakeFactory(pc *fakePC) PeerConnectionFactory {
	return func(webrtc.Configuration) (PeerConnection, error) { return pc, nil }
}
