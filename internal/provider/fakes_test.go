package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/rtc"
)

type fakeProvider struct {
	name    string
	initErr error
	callErr error

	mu    sync.Mutex
	inits int
	calls []CallOptions
	ends  int
	muted bool
	live  bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Initialize(context.Context, Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	return p.initErr
}

func (p *fakeProvider) MakeCall(_ context.Context, _, _ string, opts CallOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, opts)
	p.live = p.callErr == nil
	return p.callErr
}

func (p *fakeProvider) EndCall(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ends++
	p.live = false
	return nil
}

func (p *fakeProvider) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// hangUpRemotely ends the call without going through the chain.
func (p *fakeProvider) hangUpRemotely() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = false
}

func (p *fakeProvider) ToggleMute() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = !p.muted
	return p.muted, nil
}

type recordingReporter struct {
	mu       sync.Mutex
	statuses []models.CallStatus
}

func (r *recordingReporter) Report(s models.CallStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingReporter) all() []models.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CallStatus(nil), r.statuses...)
}

// tokenServer serves canned credential responses in the server's envelope.
func tokenServer(t *testing.T, routes map[string]string) *TokenSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"success":false,"error":"provider not configured"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":` + body + `}`))
	}))
	t.Cleanup(srv.Close)
	return NewTokenSource(srv.URL, "tok", srv.Client())
}

type fakeStream struct {
	mu      sync.Mutex
	enabled bool
	stopped int
}

func (s *fakeStream) Track() webrtc.TrackLocal {
	track, _ := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	return track
}

func (s *fakeStream) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = on
}

func (s *fakeStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Acquire(context.Context, rtc.AudioConstraints) (rtc.LocalStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.stream.enabled = true
	return m.stream, nil
}

var errBoom = errors.New("boom")
