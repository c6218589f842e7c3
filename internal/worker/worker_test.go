package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/pkg/queue"
)

func job(t *testing.T, typ queue.JobType, payload any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Type: typ, Payload: raw, CreatedAt: time.Now()}
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	body []byte
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.keys = append(u.keys, key)
	u.body, _ = io.ReadAll(body)
	return "https://bucket/" + key, nil
}

func TestStatusWebhookIsSigned(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProcessor(nil, nil, Options{WebhookURL: srv.URL, WebhookSecret: "s3cret", HTTPClient: srv.Client()}, zaptest.NewLogger(t))
	ev := models.CallStatusEvent{SessionID: "s1", Status: models.CallStatusConnected, Provider: "webrtc"}
	require.NoError(t, p.Process(context.Background(), job(t, queue.JobTypeStatusWebhook, queue.StatusWebhookPayload{Event: ev})))

	assert.Equal(t, Sign("s3cret", gotBody), gotSig)
	var decoded models.CallStatusEvent
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "s1", decoded.SessionID)
}

func TestStatusWebhookFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProcessor(nil, nil, Options{WebhookURL: srv.URL, HTTPClient: srv.Client()}, zaptest.NewLogger(t))
	err := p.Process(context.Background(), job(t, queue.JobTypeStatusWebhook, queue.StatusWebhookPayload{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDiagnosticsArchived(t *testing.T) {
	up := &fakeUploader{}
	p := NewProcessor(nil, up, Options{}, zaptest.NewLogger(t))
	payload := queue.DiagnosticsPayload{ReportedBy: "u1", Diagnostics: models.CallDiagnostics{SessionID: "s1", FinalState: models.CallStateFailed}}
	require.NoError(t, p.Process(context.Background(), job(t, queue.JobTypeCallDiagnostics, payload)))

	require.Len(t, up.keys, 1)
	assert.True(t, strings.HasPrefix(up.keys[0], "diagnostics/s1/"))
	assert.True(t, strings.HasSuffix(up.keys[0], ".json"))
	var stored queue.DiagnosticsPayload
	require.NoError(t, json.Unmarshal(up.body, &stored))
	assert.Equal(t, models.CallStateFailed, stored.Diagnostics.FinalState)
}

func TestUnknownJobType(t *testing.T) {
	p := NewProcessor(nil, nil, Options{}, nil)
	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: "nope"}))
}

type fakeJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (f *fakeJobs) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		j := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return j, queue.KeyFor(j.Type), nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, "", nil
	}
}

func (f *fakeJobs) Retry(_ context.Context, j *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.Attempt++
	f.retried = append(f.retried, j)
	return nil
}

func (f *fakeJobs) retries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retried)
}

func TestRunRetriesFailedJobs(t *testing.T) {
	jobs := &fakeJobs{}
	jobs.pending = []*queue.Job{
		job(t, queue.JobTypeCallDiagnostics, queue.DiagnosticsPayload{Diagnostics: models.CallDiagnostics{SessionID: "s1"}}),
	}
	p := NewProcessor(jobs, &fakeUploader{err: errors.New("s3 down")}, Options{Backoff: time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return jobs.retries() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakePurger) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, nil
}

func (f *fakePurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestRunRetention(t *testing.T) {
	p := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunRetention(ctx, p, time.Hour, 5*time.Millisecond, zaptest.NewLogger(t))
		close(done)
	}()
	require.Eventually(t, func() bool { return p.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(-time.Hour), p.cutoffs[0], time.Second)

	// disabled retention returns at once
	RunRetention(context.Background(), &fakePurger{}, 0, time.Millisecond, nil)
}
