package callstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
)

const reporterQueueSize = 32

type delivery struct {
	path string
	body any
	desc string
}

// Reporter posts call status and diagnostics to the server in the background.
// Delivery failures are logged and never reach the caller.
type Reporter struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan delivery
	done   chan struct{}
}

// NewReporter starts a reporter for the server at baseURL.
func NewReporter(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Reporter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		baseURL: baseURL,
		token:   token,
		http:    httpClient,
		logger:  logger,
		queue:   make(chan delivery, reporterQueueSize),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Report queues a status callback.
func (r *Reporter) Report(s models.CallStatus) {
	r.push(delivery{path: "/calls/status", body: s, desc: "status " + string(s.Status)})
}

// Submit queues a diagnostics document.
func (r *Reporter) Submit(d models.CallDiagnostics) {
	r.push(delivery{path: "/calls/diagnostics", body: d, desc: "diagnostics"})
}

func (r *Reporter) push(d delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("reporter closed, dropping " + d.desc)
		return
	}
	select {
	case r.queue <- d:
	default:
		r.logger.Warn("reporter queue full, dropping " + d.desc)
	}
}

func (r *Reporter) loop() {
	defer close(r.done)
	for d := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := r.post(ctx, d.path, d.body); err != nil {
			r.logger.Warn("call report delivery failed", zap.String("what", d.desc), zap.Error(err))
		}
		cancel()
	}
}

func (r *Reporter) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting reports and waits for queued ones until ctx is done.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
