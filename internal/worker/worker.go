package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/pkg/queue"
	"github.com/peerline/backend/pkg/storage"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

// JobSource is the queue side the worker consumes. *queue.Queue implements it.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Uploader stores archived documents. *storage.S3 implements it.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Options configure a Processor.
type Options struct {
	WebhookURL    string
	WebhookSecret string
	HTTPClient    *http.Client
	// Backoff is the pause after a failed job or dequeue. Defaults to queue.RetryBackoff.
	Backoff time.Duration
}

// Processor processes status webhook and diagnostics archive jobs.
type Processor struct {
	jobs     JobSource
	uploader Uploader
	opts     Options
	logger   *zap.Logger
}

// NewProcessor creates a job processor. uploader may be nil when no bucket is configured.
func NewProcessor(jobs JobSource, uploader Uploader, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = queue.RetryBackoff
	}
	return &Processor{jobs: jobs, uploader: uploader, opts: opts, logger: logger}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeStatusWebhook:
		var payload queue.StatusWebhookPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.deliverStatus(ctx, payload.Event)
	case queue.JobTypeCallDiagnostics:
		var payload queue.DiagnosticsPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.archiveDiagnostics(ctx, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) deliverStatus(ctx context.Context, ev models.CallStatusEvent) error {
	if p.opts.WebhookURL == "" {
		p.logger.Debug("no status webhook configured, dropping", zap.String("session_id", ev.SessionID))
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.opts.WebhookSecret != "" {
		req.Header.Set(SignatureHeader, Sign(p.opts.WebhookSecret, body))
	}
	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status: %d", resp.StatusCode)
	}
	p.logger.Info("status webhook delivered", zap.String("session_id", ev.SessionID), zap.String("status", string(ev.Status)))
	return nil
}

func (p *Processor) archiveDiagnostics(ctx context.Context, payload queue.DiagnosticsPayload) error {
	if p.uploader == nil {
		p.logger.Warn("no diagnostics bucket configured, dropping", zap.String("session_id", payload.Diagnostics.SessionID))
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	key := storage.DiagnosticsKey(payload.Diagnostics.SessionID, uuid.New().String())
	url, err := p.uploader.Upload(ctx, key, "application/json", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("diagnostics archived", zap.String("session_id", payload.Diagnostics.SessionID), zap.String("s3_key", key), zap.String("url", url))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("worker stopping")
			return
		}

		job, _, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
				p.pause(ctx)
			}
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.pause(ctx)
		}
	}
}

func (p *Processor) pause(ctx context.Context) {
	t := time.NewTimer(p.opts.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
