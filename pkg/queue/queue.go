package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
)

const (
	// QueueStatus is the Redis list key for status webhook jobs.
	QueueStatus = "worker:status"
	// QueueDiagnostics is the Redis list key for diagnostics archival jobs.
	QueueDiagnostics = "worker:diagnostics"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// dequeueTimeout bounds one BLPOP so shutdown is noticed.
	dequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeStatusWebhook   JobType = "status_webhook"
	JobTypeCallDiagnostics JobType = "call_diagnostics"
)

// StatusWebhookPayload forwards a recorded status to the session-management webhook.
type StatusWebhookPayload struct {
	Event models.CallStatusEvent `json:"event"`
}

// DiagnosticsPayload is one diagnostics document to archive.
type DiagnosticsPayload struct {
	ReportedBy  string                 `json:"reported_by"`
	ReceivedAt  time.Time              `json:"received_at"`
	Diagnostics models.CallDiagnostics `json:"diagnostics"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// KeyFor returns the list a job type lives on.
func KeyFor(t JobType) string {
	if t == JobTypeCallDiagnostics {
		return QueueDiagnostics
	}
	return QueueStatus
}

// EnqueueStatusWebhook enqueues a status webhook job.
func (q *Queue) EnqueueStatusWebhook(ctx context.Context, payload StatusWebhookPayload) error {
	job, err := q.enqueue(ctx, JobTypeStatusWebhook, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued status webhook job", zap.String("job_id", job.ID), zap.String("session_id", payload.Event.SessionID))
	return nil
}

// EnqueueDiagnostics enqueues a diagnostics archival job.
func (q *Queue) EnqueueDiagnostics(ctx context.Context, payload DiagnosticsPayload) error {
	job, err := q.enqueue(ctx, JobTypeCallDiagnostics, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued diagnostics job", zap.String("job_id", job.ID), zap.String("session_id", payload.Diagnostics.SessionID))
	return nil
}

func (q *Queue) enqueue(ctx context.Context, t JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, KeyFor(t), raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// Dequeue blocks until a job is available on any queue, the poll window passes or ctx
// is done. Returns job and key (queue name); a nil job with nil error means try again.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, dequeueTimeout, QueueStatus, QueueDiagnostics).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, KeyFor(job.Type), raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
