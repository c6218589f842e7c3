package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/peerline/backend/internal/models"
)

// testClient connects to REDIS_TEST_ADDR on a scratch database, skipping when unset.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background())
		_ = client.Close()
	})
	return client
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, QueueStatus, KeyFor(JobTypeStatusWebhook))
	assert.Equal(t, QueueDiagnostics, KeyFor(JobTypeCallDiagnostics))
}

func TestEnqueueDequeueRetry(t *testing.T) {
	client := testClient(t)
	q := NewQueue(client, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, q.EnqueueDiagnostics(ctx, DiagnosticsPayload{
		ReportedBy:  "user-1",
		ReceivedAt:  time.Now(),
		Diagnostics: models.CallDiagnostics{SessionID: "s-1", FinalState: models.CallStateEnded},
	}))

	job, key, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueDiagnostics, key)
	assert.Equal(t, JobTypeCallDiagnostics, job.Type)
	var p DiagnosticsPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "s-1", p.Diagnostics.SessionID)

	// retried onto its own queue until the attempts run out
	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		n, err := client.LLen(ctx, QueueDiagnostics).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		job, _, err = q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, job.Attempt)
	}
	require.NoError(t, q.Retry(ctx, job))
	n, err := client.LLen(ctx, QueueDLQ).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnqueueStatusWebhook(t *testing.T) {
	client := testClient(t)
	q := NewQueue(client, nil)
	ctx := context.Background()

	require.NoError(t, q.EnqueueStatusWebhook(ctx, StatusWebhookPayload{Event: models.CallStatusEvent{SessionID: "s-2", Status: models.CallStatusConnected}}))
	n, err := client.LLen(ctx, QueueStatus).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
