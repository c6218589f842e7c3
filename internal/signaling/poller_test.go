package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/peerline/backend/internal/models"
)

type flakyFetcher struct {
	mu      sync.Mutex
	store   Store
	failFor int
	cursors []int64
}

func (f *flakyFetcher) FetchEnvelopesSince(ctx context.Context, sessionID string, lastID int64) ([]models.Envelope, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, lastID)
	fail := f.failFor > 0
	if fail {
		f.failFor--
	}
	f.mu.Unlock()
	if fail {
		return nil, &TransportError{Op: "fetch", SessionID: sessionID, Err: errors.New("connection refused")}
	}
	return f.store.ListSince(ctx, sessionID, lastID)
}

func TestPollerCountsConsecutiveFailures(t *testing.T) {
	store := NewMemoryStore()
	appendN(t, store, "S1", 2)
	f := &flakyFetcher{store: store, failFor: 3}
	p := NewPoller(f, "S1", time.Millisecond, zaptest.NewLogger(t))

	for i := 1; i <= 3; i++ {
		b := p.Poll(context.Background())
		require.Error(t, b.Err)
		assert.Equal(t, i, b.Failures)
	}
	b := p.Poll(context.Background())
	require.NoError(t, b.Err)
	assert.Equal(t, 0, b.Failures)
	assert.Len(t, b.Envelopes, 2)
	assert.Equal(t, int64(0), p.Cursor(), "cursor moves only on Advance")

	p.Advance(b)
	assert.Equal(t, int64(2), p.Cursor())
}

func TestPollerRunDeliversInOrderAndResumes(t *testing.T) {
	store := NewMemoryStore()
	f := &flakyFetcher{store: store, failFor: 1}
	p := NewPoller(f, "S1", 5*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Batch)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, out)
		close(done)
	}()

	first := <-out
	require.Error(t, first.Err)
	assert.Equal(t, 1, first.Failures)

	recovered := <-out
	require.NoError(t, recovered.Err)
	assert.Empty(t, recovered.Envelopes)

	for _, sdp := range []string{"A", "B"} {
		data, _ := json.Marshal(models.SessionDescription{SDP: sdp})
		require.NoError(t, store.Append(ctx, &models.Envelope{SessionID: "S1", Type: models.EnvelopeOffer, Data: data}))
	}

	var seen []int64
	for len(seen) < 2 {
		b := <-out
		require.NoError(t, b.Err)
		for _, env := range b.Envelopes {
			seen = append(seen, env.ID)
		}
	}
	assert.Equal(t, []int64{1, 2}, seen)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
	assert.Equal(t, int64(2), p.Cursor())
}

func TestPostWithRetry(t *testing.T) {
	calls := 0
	tr := transportFunc(func() (int64, error) {
		calls++
		if calls < 3 {
			return 0, &TransportError{Op: "post", Err: errors.New("timeout")}
		}
		return 7, nil
	})
	id, err := PostWithRetry(context.Background(), tr, 3, time.Millisecond, "S1", models.RoleInitiator, models.EnvelopeOffer, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 3, calls)

	calls = -10
	_, err = PostWithRetry(context.Background(), tr, 2, time.Millisecond, "S1", models.RoleInitiator, models.EnvelopeOffer, json.RawMessage(`{}`))
	assert.True(t, IsTransportError(err))
}

type transportFunc func() (int64, error)

func (f transportFunc) PostEnvelope(context.Context, string, models.Role, models.EnvelopeType, any) (int64, error) {
	return f()
}

func (f transportFunc) FetchEnvelopesSince(context.Context, string, int64) ([]models.Envelope, error) {
	return nil, nil
}
