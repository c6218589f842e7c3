package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/pkg/database"
)

// testPool connects to PG_TEST_DSN and applies the migrations, skipping when unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool, zaptest.NewLogger(t)))
	return pool
}

// testSession returns a fresh session id whose rows are removed after the test.
func testSession(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM signaling_messages WHERE session_id = $1`, id)
		_, _ = pool.Exec(ctx, `DELETE FROM signaling_sequences WHERE session_id = $1`, id)
	})
	return id
}

func TestRepositoryConcurrentAppendsAreGapFree(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	session := testSession(t, pool)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env := &models.Envelope{
				SessionID: session,
				Type:      models.EnvelopeICECandidate,
				From:      models.RoleInitiator,
				Data:      json.RawMessage(fmt.Sprintf(`{"candidate":"c%d"}`, i)),
			}
			errs <- repo.Append(ctx, env)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := repo.ListSince(ctx, session, 0)
	require.NoError(t, err)
	require.Len(t, list, writers)
	for i, env := range list {
		assert.Equal(t, int64(i+1), env.ID)
		assert.Equal(t, models.RoleInitiator, env.From)
		assert.False(t, env.CreatedAt.IsZero())
	}

	tail, err := repo.ListSince(ctx, session, writers-3)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, int64(writers-2), tail[0].ID)
}

func TestRepositoryRoundTripsEnvelope(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	session := testSession(t, pool)
	ctx := context.Background()

	offer := &models.Envelope{SessionID: session, Type: models.EnvelopeOffer, Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
	require.NoError(t, repo.Append(ctx, offer))
	assert.Equal(t, int64(1), offer.ID)

	list, err := repo.ListSince(ctx, session, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.EnvelopeOffer, list[0].Type)
	assert.Equal(t, models.Role(""), list[0].From)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(list[0].Data))

	empty, err := repo.ListSince(ctx, session, 1)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	assert.ErrorIs(t, repo.Append(ctx, &models.Envelope{Type: models.EnvelopeOffer}), ErrEmptySession)
}

func TestRepositoryPurgeKeepsSequence(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	session := testSession(t, pool)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.Append(ctx, &models.Envelope{SessionID: session, Type: models.EnvelopeICECandidate, Data: json.RawMessage(`{"candidate":"c"}`)}))
	}
	_, err := pool.Exec(ctx, `UPDATE signaling_sequences SET updated_at = NOW() - INTERVAL '2 hours' WHERE session_id = $1`, session)
	require.NoError(t, err)

	n, err := repo.PurgeBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
	list, err := repo.ListSince(ctx, session, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	next := &models.Envelope{SessionID: session, Type: models.EnvelopeICECandidate, Data: json.RawMessage(`{"candidate":"late"}`)}
	require.NoError(t, repo.Append(ctx, next))
	assert.Equal(t, int64(3), next.ID)
	list, err = repo.ListSince(ctx, session, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].ID)
}
