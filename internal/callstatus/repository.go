package callstatus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerline/backend/internal/models"
)

// Store records reported call status events.
type Store interface {
	Record(ctx context.Context, ev *models.CallStatusEvent) error
	ListBySession(ctx context.Context, sessionID string) ([]models.CallStatusEvent, error)
}

// Repository handles call_status_events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a call status repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts an event and fills in its id and created_at.
func (r *Repository) Record(ctx context.Context, ev *models.CallStatusEvent) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO call_status_events (session_id, status, provider, error, reported_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		ev.SessionID, string(ev.Status), ev.Provider, ev.Error, ev.ReportedBy,
	).Scan(&ev.ID, &ev.CreatedAt)
}

// ListBySession returns the events of a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.CallStatusEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, status, provider, error, reported_by, created_at
		 FROM call_status_events WHERE session_id = $1 ORDER BY created_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.CallStatusEvent{}
	for rows.Next() {
		var (
			ev     models.CallStatusEvent
			status string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &status, &ev.Provider, &ev.Error, &ev.ReportedBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Status = models.CallStatusValue(status)
		list = append(list, ev)
	}
	return list, rows.Err()
}

// MemoryStore keeps events in process, for the memory signaling backend and tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]models.CallStatusEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]models.CallStatusEvent)}
}

// Record implements Store.
func (m *MemoryStore) Record(_ context.Context, ev *models.CallStatusEvent) error {
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now().UTC()
	m.mu.Lock()
	m.events[ev.SessionID] = append(m.events[ev.SessionID], *ev)
	m.mu.Unlock()
	return nil
}

// ListBySession implements Store.
func (m *MemoryStore) ListBySession(_ context.Context, sessionID string) ([]models.CallStatusEvent, error) {
	m.mu.Lock()
	list := append([]models.CallStatusEvent{}, m.events[sessionID]...)
	m.mu.Unlock()
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}
