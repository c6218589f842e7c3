package signaling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/peerline/backend/internal/models"
)

// ErrEmptySession is returned when an envelope carries no session id.
var ErrEmptySession = errors.New("session id required")

// Store is the append-only envelope log keyed by session.
type Store interface {
	// Append assigns env.ID (previous id for the session + 1) and env.CreatedAt.
	Append(ctx context.Context, env *models.Envelope) error
	// ListSince returns envelopes with id > lastID, ascending by id.
	ListSince(ctx context.Context, sessionID string, lastID int64) ([]models.Envelope, error)
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

// memorySession holds the retained envelopes of one session. purged counts the
// envelopes dropped by retention, so ids keep increasing after a purge.
type memorySession struct {
	purged   int64
	list     []models.Envelope
	lastSeen time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession), now: time.Now}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, env *models.Envelope) error {
	if env.SessionID == "" {
		return ErrEmptySession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[env.SessionID]
	if !ok {
		sess = &memorySession{}
		s.sessions[env.SessionID] = sess
	}
	env.ID = sess.purged + int64(len(sess.list)) + 1
	env.CreatedAt = s.now().UTC()
	stored := *env
	stored.Data = append([]byte(nil), env.Data...)
	sess.list = append(sess.list, stored)
	sess.lastSeen = env.CreatedAt
	return nil
}

// ListSince implements Store.
func (s *MemoryStore) ListSince(_ context.Context, sessionID string, lastID int64) ([]models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []models.Envelope{}, nil
	}
	// ids are purged + 1-based positions
	from := lastID - sess.purged
	if from < 0 {
		from = 0
	}
	if from >= int64(len(sess.list)) {
		return []models.Envelope{}, nil
	}
	out := make([]models.Envelope, len(sess.list)-int(from))
	copy(out, sess.list[from:])
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PurgeBefore drops the envelopes of sessions idle since before cutoff. The
// session's id counter is kept, so a resumed session continues after the last id.
func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if len(sess.list) > 0 && sess.lastSeen.Before(cutoff) {
			n += int64(len(sess.list))
			sess.purged += int64(len(sess.list))
			sess.list = nil
		}
	}
	return n, nil
}
