package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerline/backend/internal/models"
)

// Repository handles signaling_messages persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a signaling repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts an envelope. The per-session sequence row stays locked until commit,
// so concurrent writers on one session serialize and a rolled back insert leaves no gap.
func (r *Repository) Append(ctx context.Context, env *models.Envelope) error {
	if env.SessionID == "" {
		return ErrEmptySession
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const nextID = `INSERT INTO signaling_sequences (session_id, last_id, updated_at) VALUES ($1, 1, NOW())
		ON CONFLICT (session_id) DO UPDATE SET last_id = signaling_sequences.last_id + 1, updated_at = NOW()
		RETURNING last_id`
	if err := tx.QueryRow(ctx, nextID, env.SessionID).Scan(&env.ID); err != nil {
		return fmt.Errorf("next id: %w", err)
	}

	const insert = `INSERT INTO signaling_messages (session_id, id, type, sender_role, data)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING created_at`
	if err := tx.QueryRow(ctx, insert, env.SessionID, env.ID, string(env.Type), string(env.From), []byte(env.Data)).
		Scan(&env.CreatedAt); err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListSince returns envelopes of a session with id > lastID in ascending id order.
func (r *Repository) ListSince(ctx context.Context, sessionID string, lastID int64) ([]models.Envelope, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, type, COALESCE(sender_role, ''), data, created_at
		 FROM signaling_messages WHERE session_id = $1 AND id > $2 ORDER BY id ASC`,
		sessionID, lastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Envelope{}
	for rows.Next() {
		var (
			env       models.Envelope
			typ, from string
			data      []byte
		)
		if err := rows.Scan(&env.ID, &env.SessionID, &typ, &from, &data, &env.CreatedAt); err != nil {
			return nil, err
		}
		env.Type = models.EnvelopeType(typ)
		env.From = models.Role(from)
		env.Data = data
		list = append(list, env)
	}
	return list, rows.Err()
}

// PurgeBefore deletes the envelopes of sessions with no activity since cutoff.
// Sequence rows stay, so a session that resumes after a purge keeps counting
// from its last id and cursors held by peers remain valid.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM signaling_messages m USING signaling_sequences s
		 WHERE m.session_id = s.session_id AND s.updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
