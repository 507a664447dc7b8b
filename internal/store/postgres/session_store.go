package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aserkali/tilmash/internal/store"
)

const sessionColumns = `id, user_id, language, started_at, ended_at, stt_provider_used, tts_provider_used, device_info`

// AddSession implements [store.SessionStore].
func (s *Store) AddSession(ctx context.Context, sess *store.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	device := sess.DeviceInfo
	if device == nil {
		device = map[string]string{}
	}

	const q = `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		sess.ID, sess.UserID, sess.Language, sess.StartedAt, sess.EndedAt,
		sess.STTProviderUsed, sess.TTSProviderUsed, device,
	)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: session %q", store.ErrDuplicateID, sess.ID)
	}
	if err != nil {
		return fmt.Errorf("session store: add: %w", err)
	}
	return nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	sess, err := scanSession(s.pool.QueryRow(ctx, q, id))
	if noRows(err) {
		return nil, fmt.Errorf("%w: session %q", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get: %w", err)
	}
	return sess, nil
}

// UpdateSession implements [store.SessionStore].
func (s *Store) UpdateSession(ctx context.Context, sess *store.Session) error {
	device := sess.DeviceInfo
	if device == nil {
		device = map[string]string{}
	}

	const q = `
		UPDATE sessions
		SET    user_id = $2, language = $3, started_at = $4, ended_at = $5,
		       stt_provider_used = $6, tts_provider_used = $7, device_info = $8
		WHERE  id = $1`

	ct, err := s.pool.Exec(ctx, q,
		sess.ID, sess.UserID, sess.Language, sess.StartedAt, sess.EndedAt,
		sess.STTProviderUsed, sess.TTSProviderUsed, device,
	)
	if err != nil {
		return fmt.Errorf("session store: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %q", store.ErrNotFound, sess.ID)
	}
	return nil
}

// ListSessions implements [store.SessionStore].
func (s *Store) ListSessions(ctx context.Context, f store.SessionFilter) ([]*store.Session, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if f.UserID != "" {
		conditions = append(conditions, "user_id = "+next(f.UserID))
	}
	if f.STTProvider != "" {
		conditions = append(conditions, "stt_provider_used = "+next(f.STTProvider))
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "started_at >= "+next(f.Since))
	}

	q := "SELECT " + sessionColumns + "\n" +
		"FROM   sessions\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY started_at, id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Session, error) {
		return scanSession(row)
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	return sessions, nil
}

// scanSession scans one sessions row in sessionColumns order.
func scanSession(row pgx.Row) (*store.Session, error) {
	sess := &store.Session{}
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Language, &sess.StartedAt, &sess.EndedAt,
		&sess.STTProviderUsed, &sess.TTSProviderUsed, &sess.DeviceInfo,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
