package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aserkali/tilmash/internal/store"
)

// AddUser implements [store.UserStore].
func (s *Store) AddUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO users
		    (id, name, language, stt_provider, tts_provider, is_test_user, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		u.ID, u.Name, u.Language, u.STTProvider, u.TTSProvider,
		u.IsTestUser, u.CreatedAt, u.LastActiveAt,
	)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: user %q", store.ErrDuplicateID, u.ID)
	}
	if err != nil {
		return fmt.Errorf("user store: add: %w", err)
	}
	return nil
}

// GetUser implements [store.UserStore].
func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	const q = `
		SELECT id, name, language, stt_provider, tts_provider, is_test_user, created_at, last_active_at
		FROM   users
		WHERE  id = $1`

	u := &store.User{}
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Name, &u.Language, &u.STTProvider, &u.TTSProvider,
		&u.IsTestUser, &u.CreatedAt, &u.LastActiveAt,
	)
	if noRows(err) {
		return nil, fmt.Errorf("%w: user %q", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("user store: get: %w", err)
	}
	return u, nil
}

// UpdateUser implements [store.UserStore].
func (s *Store) UpdateUser(ctx context.Context, u *store.User) error {
	const q = `
		UPDATE users
		SET    name = $2, language = $3, stt_provider = $4, tts_provider = $5,
		       is_test_user = $6, created_at = $7, last_active_at = $8
		WHERE  id = $1`

	ct, err := s.pool.Exec(ctx, q,
		u.ID, u.Name, u.Language, u.STTProvider, u.TTSProvider,
		u.IsTestUser, u.CreatedAt, u.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("user store: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %q", store.ErrNotFound, u.ID)
	}
	return nil
}
