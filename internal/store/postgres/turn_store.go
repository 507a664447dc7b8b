package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aserkali/tilmash/internal/store"
)

const turnColumns = `id, session_id, turn_number, created_at,
	audio_input_key, raw_transcript, normalized_transcript, confidence, stt_latency_ns, words, low_confidence,
	user_confirmed, user_correction,
	assistant_text, audio_output_key, tts_latency_ns`

// AddTurn implements [store.TurnStore].
func (s *Store) AddTurn(ctx context.Context, t *store.Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	words := t.Words
	if words == nil {
		words = []store.WordTiming{}
	}

	const q = `
		INSERT INTO turns (` + turnColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.pool.Exec(ctx, q,
		t.ID, t.SessionID, t.TurnNumber, t.CreatedAt,
		t.AudioInputKey, t.RawTranscript, t.NormalizedTranscript, t.Confidence,
		t.STTLatency.Nanoseconds(), words, t.LowConfidence,
		t.UserConfirmed, t.UserCorrection,
		t.AssistantText, t.AudioOutputKey, t.TTSLatency.Nanoseconds(),
	)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: turn %q", store.ErrDuplicateID, t.ID)
	}
	if err != nil {
		return fmt.Errorf("turn store: add: %w", err)
	}
	return nil
}

// GetTurn implements [store.TurnStore].
func (s *Store) GetTurn(ctx context.Context, id string) (*store.Turn, error) {
	const q = `SELECT ` + turnColumns + ` FROM turns WHERE id = $1`

	t, err := scanTurn(s.pool.QueryRow(ctx, q, id))
	if noRows(err) {
		return nil, fmt.Errorf("%w: turn %q", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("turn store: get: %w", err)
	}
	return t, nil
}

// UpdateTurn implements [store.TurnStore].
func (s *Store) UpdateTurn(ctx context.Context, t *store.Turn) error {
	words := t.Words
	if words == nil {
		words = []store.WordTiming{}
	}

	const q = `
		UPDATE turns
		SET    session_id = $2, turn_number = $3, created_at = $4,
		       audio_input_key = $5, raw_transcript = $6, normalized_transcript = $7,
		       confidence = $8, stt_latency_ns = $9, words = $10, low_confidence = $11,
		       user_confirmed = $12, user_correction = $13,
		       assistant_text = $14, audio_output_key = $15, tts_latency_ns = $16
		WHERE  id = $1`

	ct, err := s.pool.Exec(ctx, q,
		t.ID, t.SessionID, t.TurnNumber, t.CreatedAt,
		t.AudioInputKey, t.RawTranscript, t.NormalizedTranscript,
		t.Confidence, t.STTLatency.Nanoseconds(), words, t.LowConfidence,
		t.UserConfirmed, t.UserCorrection,
		t.AssistantText, t.AudioOutputKey, t.TTSLatency.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("turn store: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: turn %q", store.ErrNotFound, t.ID)
	}
	return nil
}

// ListTurns implements [store.TurnStore].
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]*store.Turn, error) {
	const q = `
		SELECT ` + turnColumns + `
		FROM   turns
		WHERE  session_id = $1
		ORDER  BY turn_number`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("turn store: list: %w", err)
	}
	return collectTurns(rows)
}

// MaxTurnNumber implements [store.TurnStore].
func (s *Store) MaxTurnNumber(ctx context.Context, sessionID string) (int, error) {
	const q = `SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE session_id = $1`

	var n int
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("turn store: max turn number: %w", err)
	}
	return n, nil
}

// ListTurnsWithAudioBefore implements [store.TurnStore].
func (s *Store) ListTurnsWithAudioBefore(ctx context.Context, cutoff time.Time) ([]*store.Turn, error) {
	const q = `
		SELECT ` + turnColumns + `
		FROM   turns
		WHERE  created_at < $1
		  AND  (audio_input_key <> '' OR audio_output_key <> '')
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("turn store: list with audio: %w", err)
	}
	return collectTurns(rows)
}

// collectTurns scans pgx rows into a slice of turns.
func collectTurns(rows pgx.Rows) ([]*store.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Turn, error) {
		return scanTurn(row)
	})
	if err != nil {
		return nil, fmt.Errorf("turn store: scan rows: %w", err)
	}
	return turns, nil
}

// scanTurn scans one turns row in turnColumns order.
func scanTurn(row pgx.Row) (*store.Turn, error) {
	var (
		t                      store.Turn
		sttLatency, ttsLatency int64
	)
	err := row.Scan(
		&t.ID, &t.SessionID, &t.TurnNumber, &t.CreatedAt,
		&t.AudioInputKey, &t.RawTranscript, &t.NormalizedTranscript,
		&t.Confidence, &sttLatency, &t.Words, &t.LowConfidence,
		&t.UserConfirmed, &t.UserCorrection,
		&t.AssistantText, &t.AudioOutputKey, &ttsLatency,
	)
	if err != nil {
		return nil, err
	}
	t.STTLatency = time.Duration(sttLatency)
	t.TTSLatency = time.Duration(ttsLatency)
	return &t, nil
}
