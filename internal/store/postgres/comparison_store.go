package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aserkali/tilmash/internal/store"
)

const speechRecordColumns = `id, user_id, audio_key, recognized_text_ru, recognized_text_kk, created_at`

const metricColumns = `id, speech_record_id, provider, confidence, processing_time_ns, created_at`

// AddSpeechRecord implements [store.SpeechRecordStore].
func (s *Store) AddSpeechRecord(ctx context.Context, r *store.SpeechRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO speech_records (` + speechRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.UserID, r.AudioKey, r.RecognizedTextRu, r.RecognizedTextKk, r.CreatedAt,
	)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: speech record %q", store.ErrDuplicateID, r.ID)
	}
	if err != nil {
		return fmt.Errorf("speech record store: add: %w", err)
	}
	return nil
}

// GetSpeechRecord implements [store.SpeechRecordStore].
func (s *Store) GetSpeechRecord(ctx context.Context, id string) (*store.SpeechRecord, error) {
	const q = `SELECT ` + speechRecordColumns + ` FROM speech_records WHERE id = $1`

	r := &store.SpeechRecord{}
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.UserID, &r.AudioKey, &r.RecognizedTextRu, &r.RecognizedTextKk, &r.CreatedAt,
	)
	if noRows(err) {
		return nil, fmt.Errorf("%w: speech record %q", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("speech record store: get: %w", err)
	}
	return r, nil
}

// UpdateSpeechRecord implements [store.SpeechRecordStore].
func (s *Store) UpdateSpeechRecord(ctx context.Context, r *store.SpeechRecord) error {
	const q = `
		UPDATE speech_records
		SET    user_id = $2, audio_key = $3, recognized_text_ru = $4,
		       recognized_text_kk = $5, created_at = $6
		WHERE  id = $1`

	ct, err := s.pool.Exec(ctx, q,
		r.ID, r.UserID, r.AudioKey, r.RecognizedTextRu, r.RecognizedTextKk, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("speech record store: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: speech record %q", store.ErrNotFound, r.ID)
	}
	return nil
}

// ListSpeechRecords implements [store.SpeechRecordStore].
func (s *Store) ListSpeechRecords(ctx context.Context, userID string, limit, offset int) ([]*store.SpeechRecord, error) {
	q := "SELECT " + speechRecordColumns + "\n" +
		"FROM   speech_records\n" +
		"WHERE  user_id = $1\n" +
		"ORDER  BY created_at DESC, id DESC\n" +
		"OFFSET $2"
	args := []any{userID, offset}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("speech record store: list: %w", err)
	}
	return collectSpeechRecords(rows)
}

// ListSpeechRecordsBefore implements [store.SpeechRecordStore].
func (s *Store) ListSpeechRecordsBefore(ctx context.Context, cutoff time.Time) ([]*store.SpeechRecord, error) {
	const q = `
		SELECT ` + speechRecordColumns + `
		FROM   speech_records
		WHERE  created_at < $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("speech record store: list before: %w", err)
	}
	return collectSpeechRecords(rows)
}

// collectSpeechRecords scans pgx rows into a slice of speech records.
func collectSpeechRecords(rows pgx.Rows) ([]*store.SpeechRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.SpeechRecord, error) {
		r := &store.SpeechRecord{}
		if err := row.Scan(
			&r.ID, &r.UserID, &r.AudioKey, &r.RecognizedTextRu, &r.RecognizedTextKk, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("speech record store: scan rows: %w", err)
	}
	return records, nil
}

// AddMetric implements [store.MetricStore].
func (s *Store) AddMetric(ctx context.Context, m *store.MetricRecord) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO metric_records (` + metricColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		m.ID, m.SpeechRecordID, m.Provider, m.Confidence,
		m.ProcessingTime.Nanoseconds(), m.CreatedAt,
	)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: metric %q", store.ErrDuplicateID, m.ID)
	}
	if err != nil {
		return fmt.Errorf("metric store: add: %w", err)
	}
	return nil
}

// ListMetricsByRecord implements [store.MetricStore].
func (s *Store) ListMetricsByRecord(ctx context.Context, speechRecordID string) ([]*store.MetricRecord, error) {
	const q = `
		SELECT ` + metricColumns + `
		FROM   metric_records
		WHERE  speech_record_id = $1
		ORDER  BY provider, id`

	rows, err := s.pool.Query(ctx, q, speechRecordID)
	if err != nil {
		return nil, fmt.Errorf("metric store: list by record: %w", err)
	}
	return collectMetrics(rows)
}

// ListMetricsByProvider implements [store.MetricStore].
func (s *Store) ListMetricsByProvider(ctx context.Context, provider string, since time.Time) ([]*store.MetricRecord, error) {
	const q = `
		SELECT ` + metricColumns + `
		FROM   metric_records
		WHERE  provider = $1
		  AND  ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER  BY created_at, id`

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	rows, err := s.pool.Query(ctx, q, provider, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("metric store: list by provider: %w", err)
	}
	return collectMetrics(rows)
}

// collectMetrics scans pgx rows into a slice of metric records.
func collectMetrics(rows pgx.Rows) ([]*store.MetricRecord, error) {
	metrics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.MetricRecord, error) {
		var (
			m      store.MetricRecord
			tookNS int64
		)
		if err := row.Scan(
			&m.ID, &m.SpeechRecordID, &m.Provider, &m.Confidence, &tookNS, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.ProcessingTime = time.Duration(tookNS)
		return &m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("metric store: scan rows: %w", err)
	}
	return metrics, nil
}
