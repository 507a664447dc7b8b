package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aserkali/tilmash/internal/store"
)

const evaluationColumns = `id, turn_id, ground_truth, labeled_by, source, wer, cer, created_at`

// AddEvaluation implements [store.EvaluationStore].
func (s *Store) AddEvaluation(ctx context.Context, e *store.Evaluation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO evaluations (` + evaluationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		e.ID, e.TurnID, e.GroundTruth, e.LabeledBy, e.Source, e.WER, e.CER, e.CreatedAt,
	)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: evaluation %q", store.ErrDuplicateID, e.ID)
	}
	if err != nil {
		return fmt.Errorf("evaluation store: add: %w", err)
	}
	return nil
}

// ListEvaluationsByTurn implements [store.EvaluationStore].
func (s *Store) ListEvaluationsByTurn(ctx context.Context, turnID string) ([]*store.Evaluation, error) {
	const q = `
		SELECT ` + evaluationColumns + `
		FROM   evaluations
		WHERE  turn_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, turnID)
	if err != nil {
		return nil, fmt.Errorf("evaluation store: list by turn: %w", err)
	}
	return collectEvaluations(rows)
}

// ListEvaluations implements [store.EvaluationStore].
func (s *Store) ListEvaluations(ctx context.Context, since time.Time) ([]*store.Evaluation, error) {
	const q = `
		SELECT ` + evaluationColumns + `
		FROM   evaluations
		WHERE  ($1::timestamptz IS NULL OR created_at >= $1)
		ORDER  BY created_at, id`

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	rows, err := s.pool.Query(ctx, q, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("evaluation store: list: %w", err)
	}
	return collectEvaluations(rows)
}

// collectEvaluations scans pgx rows into a slice of evaluations.
func collectEvaluations(rows pgx.Rows) ([]*store.Evaluation, error) {
	evals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.Evaluation, error) {
		e := &store.Evaluation{}
		if err := row.Scan(
			&e.ID, &e.TurnID, &e.GroundTruth, &e.LabeledBy, &e.Source, &e.WER, &e.CER, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation store: scan rows: %w", err)
	}
	return evals, nil
}
