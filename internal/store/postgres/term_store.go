package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aserkali/tilmash/internal/store"
)

const termColumns = `id, language, heard_variant, correct_form, context_examples,
	occurrence_count, status, provider_first_seen, approved_by, created_at, updated_at`

// AddTerm implements [store.TermStore]. The heard variant is lowercased
// before insert so the per-language uniqueness is case-insensitive.
func (s *Store) AddTerm(ctx context.Context, t *store.DictionaryTerm) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.HeardVariant = strings.ToLower(t.HeardVariant)
	examples := t.ContextExamples
	if examples == nil {
		examples = []string{}
	}

	const q = `
		INSERT INTO dictionary_terms (` + termColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, q,
		t.ID, t.Language, t.HeardVariant, t.CorrectForm, examples,
		t.OccurrenceCount, t.Status, t.ProviderFirstSeen, t.ApprovedBy,
		t.CreatedAt, t.UpdatedAt,
	)
	if constraint, ok := uniqueViolation(err); ok {
		if isPrimaryKey(constraint) {
			return fmt.Errorf("%w: term %q", store.ErrDuplicateID, t.ID)
		}
		return fmt.Errorf("%w: %s/%q", store.ErrDuplicateTerm, t.Language, t.HeardVariant)
	}
	if err != nil {
		return fmt.Errorf("term store: add: %w", err)
	}
	return nil
}

// GetTerm implements [store.TermStore].
func (s *Store) GetTerm(ctx context.Context, id string) (*store.DictionaryTerm, error) {
	const q = `SELECT ` + termColumns + ` FROM dictionary_terms WHERE id = $1`

	t, err := scanTerm(s.pool.QueryRow(ctx, q, id))
	if noRows(err) {
		return nil, fmt.Errorf("%w: term %q", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("term store: get: %w", err)
	}
	return t, nil
}

// GetTermByVariant implements [store.TermStore].
func (s *Store) GetTermByVariant(ctx context.Context, lang store.Language, heardVariant string) (*store.DictionaryTerm, error) {
	const q = `
		SELECT ` + termColumns + `
		FROM   dictionary_terms
		WHERE  language = $1 AND heard_variant = lower($2)`

	t, err := scanTerm(s.pool.QueryRow(ctx, q, lang, heardVariant))
	if noRows(err) {
		return nil, fmt.Errorf("%w: term %s/%q", store.ErrNotFound, lang, heardVariant)
	}
	if err != nil {
		return nil, fmt.Errorf("term store: get by variant: %w", err)
	}
	return t, nil
}

// UpdateTerm implements [store.TermStore].
func (s *Store) UpdateTerm(ctx context.Context, t *store.DictionaryTerm) error {
	t.HeardVariant = strings.ToLower(t.HeardVariant)
	examples := t.ContextExamples
	if examples == nil {
		examples = []string{}
	}

	const q = `
		UPDATE dictionary_terms
		SET    language = $2, heard_variant = $3, correct_form = $4, context_examples = $5,
		       occurrence_count = $6, status = $7, provider_first_seen = $8,
		       approved_by = $9, created_at = $10, updated_at = $11
		WHERE  id = $1`

	ct, err := s.pool.Exec(ctx, q,
		t.ID, t.Language, t.HeardVariant, t.CorrectForm, examples,
		t.OccurrenceCount, t.Status, t.ProviderFirstSeen, t.ApprovedBy,
		t.CreatedAt, t.UpdatedAt,
	)
	if constraint, ok := uniqueViolation(err); ok && !isPrimaryKey(constraint) {
		return fmt.Errorf("%w: %s/%q", store.ErrDuplicateTerm, t.Language, t.HeardVariant)
	}
	if err != nil {
		return fmt.Errorf("term store: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: term %q", store.ErrNotFound, t.ID)
	}
	return nil
}

// ListTerms implements [store.TermStore].
func (s *Store) ListTerms(ctx context.Context, f store.TermFilter) ([]*store.DictionaryTerm, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if f.Language != "" {
		conditions = append(conditions, "language = "+next(f.Language))
	}
	if f.Status != "" {
		conditions = append(conditions, "status = "+next(f.Status))
	}
	if f.Provider != "" {
		conditions = append(conditions, "provider_first_seen = "+next(f.Provider))
	}

	q := "SELECT " + termColumns + "\n" +
		"FROM   dictionary_terms\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at, id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("term store: list: %w", err)
	}
	terms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*store.DictionaryTerm, error) {
		return scanTerm(row)
	})
	if err != nil {
		return nil, fmt.Errorf("term store: scan rows: %w", err)
	}
	return terms, nil
}

// scanTerm scans one dictionary_terms row in termColumns order.
func scanTerm(row pgx.Row) (*store.DictionaryTerm, error) {
	t := &store.DictionaryTerm{}
	err := row.Scan(
		&t.ID, &t.Language, &t.HeardVariant, &t.CorrectForm, &t.ContextExamples,
		&t.OccurrenceCount, &t.Status, &t.ProviderFirstSeen, &t.ApprovedBy,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
