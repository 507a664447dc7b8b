package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aserkali/tilmash/internal/observe"
	"github.com/aserkali/tilmash/internal/store"
)

// maxContextExamples caps the stored usage examples per term.
const maxContextExamples = 5

// ErrEmptyCorrectForm is returned when approving a term without a
// correct form.
var ErrEmptyCorrectForm = errors.New("dictionary: correct form must not be empty")

// Service owns the term lifecycle. Occurrences arrive from user corrections
// and unknown-term detection; admins approve or reject the accumulated
// terms, and approvals invalidate the cache so normalization picks them up.
type Service struct {
	terms   store.TermStore
	cache   *Cache
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics overrides the default metrics instance. Intended for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a term-lifecycle service. The cache may be nil when no
// normalization engine is attached, e.g. in offline analytics tools.
func NewService(terms store.TermStore, cache *Cache, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		terms: terms,
		cache: cache,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Cache returns the approved-terms cache the service invalidates on
// approval, or nil when none is attached.
func (s *Service) Cache() *Cache {
	return s.cache
}

// RecordOccurrence upserts a heard variant: an existing term has its
// occurrence count incremented and the context example appended, a new one
// is created in pending state with count 1. The heard variant is matched
// case-insensitively.
func (s *Service) RecordOccurrence(ctx context.Context, lang store.Language, heardVariant, provider, contextExample string) (*store.DictionaryTerm, error) {
	variant := strings.ToLower(strings.TrimSpace(heardVariant))
	if variant == "" {
		return nil, fmt.Errorf("dictionary: empty heard variant")
	}

	term, err := s.terms.GetTermByVariant(ctx, lang, variant)
	switch {
	case err == nil:
		term.OccurrenceCount++
		term.ContextExamples = appendExample(term.ContextExamples, contextExample)
		term.UpdatedAt = s.now()
		if err := s.terms.UpdateTerm(ctx, term); err != nil {
			return nil, fmt.Errorf("dictionary: update term %s/%q: %w", lang, variant, err)
		}
		return term, nil
	case errors.Is(err, store.ErrNotFound):
		created := &store.DictionaryTerm{
			Language:          lang,
			HeardVariant:      variant,
			ContextExamples:   appendExample(nil, contextExample),
			OccurrenceCount:   1,
			Status:            store.TermPending,
			ProviderFirstSeen: provider,
			CreatedAt:         s.now(),
			UpdatedAt:         s.now(),
		}
		err := s.terms.AddTerm(ctx, created)
		if errors.Is(err, store.ErrDuplicateTerm) {
			// Lost a race with a concurrent occurrence of the same
			// variant. Retry as an update.
			return s.RecordOccurrence(ctx, lang, heardVariant, provider, contextExample)
		}
		if err != nil {
			return nil, fmt.Errorf("dictionary: add term %s/%q: %w", lang, variant, err)
		}
		s.log.Info("new dictionary term recorded",
			"language", lang,
			"heard_variant", variant,
			"provider", provider)
		return created, nil
	default:
		return nil, fmt.Errorf("dictionary: look up term %s/%q: %w", lang, variant, err)
	}
}

// RecordCorrection is RecordOccurrence with a suggested correct form taken
// from a user's correction. The suggestion fills an empty CorrectForm but
// never overwrites one; the term still needs approval to take effect.
func (s *Service) RecordCorrection(ctx context.Context, lang store.Language, heardVariant, suggested, provider, contextExample string) (*store.DictionaryTerm, error) {
	term, err := s.RecordOccurrence(ctx, lang, heardVariant, provider, contextExample)
	if err != nil {
		return nil, err
	}
	suggested = strings.TrimSpace(suggested)
	if suggested == "" || term.CorrectForm != "" {
		return term, nil
	}
	term.CorrectForm = suggested
	term.UpdatedAt = s.now()
	if err := s.terms.UpdateTerm(ctx, term); err != nil {
		return nil, fmt.Errorf("dictionary: suggest form for %s/%q: %w", lang, term.HeardVariant, err)
	}
	return term, nil
}

// Approve sets the term's correct form and marks it approved, then
// invalidates the cache so the next normalization sees it.
func (s *Service) Approve(ctx context.Context, termID, correctForm, approvedBy string) (*store.DictionaryTerm, error) {
	correctForm = strings.TrimSpace(correctForm)
	if correctForm == "" {
		return nil, ErrEmptyCorrectForm
	}
	term, err := s.terms.GetTerm(ctx, termID)
	if err != nil {
		return nil, fmt.Errorf("dictionary: approve term %q: %w", termID, err)
	}
	wasApproved := term.Status == store.TermApproved
	term.CorrectForm = correctForm
	term.Status = store.TermApproved
	term.ApprovedBy = approvedBy
	term.UpdatedAt = s.now()
	if err := s.terms.UpdateTerm(ctx, term); err != nil {
		return nil, fmt.Errorf("dictionary: approve term %q: %w", termID, err)
	}
	if !wasApproved {
		s.metrics.ApprovedTerms.Add(ctx, 1)
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	s.log.Info("dictionary term approved",
		"language", term.Language,
		"heard_variant", term.HeardVariant,
		"correct_form", correctForm,
		"approved_by", approvedBy)
	return term, nil
}

// Reject marks the term rejected, excluding it from normalization. A
// previously approved term can be rejected to retire it, which also
// invalidates the cache.
func (s *Service) Reject(ctx context.Context, termID, rejectedBy string) (*store.DictionaryTerm, error) {
	term, err := s.terms.GetTerm(ctx, termID)
	if err != nil {
		return nil, fmt.Errorf("dictionary: reject term %q: %w", termID, err)
	}
	wasApproved := term.Status == store.TermApproved
	term.Status = store.TermRejected
	term.UpdatedAt = s.now()
	if err := s.terms.UpdateTerm(ctx, term); err != nil {
		return nil, fmt.Errorf("dictionary: reject term %q: %w", termID, err)
	}
	if wasApproved {
		s.metrics.ApprovedTerms.Add(ctx, -1)
		if s.cache != nil {
			s.cache.Invalidate()
		}
	}
	s.log.Info("dictionary term rejected",
		"language", term.Language,
		"heard_variant", term.HeardVariant,
		"rejected_by", rejectedBy)
	return term, nil
}

// Pending returns terms awaiting review in the given language, oldest first.
// An empty language lists all languages.
func (s *Service) Pending(ctx context.Context, lang store.Language) ([]*store.DictionaryTerm, error) {
	terms, err := s.terms.ListTerms(ctx, store.TermFilter{Language: lang, Status: store.TermPending})
	if err != nil {
		return nil, fmt.Errorf("dictionary: list pending terms: %w", err)
	}
	return terms, nil
}

func appendExample(examples []string, example string) []string {
	example = strings.TrimSpace(example)
	if example == "" || len(examples) >= maxContextExamples {
		return examples
	}
	for _, existing := range examples {
		if existing == example {
			return examples
		}
	}
	return append(examples, example)
}
