package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when adding a record whose ID is taken.
	ErrDuplicateID = errors.New("duplicate record ID")

	// ErrDuplicateTerm is returned when adding a dictionary term whose
	// (language, heard variant) pair already exists.
	ErrDuplicateTerm = errors.New("duplicate dictionary term")
)

// UserStore persists users and their provider preferences.
type UserStore interface {
	// AddUser stores a new user. If u.ID is empty an ID is generated and
	// written back. Returns ErrDuplicateID if the ID is taken.
	AddUser(ctx context.Context, u *User) error

	// GetUser returns the user with the given ID or ErrNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// UpdateUser replaces the stored user or returns ErrNotFound.
	UpdateUser(ctx context.Context, u *User) error
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	// UserID, when non-empty, restricts to one user's sessions.
	UserID string

	// STTProvider, when non-empty, restricts to sessions whose frozen
	// STT provider matches.
	STTProvider string

	// Since, when non-zero, restricts to sessions started at or after it.
	Since time.Time
}

// SessionStore persists sessions.
type SessionStore interface {
	// AddSession stores a new session, generating an ID when empty.
	AddSession(ctx context.Context, s *Session) error

	// GetSession returns the session with the given ID or ErrNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)

	// UpdateSession replaces the stored session or returns ErrNotFound.
	UpdateSession(ctx context.Context, s *Session) error

	// ListSessions returns sessions matching the filter, ordered by
	// StartedAt ascending.
	ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error)
}

// TurnStore persists turns.
type TurnStore interface {
	// AddTurn stores a new turn, generating an ID when empty.
	AddTurn(ctx context.Context, t *Turn) error

	// GetTurn returns the turn with the given ID or ErrNotFound.
	GetTurn(ctx context.Context, id string) (*Turn, error)

	// UpdateTurn replaces the stored turn or returns ErrNotFound.
	UpdateTurn(ctx context.Context, t *Turn) error

	// ListTurns returns all turns of a session ordered by TurnNumber
	// ascending.
	ListTurns(ctx context.Context, sessionID string) ([]*Turn, error)

	// MaxTurnNumber returns the highest turn number ever assigned in the
	// session, or 0 when the session has no turns.
	MaxTurnNumber(ctx context.Context, sessionID string) (int, error)

	// ListTurnsWithAudioBefore returns turns created before the cutoff
	// that still reference stored audio.
	ListTurnsWithAudioBefore(ctx context.Context, cutoff time.Time) ([]*Turn, error)
}

// TermFilter narrows ListTerms.
type TermFilter struct {
	// Language, when non-empty, restricts to one language.
	Language Language

	// Status, when non-empty, restricts to one review state.
	Status TermStatus

	// Provider, when non-empty, restricts to terms first seen by the
	// given STT provider.
	Provider string
}

// TermStore persists dictionary terms.
type TermStore interface {
	// AddTerm stores a new term, generating an ID when empty. Returns
	// ErrDuplicateTerm when the (language, heard variant) pair exists.
	AddTerm(ctx context.Context, t *DictionaryTerm) error

	// GetTerm returns the term with the given ID or ErrNotFound.
	GetTerm(ctx context.Context, id string) (*DictionaryTerm, error)

	// GetTermByVariant returns the term for the lowercased heard variant
	// in the given language, or ErrNotFound.
	GetTermByVariant(ctx context.Context, lang Language, heardVariant string) (*DictionaryTerm, error)

	// UpdateTerm replaces the stored term or returns ErrNotFound.
	UpdateTerm(ctx context.Context, t *DictionaryTerm) error

	// ListTerms returns terms matching the filter, ordered by CreatedAt
	// ascending with ID as tie-break.
	ListTerms(ctx context.Context, f TermFilter) ([]*DictionaryTerm, error)
}

// SpeechRecordStore persists comparison-run parent records.
type SpeechRecordStore interface {
	// AddSpeechRecord stores a new record, generating an ID when empty.
	AddSpeechRecord(ctx context.Context, r *SpeechRecord) error

	// GetSpeechRecord returns the record with the given ID or ErrNotFound.
	GetSpeechRecord(ctx context.Context, id string) (*SpeechRecord, error)

	// UpdateSpeechRecord replaces the stored record or returns ErrNotFound.
	UpdateSpeechRecord(ctx context.Context, r *SpeechRecord) error

	// ListSpeechRecords returns a user's records ordered by CreatedAt
	// descending, newest first, honoring limit and offset. A zero limit
	// means no limit.
	ListSpeechRecords(ctx context.Context, userID string, limit, offset int) ([]*SpeechRecord, error)

	// ListSpeechRecordsBefore returns records created before the cutoff.
	ListSpeechRecordsBefore(ctx context.Context, cutoff time.Time) ([]*SpeechRecord, error)
}

// MetricStore persists per-provider comparison metrics.
type MetricStore interface {
	// AddMetric stores a new metric record, generating an ID when empty.
	AddMetric(ctx context.Context, m *MetricRecord) error

	// ListMetricsByRecord returns all metric records of one comparison
	// run ordered by provider name.
	ListMetricsByRecord(ctx context.Context, speechRecordID string) ([]*MetricRecord, error)

	// ListMetricsByProvider returns all metric records of one provider
	// created at or after since. A zero since means all records.
	ListMetricsByProvider(ctx context.Context, provider string, since time.Time) ([]*MetricRecord, error)
}

// EvaluationStore persists ground-truth evaluations.
type EvaluationStore interface {
	// AddEvaluation stores a new evaluation, generating an ID when empty.
	AddEvaluation(ctx context.Context, e *Evaluation) error

	// ListEvaluationsByTurn returns a turn's evaluations ordered by
	// CreatedAt ascending.
	ListEvaluationsByTurn(ctx context.Context, turnID string) ([]*Evaluation, error)

	// ListEvaluations returns all evaluations created at or after since.
	// A zero since means all evaluations.
	ListEvaluations(ctx context.Context, since time.Time) ([]*Evaluation, error)
}

// Store bundles every repository. Implementations: MemStore and
// store/postgres.Store.
type Store interface {
	UserStore
	SessionStore
	TurnStore
	TermStore
	SpeechRecordStore
	MetricStore
	EvaluationStore
}
