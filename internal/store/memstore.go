package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store guarded by a single RWMutex. It is the
// default backend when no database is configured and the backend every
// service test runs against.
type MemStore struct {
	mu sync.RWMutex

	users    map[string]*User
	sessions map[string]*Session
	turns    map[string]*Turn
	terms    map[string]*DictionaryTerm
	// termKeys indexes terms by "language|heard variant" for uniqueness
	// and variant lookup.
	termKeys map[string]string
	records  map[string]*SpeechRecord
	metrics  map[string]*MetricRecord
	evals    map[string]*Evaluation
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		turns:    make(map[string]*Turn),
		terms:    make(map[string]*DictionaryTerm),
		termKeys: make(map[string]string),
		records:  make(map[string]*SpeechRecord),
		metrics:  make(map[string]*MetricRecord),
		evals:    make(map[string]*Evaluation),
	}
}

func termKey(lang Language, heardVariant string) string {
	return string(lang) + "|" + strings.ToLower(heardVariant)
}

// AddUser implements UserStore.
func (s *MemStore) AddUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %q", ErrDuplicateID, u.ID)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// GetUser implements UserStore.
func (s *MemStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %q", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

// UpdateUser implements UserStore.
func (s *MemStore) UpdateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, u.ID)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// AddSession implements SessionStore.
func (s *MemStore) AddSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("%w: session %q", ErrDuplicateID, sess.ID)
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// GetSession implements SessionStore.
func (s *MemStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	return copySession(sess), nil
}

// UpdateSession implements SessionStore.
func (s *MemStore) UpdateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("%w: session %q", ErrNotFound, sess.ID)
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// ListSessions implements SessionStore.
func (s *MemStore) ListSessions(_ context.Context, f SessionFilter) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, sess := range s.sessions {
		if f.UserID != "" && sess.UserID != f.UserID {
			continue
		}
		if f.STTProvider != "" && sess.STTProviderUsed != f.STTProvider {
			continue
		}
		if !f.Since.IsZero() && sess.StartedAt.Before(f.Since) {
			continue
		}
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// AddTurn implements TurnStore.
func (s *MemStore) AddTurn(_ context.Context, t *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := s.turns[t.ID]; ok {
		return fmt.Errorf("%w: turn %q", ErrDuplicateID, t.ID)
	}
	cp := copyTurn(t)
	s.turns[t.ID] = cp
	return nil
}

// GetTurn implements TurnStore.
func (s *MemStore) GetTurn(_ context.Context, id string) (*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.turns[id]
	if !ok {
		return nil, fmt.Errorf("%w: turn %q", ErrNotFound, id)
	}
	return copyTurn(t), nil
}

// UpdateTurn implements TurnStore.
func (s *MemStore) UpdateTurn(_ context.Context, t *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.turns[t.ID]; !ok {
		return fmt.Errorf("%w: turn %q", ErrNotFound, t.ID)
	}
	s.turns[t.ID] = copyTurn(t)
	return nil
}

// ListTurns implements TurnStore.
func (s *MemStore) ListTurns(_ context.Context, sessionID string) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, copyTurn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out, nil
}

// MaxTurnNumber implements TurnStore.
func (s *MemStore) MaxTurnNumber(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, t := range s.turns {
		if t.SessionID == sessionID && t.TurnNumber > max {
			max = t.TurnNumber
		}
	}
	return max, nil
}

// ListTurnsWithAudioBefore implements TurnStore.
func (s *MemStore) ListTurnsWithAudioBefore(_ context.Context, cutoff time.Time) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Turn
	for _, t := range s.turns {
		if !t.CreatedAt.Before(cutoff) {
			continue
		}
		if t.AudioInputKey == "" && t.AudioOutputKey == "" {
			continue
		}
		out = append(out, copyTurn(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AddTerm implements TermStore.
func (s *MemStore) AddTerm(_ context.Context, t *DictionaryTerm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := termKey(t.Language, t.HeardVariant)
	if _, ok := s.termKeys[key]; ok {
		return fmt.Errorf("%w: %s/%q", ErrDuplicateTerm, t.Language, t.HeardVariant)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := s.terms[t.ID]; ok {
		return fmt.Errorf("%w: term %q", ErrDuplicateID, t.ID)
	}
	t.HeardVariant = strings.ToLower(t.HeardVariant)
	cp := copyTerm(t)
	s.terms[t.ID] = cp
	s.termKeys[key] = t.ID
	return nil
}

// GetTerm implements TermStore.
func (s *MemStore) GetTerm(_ context.Context, id string) (*DictionaryTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terms[id]
	if !ok {
		return nil, fmt.Errorf("%w: term %q", ErrNotFound, id)
	}
	return copyTerm(t), nil
}

// GetTermByVariant implements TermStore.
func (s *MemStore) GetTermByVariant(_ context.Context, lang Language, heardVariant string) (*DictionaryTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.termKeys[termKey(lang, heardVariant)]
	if !ok {
		return nil, fmt.Errorf("%w: term %s/%q", ErrNotFound, lang, heardVariant)
	}
	return copyTerm(s.terms[id]), nil
}

// UpdateTerm implements TermStore.
func (s *MemStore) UpdateTerm(_ context.Context, t *DictionaryTerm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.terms[t.ID]
	if !ok {
		return fmt.Errorf("%w: term %q", ErrNotFound, t.ID)
	}
	t.HeardVariant = strings.ToLower(t.HeardVariant)
	newKey := termKey(t.Language, t.HeardVariant)
	oldKey := termKey(old.Language, old.HeardVariant)
	if newKey != oldKey {
		if _, taken := s.termKeys[newKey]; taken {
			return fmt.Errorf("%w: %s/%q", ErrDuplicateTerm, t.Language, t.HeardVariant)
		}
		delete(s.termKeys, oldKey)
		s.termKeys[newKey] = t.ID
	}
	s.terms[t.ID] = copyTerm(t)
	return nil
}

// ListTerms implements TermStore.
func (s *MemStore) ListTerms(_ context.Context, f TermFilter) ([]*DictionaryTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DictionaryTerm
	for _, t := range s.terms {
		if f.Language != "" && t.Language != f.Language {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Provider != "" && t.ProviderFirstSeen != f.Provider {
			continue
		}
		out = append(out, copyTerm(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AddSpeechRecord implements SpeechRecordStore.
func (s *MemStore) AddSpeechRecord(_ context.Context, r *SpeechRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("%w: speech record %q", ErrDuplicateID, r.ID)
	}
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

// GetSpeechRecord implements SpeechRecordStore.
func (s *MemStore) GetSpeechRecord(_ context.Context, id string) (*SpeechRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: speech record %q", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

// UpdateSpeechRecord implements SpeechRecordStore.
func (s *MemStore) UpdateSpeechRecord(_ context.Context, r *SpeechRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return fmt.Errorf("%w: speech record %q", ErrNotFound, r.ID)
	}
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

// ListSpeechRecords implements SpeechRecordStore.
func (s *MemStore) ListSpeechRecords(_ context.Context, userID string, limit, offset int) ([]*SpeechRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SpeechRecord
	for _, r := range s.records {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSpeechRecordsBefore implements SpeechRecordStore.
func (s *MemStore) ListSpeechRecordsBefore(_ context.Context, cutoff time.Time) ([]*SpeechRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SpeechRecord
	for _, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AddMetric implements MetricStore.
func (s *MemStore) AddMetric(_ context.Context, m *MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, ok := s.metrics[m.ID]; ok {
		return fmt.Errorf("%w: metric %q", ErrDuplicateID, m.ID)
	}
	cp := *m
	s.metrics[m.ID] = &cp
	return nil
}

// ListMetricsByRecord implements MetricStore.
func (s *MemStore) ListMetricsByRecord(_ context.Context, speechRecordID string) ([]*MetricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MetricRecord
	for _, m := range s.metrics {
		if m.SpeechRecordID == speechRecordID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// ListMetricsByProvider implements MetricStore.
func (s *MemStore) ListMetricsByProvider(_ context.Context, provider string, since time.Time) ([]*MetricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MetricRecord
	for _, m := range s.metrics {
		if m.Provider != provider {
			continue
		}
		if !since.IsZero() && m.CreatedAt.Before(since) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AddEvaluation implements EvaluationStore.
func (s *MemStore) AddEvaluation(_ context.Context, e *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, ok := s.evals[e.ID]; ok {
		return fmt.Errorf("%w: evaluation %q", ErrDuplicateID, e.ID)
	}
	cp := *e
	s.evals[e.ID] = &cp
	return nil
}

// ListEvaluationsByTurn implements EvaluationStore.
func (s *MemStore) ListEvaluationsByTurn(_ context.Context, turnID string) ([]*Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Evaluation
	for _, e := range s.evals {
		if e.TurnID == turnID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListEvaluations implements EvaluationStore.
func (s *MemStore) ListEvaluations(_ context.Context, since time.Time) ([]*Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Evaluation
	for _, e := range s.evals {
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func copySession(sess *Session) *Session {
	cp := *sess
	if sess.EndedAt != nil {
		v := *sess.EndedAt
		cp.EndedAt = &v
	}
	if sess.DeviceInfo != nil {
		cp.DeviceInfo = make(map[string]string, len(sess.DeviceInfo))
		for k, v := range sess.DeviceInfo {
			cp.DeviceInfo[k] = v
		}
	}
	return &cp
}

func copyTurn(t *Turn) *Turn {
	cp := *t
	if t.Words != nil {
		cp.Words = append([]WordTiming(nil), t.Words...)
	}
	if t.UserConfirmed != nil {
		v := *t.UserConfirmed
		cp.UserConfirmed = &v
	}
	if t.UserCorrection != nil {
		v := *t.UserCorrection
		cp.UserCorrection = &v
	}
	return &cp
}

func copyTerm(t *DictionaryTerm) *DictionaryTerm {
	cp := *t
	if t.ContextExamples != nil {
		cp.ContextExamples = append([]string(nil), t.ContextExamples...)
	}
	return &cp
}
