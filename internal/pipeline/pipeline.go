// Package pipeline orchestrates voice sessions: creating sessions with a
// frozen provider snapshot, transcribing and normalizing turn audio,
// collecting user confirmations as dictionary learning signals, and
// synthesizing assistant responses.
package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aserkali/tilmash/internal/dictionary"
	"github.com/aserkali/tilmash/internal/normalize"
	"github.com/aserkali/tilmash/internal/observe"
	"github.com/aserkali/tilmash/internal/storage"
	"github.com/aserkali/tilmash/internal/store"
)

// Sentinel errors of the session pipeline.
var (
	// ErrSessionEnded is returned by turn operations on an ended session.
	ErrSessionEnded = errors.New("session already ended")

	// ErrEmptyAudio is returned when processing zero-length audio.
	ErrEmptyAudio = errors.New("empty audio input")

	// ErrEmptyText is returned when synthesizing an empty response.
	ErrEmptyText = errors.New("empty response text")

	// ErrAlreadyConfirmed is returned when a turn's transcript is
	// confirmed a second time.
	ErrAlreadyConfirmed = errors.New("transcript already confirmed")

	// ErrNotTestUser is returned when dual-provider processing is
	// requested for a regular user.
	ErrNotTestUser = errors.New("dual-provider mode requires a test user")
)

// Service runs the session pipeline.
type Service struct {
	users    store.UserStore
	sessions store.SessionStore
	turns    store.TurnStore
	blobs    storage.Store
	norm     *normalize.Normalizer
	dict     *dictionary.Service
	provs    *ProviderSet

	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	lowConfThreshold float64
	voice            string
	speed            float64
	secondarySTT     string

	// locksMu guards locks; each session's turn operations serialize on
	// its own mutex so turn numbers never collide.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics overrides the default metrics instance. Intended for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLowConfidenceThreshold sets the recognition confidence below which a
// turn is flagged for user confirmation.
func WithLowConfidenceThreshold(t float64) Option {
	return func(s *Service) { s.lowConfThreshold = t }
}

// WithVoice sets the synthesis voice passed to TTS providers.
func WithVoice(voice string) Option {
	return func(s *Service) { s.voice = voice }
}

// WithSpeed sets the synthesis speed passed to TTS providers.
func WithSpeed(speed float64) Option {
	return func(s *Service) { s.speed = speed }
}

// WithSecondarySTT names the STT provider dual-provider test sessions run in
// parallel with the session's frozen provider.
func WithSecondarySTT(name string) Option {
	return func(s *Service) { s.secondarySTT = name }
}

// New returns a pipeline service. The store st supplies users, sessions and
// turns; blobs holds turn audio; norm and dict implement the self-learning
// normalization loop; provs resolves the providers frozen in each session.
func New(st store.Store, blobs storage.Store, norm *normalize.Normalizer, dict *dictionary.Service, provs *ProviderSet, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		users:            st,
		sessions:         st,
		turns:            st,
		blobs:            blobs,
		norm:             norm,
		dict:             dict,
		provs:            provs,
		log:              log,
		now:              time.Now,
		lowConfThreshold: 0.7,
		voice:            "nova",
		speed:            1.0,
		locks:            make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// lockSession serializes turn operations per session. The returned func
// releases the lock.
func (s *Service) lockSession(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) dropSessionLock(id string) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}
