// Package store defines the persistence model for the Tilmash speech
// pipeline: users and their provider preferences, sessions with frozen
// provider snapshots, per-session turns, the self-learning dictionary of
// correction terms, and the metric records produced by provider comparisons.
//
// The package exposes narrow repository interfaces so services never assume a
// specific storage engine; [MemStore] is the in-memory implementation and
// store/postgres the pgx-backed one.
package store

import "time"

// Language is a supported recognition/synthesis language.
type Language string

const (
	LanguageRussian Language = "ru"
	LanguageKazakh  Language = "kk"
)

// IsValid reports whether l is a recognised language code.
func (l Language) IsValid() bool {
	return l == LanguageRussian || l == LanguageKazakh
}

// TermStatus is the review state of a dictionary term.
type TermStatus string

const (
	// TermPending means the term awaits admin review.
	TermPending TermStatus = "pending"

	// TermApproved means the term participates in normalization.
	TermApproved TermStatus = "approved"

	// TermRejected means the term is excluded from normalization.
	// A previously approved term may be rejected to retire it.
	TermRejected TermStatus = "rejected"
)

// User holds the preference snapshot read at session creation. The language
// and provider fields are copied into each new session and the copies stay
// immutable even if the user later changes preferences.
type User struct {
	ID           string
	Name         string
	Language     Language
	STTProvider  string
	TTSProvider  string
	IsTestUser   bool
	CreatedAt    time.Time
	LastActiveAt *time.Time
}

// Session is one conversation between a user and the assistant. Language,
// STTProviderUsed and TTSProviderUsed are copied from the user at creation
// and stay frozen for the session's lifetime; a non-nil EndedAt is terminal.
type Session struct {
	ID              string
	UserID          string
	Language        Language
	StartedAt       time.Time
	EndedAt         *time.Time
	STTProviderUsed string
	TTSProviderUsed string
	DeviceInfo      map[string]string
}

// Ended reports whether the session has been ended.
func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// WordTiming is the per-word STT detail persisted with a turn.
type WordTiming struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// Turn is one user-utterance/assistant-response exchange within a session.
// TurnNumber starts at 1 and is strictly increasing per session; numbers are
// never reused even after a turn is removed.
//
// Fields are written in phases: the transcription fields once by
// ProcessAudio, the confirmation fields once by ConfirmTranscript, and the
// response fields once by GenerateResponse. RawTranscript is immutable once
// written.
type Turn struct {
	ID         string
	SessionID  string
	TurnNumber int
	CreatedAt  time.Time

	// Input / transcription phase.
	AudioInputKey        string
	RawTranscript        string
	NormalizedTranscript string
	Confidence           float64
	STTLatency           time.Duration
	Words                []WordTiming
	LowConfidence        bool

	// Confirmation phase.
	UserConfirmed  *bool
	UserCorrection *string

	// Response phase.
	AssistantText  string
	AudioOutputKey string
	TTSLatency     time.Duration
}

// DictionaryTerm is a correction-dictionary entry per (language, heard
// variant). HeardVariant is stored lowercased and is unique within its
// language.
type DictionaryTerm struct {
	ID                string
	Language          Language
	HeardVariant      string
	CorrectForm       string
	ContextExamples   []string
	OccurrenceCount   int
	Status            TermStatus
	ProviderFirstSeen string
	ApprovedBy        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SpeechRecord is the parent record of one comparison-harness run: the stored
// audio plus the chosen primary transcript per language.
type SpeechRecord struct {
	ID               string
	UserID           string
	AudioKey         string
	RecognizedTextRu string
	RecognizedTextKk string
	CreatedAt        time.Time
}

// MetricRecord is the outcome of one provider attempt inside a comparison
// run. Exactly one record exists per configured provider per run; a failed
// attempt is recorded with zero confidence and zero processing time.
type MetricRecord struct {
	ID             string
	SpeechRecordID string
	Provider       string
	Confidence     float64
	ProcessingTime time.Duration
	CreatedAt      time.Time
}

// Evaluation stores a ground-truth label and the WER/CER computed for a
// turn's raw transcript against it.
type Evaluation struct {
	ID          string
	TurnID      string
	GroundTruth string
	LabeledBy   string
	Source      string
	WER         float64
	CER         float64
	CreatedAt   time.Time
}
