package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/aserkali/tilmash/internal/dictionary"
	"github.com/aserkali/tilmash/internal/normalize"
	"github.com/aserkali/tilmash/internal/observe"
	"github.com/aserkali/tilmash/internal/pipeline"
	"github.com/aserkali/tilmash/internal/storage"
	"github.com/aserkali/tilmash/internal/store"
	"github.com/aserkali/tilmash/pkg/provider/stt"
	sttmock "github.com/aserkali/tilmash/pkg/provider/stt/mock"
	ttsmock "github.com/aserkali/tilmash/pkg/provider/tts/mock"
)

type fixture struct {
	store   *store.MemStore
	blobs   *storage.Mem
	dict    *dictionary.Service
	sttMock *sttmock.Provider
	ttsMock *ttsmock.Provider
	provs   *pipeline.ProviderSet
	svc     *pipeline.Service
}

func newFixture(t *testing.T, opts ...pipeline.Option) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemStore()
	blobs := storage.NewMem()
	cache := dictionary.NewCache(mem)
	dict := dictionary.NewService(mem, cache, log)
	norm := normalize.New(cache, log)

	sttMock := &sttmock.Provider{
		ProviderName: "stt-a",
		Result:       &stt.Result{Text: "включи свет", Confidence: 0.95},
	}
	ttsMock := &ttsmock.Provider{ProviderName: "tts-a"}
	provs := pipeline.NewProviderSet()
	provs.AddSTT(sttMock)
	provs.AddTTS(ttsMock)

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	opts = append([]pipeline.Option{pipeline.WithMetrics(metrics)}, opts...)
	svc := pipeline.New(mem, blobs, norm, dict, provs, log, opts...)
	return &fixture{store: mem, blobs: blobs, dict: dict, sttMock: sttMock, ttsMock: ttsMock, provs: provs, svc: svc}
}

func (f *fixture) addUser(t *testing.T, isTest bool) *store.User {
	t.Helper()
	u := &store.User{
		Name:        "Aida",
		Language:    store.LanguageRussian,
		STTProvider: "stt-a",
		TTSProvider: "tts-a",
		IsTestUser:  isTest,
	}
	if err := f.store.AddUser(context.Background(), u); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	return u
}

func TestCreateSessionFreezesProviders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)

	sess, err := f.svc.CreateSession(ctx, user.ID, map[string]string{"app": "test"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.STTProviderUsed != "stt-a" || sess.Language != store.LanguageRussian {
		t.Errorf("session snapshot = %+v", sess)
	}

	// Changing the user's preference must not affect the session.
	user.STTProvider = "stt-other"
	if err := f.store.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if _, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm")); err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if f.sttMock.CallCount() != 1 {
		t.Errorf("frozen provider calls = %d, want 1", f.sttMock.CallCount())
	}

	stored, err := f.store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.LastActiveAt == nil {
		t.Error("LastActiveAt not set on session creation")
	}
}

func TestCreateSessionUnknownUserAndProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.CreateSession(ctx, "missing", nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("CreateSession(missing user) error = %v", err)
	}

	u := &store.User{Language: store.LanguageRussian, STTProvider: "nope", TTSProvider: "tts-a"}
	if err := f.store.AddUser(ctx, u); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, err := f.svc.CreateSession(ctx, u.ID, nil); err == nil {
		t.Error("CreateSession with unknown provider succeeded")
	}
}

func TestProcessAudioTurnNumbersAndStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for want := 1; want <= 3; want++ {
		res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
		if err != nil {
			t.Fatalf("ProcessAudio(%d): %v", want, err)
		}
		if res.Turn.TurnNumber != want {
			t.Errorf("TurnNumber = %d, want %d", res.Turn.TurnNumber, want)
		}
		if _, err := f.blobs.Download(ctx, res.Turn.AudioInputKey); err != nil {
			t.Errorf("input audio not stored under %q: %v", res.Turn.AudioInputKey, err)
		}
	}

	if _, err := f.svc.ProcessAudio(ctx, sess.ID, nil); !errors.Is(err, pipeline.ErrEmptyAudio) {
		t.Errorf("ProcessAudio(empty) error = %v", err)
	}
}

func TestProcessAudioNormalizesAndLearns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)

	term, err := f.dict.RecordOccurrence(ctx, store.LanguageRussian, "колонька", "stt-a", "")
	if err != nil {
		t.Fatalf("RecordOccurrence: %v", err)
	}
	if _, err := f.dict.Approve(ctx, term.ID, "колонка", "admin"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	f.sttMock.Result = &stt.Result{Text: "включи колонька плиз брумбокс", Confidence: 0.5}
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}

	if res.Turn.RawTranscript != "включи колонька плиз брумбокс" {
		t.Errorf("RawTranscript = %q", res.Turn.RawTranscript)
	}
	if res.Turn.NormalizedTranscript != "включи колонка плиз брумбокс" {
		t.Errorf("NormalizedTranscript = %q", res.Turn.NormalizedTranscript)
	}
	if len(res.Corrections) != 1 {
		t.Errorf("Corrections = %+v", res.Corrections)
	}

	// Unmatched low-confidence tokens became pending dictionary candidates.
	for _, variant := range []string{"включи", "плиз", "брумбокс"} {
		got, err := f.store.GetTermByVariant(ctx, store.LanguageRussian, variant)
		if err != nil {
			t.Errorf("candidate %q not recorded: %v", variant, err)
			continue
		}
		if got.Status != store.TermPending || got.ProviderFirstSeen != "stt-a" {
			t.Errorf("candidate %q = %+v", variant, got)
		}
	}
}

func TestProcessAudioConfidentTurnRecordsNoCandidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	f.sttMock.Result = &stt.Result{Text: "включи брумбокс", Confidence: 0.95}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if len(res.UnknownTerms) != 0 {
		t.Errorf("UnknownTerms = %v, want none at high confidence", res.UnknownTerms)
	}
	for _, variant := range []string{"включи", "брумбокс"} {
		if _, err := f.store.GetTermByVariant(ctx, store.LanguageRussian, variant); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("candidate %q recorded from a confident turn (err = %v)", variant, err)
		}
	}
}

func TestProcessAudioLowConfidence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	f.sttMock.Result = &stt.Result{Text: "что то", Confidence: 0.4}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if !res.NeedsConfirmation || !res.Turn.LowConfidence {
		t.Errorf("low-confidence turn not flagged: %+v", res)
	}
}

func TestConfirmTranscriptLearning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.sttMock.Result = &stt.Result{Text: "включи колоньку", Confidence: 0.5}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}

	turn, err := f.svc.ConfirmTranscript(ctx, sess.ID, res.Turn.ID, false, "включи колонку")
	if err != nil {
		t.Fatalf("ConfirmTranscript: %v", err)
	}
	if turn.UserConfirmed == nil || *turn.UserConfirmed {
		t.Errorf("UserConfirmed = %v, want false", turn.UserConfirmed)
	}
	if turn.UserCorrection == nil || *turn.UserCorrection != "включи колонку" {
		t.Errorf("UserCorrection = %v", turn.UserCorrection)
	}

	// The whole raw transcript became a candidate carrying the correction
	// as suggested form and context.
	phrase, err := f.store.GetTermByVariant(ctx, store.LanguageRussian, "включи колоньку")
	if err != nil {
		t.Fatalf("phrase candidate not recorded: %v", err)
	}
	if phrase.CorrectForm != "включи колонку" || phrase.Status != store.TermPending {
		t.Errorf("phrase candidate = %+v", phrase)
	}
	if len(phrase.ContextExamples) == 0 || phrase.ContextExamples[len(phrase.ContextExamples)-1] != "включи колонку" {
		t.Errorf("phrase context = %v, want the correction text", phrase.ContextExamples)
	}

	// The differing word pair became a candidate with a suggested form.
	got, err := f.store.GetTermByVariant(ctx, store.LanguageRussian, "колоньку")
	if err != nil {
		t.Fatalf("candidate not recorded: %v", err)
	}
	if got.CorrectForm != "колонку" || got.Status != store.TermPending {
		t.Errorf("candidate = %+v", got)
	}

	if _, err := f.svc.ConfirmTranscript(ctx, sess.ID, res.Turn.ID, true, ""); !errors.Is(err, pipeline.ErrAlreadyConfirmed) {
		t.Errorf("second confirmation error = %v", err)
	}
}

func TestConfirmTranscriptConfirmedWithCorrectionStillLearns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.sttMock.Result = &stt.Result{Text: "привет мир", Confidence: 0.9}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}

	// A confirming verdict may still carry a corrected transcript; the
	// learning signal is recorded either way.
	turn, err := f.svc.ConfirmTranscript(ctx, sess.ID, res.Turn.ID, true, "привет большой мир")
	if err != nil {
		t.Fatalf("ConfirmTranscript: %v", err)
	}
	if turn.UserCorrection == nil || *turn.UserCorrection != "привет большой мир" {
		t.Errorf("UserCorrection = %v", turn.UserCorrection)
	}

	phrase, err := f.store.GetTermByVariant(ctx, store.LanguageRussian, "привет мир")
	if err != nil {
		t.Fatalf("phrase candidate not recorded: %v", err)
	}
	if phrase.CorrectForm != "привет большой мир" {
		t.Errorf("CorrectForm = %q", phrase.CorrectForm)
	}
	if len(phrase.ContextExamples) == 0 || phrase.ContextExamples[0] != "привет большой мир" {
		t.Errorf("ContextExamples = %v", phrase.ContextExamples)
	}
}

func TestTurnOperationsRejectWrongSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)

	first, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	res, err := f.svc.ProcessAudio(ctx, first.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	other, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession(other): %v", err)
	}

	if _, err := f.svc.ConfirmTranscript(ctx, other.ID, res.Turn.ID, true, ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ConfirmTranscript via wrong session error = %v", err)
	}
	if _, err := f.svc.GenerateResponse(ctx, other.ID, res.Turn.ID, "ответ"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GenerateResponse via wrong session error = %v", err)
	}

	// Addressed through its own session the turn is still untouched.
	turn, err := f.svc.ConfirmTranscript(ctx, first.ID, res.Turn.ID, true, "")
	if err != nil {
		t.Fatalf("ConfirmTranscript: %v", err)
	}
	if turn.UserConfirmed == nil || !*turn.UserConfirmed {
		t.Errorf("UserConfirmed = %v, want true", turn.UserConfirmed)
	}
}

func TestConfirmTranscriptMatchingCorrectionIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.sttMock.Result = &stt.Result{Text: "включи свет", Confidence: 0.5}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}

	// A correction equal to the raw transcript carries no signal.
	turn, err := f.svc.ConfirmTranscript(ctx, sess.ID, res.Turn.ID, false, "Включи Свет")
	if err != nil {
		t.Fatalf("ConfirmTranscript: %v", err)
	}
	if turn.UserCorrection != nil {
		t.Errorf("UserCorrection = %v, want nil", turn.UserCorrection)
	}
}

func TestGenerateResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}

	turn, err := f.svc.GenerateResponse(ctx, sess.ID, res.Turn.ID, "свет включён")
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if turn.AssistantText != "свет включён" {
		t.Errorf("AssistantText = %q", turn.AssistantText)
	}
	if !strings.HasSuffix(turn.AudioOutputKey, "output.mp3") {
		t.Errorf("AudioOutputKey = %q", turn.AudioOutputKey)
	}
	if _, err := f.blobs.Download(ctx, turn.AudioOutputKey); err != nil {
		t.Errorf("output audio not stored: %v", err)
	}
	if f.ttsMock.CallCount() != 1 {
		t.Errorf("tts calls = %d, want 1", f.ttsMock.CallCount())
	}

	if _, err := f.svc.GenerateResponse(ctx, sess.ID, res.Turn.ID, "  "); !errors.Is(err, pipeline.ErrEmptyText) {
		t.Errorf("GenerateResponse(empty) error = %v", err)
	}
}

func TestEndedSessionRejectsTurnOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	res, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}

	ended, err := f.svc.EndSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if !ended.Ended() {
		t.Fatal("session not marked ended")
	}

	// Ending again is a no-op.
	again, err := f.svc.EndSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EndSession(again): %v", err)
	}
	if !again.EndedAt.Equal(*ended.EndedAt) {
		t.Errorf("EndedAt changed on repeat: %v != %v", again.EndedAt, ended.EndedAt)
	}

	if _, err := f.svc.ProcessAudio(ctx, sess.ID, []byte("pcm")); !errors.Is(err, pipeline.ErrSessionEnded) {
		t.Errorf("ProcessAudio after end error = %v", err)
	}
	if _, err := f.svc.ConfirmTranscript(ctx, sess.ID, res.Turn.ID, true, ""); !errors.Is(err, pipeline.ErrSessionEnded) {
		t.Errorf("ConfirmTranscript after end error = %v", err)
	}
	if _, err := f.svc.GenerateResponse(ctx, sess.ID, res.Turn.ID, "ответ"); !errors.Is(err, pipeline.ErrSessionEnded) {
		t.Errorf("GenerateResponse after end error = %v", err)
	}
}

func TestEndSessionMissingIsNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	sess, err := f.svc.EndSession(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("EndSession(missing) error = %v, want nil", err)
	}
	if sess != nil {
		t.Errorf("session = %+v, want nil", sess)
	}
}

func TestProcessDual(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	secondary := &sttmock.Provider{
		ProviderName: "stt-b",
		Result:       &stt.Result{Text: "включи свет пожалуйста", Confidence: 0.8},
	}
	f := newFixture(t, pipeline.WithSecondarySTT("stt-b"))
	f.provs.AddSTT(secondary)

	user := f.addUser(t, true)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	res, err := f.svc.ProcessDual(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessDual: %v", err)
	}
	if res.Turn == nil || res.Turn.TurnNumber != 1 {
		t.Fatalf("primary turn = %+v", res.TurnResult)
	}
	if res.Secondary == nil || res.Secondary.Text != "включи свет пожалуйста" {
		t.Errorf("Secondary = %+v", res.Secondary)
	}
	if res.SecondaryProvider != "stt-b" {
		t.Errorf("SecondaryProvider = %q", res.SecondaryProvider)
	}
}

func TestProcessDualSecondaryFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	secondary := &sttmock.Provider{
		ProviderName: "stt-b",
		Err:          errors.New("boom"),
	}
	f := newFixture(t, pipeline.WithSecondarySTT("stt-b"))
	f.provs.AddSTT(secondary)

	user := f.addUser(t, true)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	res, err := f.svc.ProcessDual(ctx, sess.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("ProcessDual: %v", err)
	}
	if res.Secondary != nil {
		t.Errorf("Secondary = %+v, want nil after failure", res.Secondary)
	}
	if res.Turn == nil {
		t.Error("primary turn missing")
	}
}

func TestProcessDualRequiresTestUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	secondary := &sttmock.Provider{ProviderName: "stt-b", Result: &stt.Result{Text: "x", Confidence: 1}}
	f := newFixture(t, pipeline.WithSecondarySTT("stt-b"))
	f.provs.AddSTT(secondary)

	user := f.addUser(t, false)
	sess, err := f.svc.CreateSession(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.svc.ProcessDual(ctx, sess.ID, []byte("pcm")); !errors.Is(err, pipeline.ErrNotTestUser) {
		t.Errorf("ProcessDual error = %v", err)
	}
}
