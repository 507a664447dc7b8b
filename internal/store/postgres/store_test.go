package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aserkali/tilmash/internal/store"
	"github.com/aserkali/tilmash/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if TILMASH_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TILMASH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TILMASH_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS metric_records CASCADE",
		"DROP TABLE IF EXISTS speech_records CASCADE",
		"DROP TABLE IF EXISTS evaluations CASCADE",
		"DROP TABLE IF EXISTS dictionary_terms CASCADE",
		"DROP TABLE IF EXISTS turns CASCADE",
		"DROP TABLE IF EXISTS sessions CASCADE",
		"DROP TABLE IF EXISTS users CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
}

func TestUserRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := &store.User{
		Name:        "Aigerim",
		Language:    store.LanguageKazakh,
		STTProvider: "vosk",
		TTSProvider: "openai",
		IsTestUser:  true,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := st.AddUser(ctx, u); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if u.ID == "" {
		t.Fatal("AddUser did not assign an ID")
	}

	got, err := st.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Name != "Aigerim" || got.Language != store.LanguageKazakh || !got.IsTestUser {
		t.Errorf("GetUser = %+v", got)
	}
	if got.LastActiveAt != nil {
		t.Errorf("LastActiveAt = %v, want nil", got.LastActiveAt)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	got.LastActiveAt = &now
	got.STTProvider = "openai"
	if err := st.UpdateUser(ctx, got); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	again, err := st.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if again.STTProvider != "openai" || again.LastActiveAt == nil || !again.LastActiveAt.Equal(now) {
		t.Errorf("updated user = %+v", again)
	}

	if _, err := st.GetUser(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetUser(missing) = %v, want ErrNotFound", err)
	}
	if err := st.UpdateUser(ctx, &store.User{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateUser(missing) = %v, want ErrNotFound", err)
	}
	if err := st.AddUser(ctx, &store.User{ID: u.ID}); !errors.Is(err, store.ErrDuplicateID) {
		t.Errorf("AddUser(dup) = %v, want ErrDuplicateID", err)
	}
}

func TestSessionFilteringAndDeviceInfo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	sessions := []*store.Session{
		{UserID: "u1", Language: store.LanguageRussian, StartedAt: base, STTProviderUsed: "openai", TTSProviderUsed: "openai",
			DeviceInfo: map[string]string{"firmware": "2.4.1", "model": "speaker-v2"}},
		{UserID: "u1", Language: store.LanguageRussian, StartedAt: base.Add(time.Minute), STTProviderUsed: "vosk", TTSProviderUsed: "openai"},
		{UserID: "u2", Language: store.LanguageKazakh, StartedAt: base.Add(2 * time.Minute), STTProviderUsed: "openai", TTSProviderUsed: "openai"},
	}
	for _, sess := range sessions {
		if err := st.AddSession(ctx, sess); err != nil {
			t.Fatalf("AddSession: %v", err)
		}
	}

	got, err := st.ListSessions(ctx, store.SessionFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 || !got[0].StartedAt.Before(got[1].StartedAt) {
		t.Fatalf("ListSessions(u1) returned %d sessions", len(got))
	}
	if got[0].DeviceInfo["firmware"] != "2.4.1" {
		t.Errorf("DeviceInfo = %v", got[0].DeviceInfo)
	}

	got, err = st.ListSessions(ctx, store.SessionFilter{STTProvider: "vosk"})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Errorf("ListSessions(vosk) = %d sessions", len(got))
	}

	got, err = st.ListSessions(ctx, store.SessionFilter{Since: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 1 || got[0].Language != store.LanguageKazakh {
		t.Errorf("ListSessions(since) = %d sessions", len(got))
	}

	ended := base.Add(10 * time.Minute)
	got[0].EndedAt = &ended
	if err := st.UpdateSession(ctx, got[0]); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	reloaded, err := st.GetSession(ctx, got[0].ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !reloaded.Ended() || !reloaded.EndedAt.Equal(ended) {
		t.Errorf("session not ended after update: %+v", reloaded)
	}
}

func TestTurnRoundTripAndNumbering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	n, err := st.MaxTurnNumber(ctx, "s1")
	if err != nil {
		t.Fatalf("MaxTurnNumber: %v", err)
	}
	if n != 0 {
		t.Errorf("MaxTurnNumber(empty) = %d, want 0", n)
	}

	confirmed := true
	correction := "включи колонку"
	turn := &store.Turn{
		SessionID:            "s1",
		TurnNumber:           1,
		CreatedAt:            now,
		AudioInputKey:        "sessions/s1/turns/1/input.wav",
		RawTranscript:        "включи колоньку",
		NormalizedTranscript: "включи колонку",
		Confidence:           0.62,
		STTLatency:           340 * time.Millisecond,
		Words: []store.WordTiming{
			{Word: "включи", Start: 100 * time.Millisecond, End: 500 * time.Millisecond, Confidence: 0.9},
			{Word: "колоньку", Start: 600 * time.Millisecond, End: 1200 * time.Millisecond, Confidence: 0.4},
		},
		LowConfidence:  true,
		UserConfirmed:  &confirmed,
		UserCorrection: &correction,
	}
	if err := st.AddTurn(ctx, turn); err != nil {
		t.Fatalf("AddTurn: %v", err)
	}
	if err := st.AddTurn(ctx, &store.Turn{SessionID: "s1", TurnNumber: 2, CreatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("AddTurn: %v", err)
	}

	got, err := st.GetTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if got.STTLatency != 340*time.Millisecond {
		t.Errorf("STTLatency = %v", got.STTLatency)
	}
	if len(got.Words) != 2 || got.Words[1].Word != "колоньку" || got.Words[1].End != 1200*time.Millisecond {
		t.Errorf("Words = %+v", got.Words)
	}
	if got.UserConfirmed == nil || !*got.UserConfirmed {
		t.Error("UserConfirmed not persisted")
	}
	if got.UserCorrection == nil || *got.UserCorrection != correction {
		t.Errorf("UserCorrection = %v", got.UserCorrection)
	}

	n, err = st.MaxTurnNumber(ctx, "s1")
	if err != nil {
		t.Fatalf("MaxTurnNumber: %v", err)
	}
	if n != 2 {
		t.Errorf("MaxTurnNumber = %d, want 2", n)
	}

	turns, err := st.ListTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].TurnNumber != 1 || turns[1].TurnNumber != 2 {
		t.Errorf("ListTurns order wrong: %d turns", len(turns))
	}

	old, err := st.ListTurnsWithAudioBefore(ctx, now.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("ListTurnsWithAudioBefore: %v", err)
	}
	if len(old) != 1 || old[0].ID != turn.ID {
		t.Errorf("ListTurnsWithAudioBefore = %d turns", len(old))
	}
}

func TestTermUniquenessAndListing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	term := &store.DictionaryTerm{
		Language:          store.LanguageRussian,
		HeardVariant:      "Колонька",
		CorrectForm:       "колонка",
		ContextExamples:   []string{"включи колоньку"},
		OccurrenceCount:   1,
		Status:            store.TermPending,
		ProviderFirstSeen: "vosk",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := st.AddTerm(ctx, term); err != nil {
		t.Fatalf("AddTerm: %v", err)
	}

	// Stored lowercased, unique per (language, variant).
	got, err := st.GetTermByVariant(ctx, store.LanguageRussian, "КОЛОНЬКА")
	if err != nil {
		t.Fatalf("GetTermByVariant: %v", err)
	}
	if got.HeardVariant != "колонька" || got.ContextExamples[0] != "включи колоньку" {
		t.Errorf("term = %+v", got)
	}

	dup := &store.DictionaryTerm{Language: store.LanguageRussian, HeardVariant: "колонька", Status: store.TermPending, CreatedAt: now, UpdatedAt: now}
	if err := st.AddTerm(ctx, dup); !errors.Is(err, store.ErrDuplicateTerm) {
		t.Errorf("AddTerm(dup) = %v, want ErrDuplicateTerm", err)
	}

	// Same variant in the other language is a distinct term.
	kk := &store.DictionaryTerm{Language: store.LanguageKazakh, HeardVariant: "колонька", Status: store.TermApproved, CreatedAt: now.Add(time.Second), UpdatedAt: now}
	if err := st.AddTerm(ctx, kk); err != nil {
		t.Fatalf("AddTerm(kk): %v", err)
	}

	terms, err := st.ListTerms(ctx, store.TermFilter{Status: store.TermPending})
	if err != nil {
		t.Fatalf("ListTerms: %v", err)
	}
	if len(terms) != 1 || terms[0].Language != store.LanguageRussian {
		t.Errorf("ListTerms(pending) = %d terms", len(terms))
	}

	terms, err = st.ListTerms(ctx, store.TermFilter{Provider: "vosk"})
	if err != nil {
		t.Fatalf("ListTerms: %v", err)
	}
	if len(terms) != 1 || terms[0].ID != term.ID {
		t.Errorf("ListTerms(provider) = %d terms", len(terms))
	}

	got.Status = store.TermApproved
	got.ApprovedBy = "admin"
	if err := st.UpdateTerm(ctx, got); err != nil {
		t.Fatalf("UpdateTerm: %v", err)
	}
	approved, err := st.GetTerm(ctx, got.ID)
	if err != nil {
		t.Fatalf("GetTerm: %v", err)
	}
	if approved.Status != store.TermApproved || approved.ApprovedBy != "admin" {
		t.Errorf("approved term = %+v", approved)
	}
}

func TestComparisonRecordsAndMetrics(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	var recordIDs []string
	for i := 0; i < 3; i++ {
		r := &store.SpeechRecord{
			UserID:           "u1",
			AudioKey:         "comparisons/audio.wav",
			RecognizedTextRu: "привет",
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AddSpeechRecord(ctx, r); err != nil {
			t.Fatalf("AddSpeechRecord: %v", err)
		}
		recordIDs = append(recordIDs, r.ID)
	}

	// Newest first with limit/offset.
	page, err := st.ListSpeechRecords(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("ListSpeechRecords: %v", err)
	}
	if len(page) != 2 || page[0].ID != recordIDs[2] || page[1].ID != recordIDs[1] {
		t.Errorf("first page wrong: %d records", len(page))
	}
	page, err = st.ListSpeechRecords(ctx, "u1", 2, 2)
	if err != nil {
		t.Fatalf("ListSpeechRecords: %v", err)
	}
	if len(page) != 1 || page[0].ID != recordIDs[0] {
		t.Errorf("second page wrong: %d records", len(page))
	}

	for i, provider := range []string{"openai", "vosk"} {
		m := &store.MetricRecord{
			SpeechRecordID: recordIDs[0],
			Provider:       provider,
			Confidence:     0.9 - float64(i)*0.2,
			ProcessingTime: 150 * time.Millisecond,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AddMetric(ctx, m); err != nil {
			t.Fatalf("AddMetric: %v", err)
		}
	}

	metrics, err := st.ListMetricsByRecord(ctx, recordIDs[0])
	if err != nil {
		t.Fatalf("ListMetricsByRecord: %v", err)
	}
	if len(metrics) != 2 || metrics[0].Provider != "openai" || metrics[1].Provider != "vosk" {
		t.Errorf("ListMetricsByRecord = %d metrics", len(metrics))
	}
	if metrics[0].ProcessingTime != 150*time.Millisecond {
		t.Errorf("ProcessingTime = %v", metrics[0].ProcessingTime)
	}

	metrics, err = st.ListMetricsByProvider(ctx, "vosk", base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListMetricsByProvider: %v", err)
	}
	if len(metrics) != 1 {
		t.Errorf("ListMetricsByProvider(since) = %d metrics", len(metrics))
	}
	metrics, err = st.ListMetricsByProvider(ctx, "openai", time.Time{})
	if err != nil {
		t.Fatalf("ListMetricsByProvider: %v", err)
	}
	if len(metrics) != 1 {
		t.Errorf("ListMetricsByProvider(all) = %d metrics", len(metrics))
	}
}

func TestEvaluationListing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	for i := 0; i < 2; i++ {
		e := &store.Evaluation{
			TurnID:      "t1",
			GroundTruth: "включи свет",
			LabeledBy:   "annotator-1",
			Source:      "manual",
			WER:         0.5,
			CER:         0.1,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AddEvaluation(ctx, e); err != nil {
			t.Fatalf("AddEvaluation: %v", err)
		}
	}

	evals, err := st.ListEvaluationsByTurn(ctx, "t1")
	if err != nil {
		t.Fatalf("ListEvaluationsByTurn: %v", err)
	}
	if len(evals) != 2 || !evals[0].CreatedAt.Before(evals[1].CreatedAt) {
		t.Errorf("ListEvaluationsByTurn = %d evals", len(evals))
	}

	evals, err = st.ListEvaluations(ctx, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(evals) != 1 {
		t.Errorf("ListEvaluations(since) = %d evals", len(evals))
	}
}
