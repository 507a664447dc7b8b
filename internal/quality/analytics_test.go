package quality_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aserkali/tilmash/internal/quality"
	"github.com/aserkali/tilmash/internal/store"
)

func TestProviderReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemStore()
	a := quality.NewAnalytics(mem, mem, mem, mem, mem)

	sess := &store.Session{UserID: "u1", STTProviderUsed: "openai", StartedAt: time.Now()}
	if err := mem.AddSession(ctx, sess); err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	other := &store.Session{UserID: "u1", STTProviderUsed: "vosk", StartedAt: time.Now()}
	if err := mem.AddSession(ctx, other); err != nil {
		t.Fatalf("AddSession(other): %v", err)
	}

	confirmed := true
	correction := "включи колонку"
	other2 := "выключи свет"
	turns := []*store.Turn{
		{SessionID: sess.ID, TurnNumber: 1, Confidence: 0.9, STTLatency: 100 * time.Millisecond, UserConfirmed: &confirmed},
		{SessionID: sess.ID, TurnNumber: 2, Confidence: 0.5, STTLatency: 300 * time.Millisecond, LowConfidence: true, UserConfirmed: &confirmed, UserCorrection: &correction},
		// Corrected without a confirmation verdict still counts.
		{SessionID: sess.ID, TurnNumber: 3, Confidence: 0.7, STTLatency: 200 * time.Millisecond, UserCorrection: &other2},
		{SessionID: other.ID, TurnNumber: 1, Confidence: 0.1, STTLatency: time.Second},
	}
	for _, turn := range turns {
		if err := mem.AddTurn(ctx, turn); err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
	}

	rep, err := a.ProviderReport(ctx, "openai", time.Time{})
	if err != nil {
		t.Fatalf("ProviderReport: %v", err)
	}
	if rep.SessionCount != 1 || rep.TurnCount != 3 {
		t.Errorf("sessions/turns = %d/%d, want 1/3", rep.SessionCount, rep.TurnCount)
	}
	if !almostEqual(rep.AvgConfidence, 0.7) {
		t.Errorf("AvgConfidence = %v, want 0.7", rep.AvgConfidence)
	}
	if rep.AvgSTTLatency != 200*time.Millisecond {
		t.Errorf("AvgSTTLatency = %v, want 200ms", rep.AvgSTTLatency)
	}
	if rep.ConfirmedTurns != 2 || rep.CorrectedTurns != 2 {
		t.Errorf("confirmed/corrected = %d/%d, want 2/2", rep.ConfirmedTurns, rep.CorrectedTurns)
	}
	// Corrections over all turns, not over confirmed ones.
	if !almostEqual(rep.CorrectionRate, 2.0/3.0) {
		t.Errorf("CorrectionRate = %v, want 2/3", rep.CorrectionRate)
	}
	if !almostEqual(rep.LowConfidenceRate, 1.0/3.0) {
		t.Errorf("LowConfidenceRate = %v", rep.LowConfidenceRate)
	}
}

func TestProviderReportEmpty(t *testing.T) {
	t.Parallel()
	mem := store.NewMemStore()
	a := quality.NewAnalytics(mem, mem, mem, mem, mem)

	rep, err := a.ProviderReport(context.Background(), "openai", time.Time{})
	if err != nil {
		t.Fatalf("ProviderReport: %v", err)
	}
	if rep.TurnCount != 0 || rep.AvgConfidence != 0 || rep.CorrectionRate != 0 {
		t.Errorf("empty report = %+v", rep)
	}
}

func TestTopUnknownTerms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemStore()
	a := quality.NewAnalytics(mem, mem, mem, mem, mem)

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	terms := []*store.DictionaryTerm{
		{ID: "old", Language: store.LanguageRussian, HeardVariant: "в1", Status: store.TermPending, OccurrenceCount: 3, CreatedAt: base},
		{ID: "new", Language: store.LanguageRussian, HeardVariant: "в2", Status: store.TermPending, OccurrenceCount: 3, CreatedAt: base.Add(time.Hour)},
		{ID: "top", Language: store.LanguageRussian, HeardVariant: "в3", Status: store.TermPending, OccurrenceCount: 9, CreatedAt: base},
		{ID: "approved", Language: store.LanguageRussian, HeardVariant: "в4", Status: store.TermApproved, OccurrenceCount: 99, CreatedAt: base},
	}
	for _, term := range terms {
		if err := mem.AddTerm(ctx, term); err != nil {
			t.Fatalf("AddTerm(%s): %v", term.ID, err)
		}
	}

	got, err := a.TopUnknownTerms(ctx, store.LanguageRussian, 2)
	if err != nil {
		t.Fatalf("TopUnknownTerms: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d terms, want 2", len(got))
	}
	// Highest count first; equal counts keep CreatedAt order.
	if got[0].ID != "top" || got[1].ID != "old" {
		t.Errorf("order = %s, %s; want top, old", got[0].ID, got[1].ID)
	}
}

func TestEvaluateTurn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ev := quality.NewEvaluator(mem, mem, log)

	turn := &store.Turn{SessionID: "s1", TurnNumber: 1, RawTranscript: "включи колоньку"}
	if err := mem.AddTurn(ctx, turn); err != nil {
		t.Fatalf("AddTurn: %v", err)
	}

	eval, err := ev.EvaluateTurn(ctx, turn.ID, "включи колонку", "admin", "manual")
	if err != nil {
		t.Fatalf("EvaluateTurn: %v", err)
	}
	if !almostEqual(eval.WER, 0.5) {
		t.Errorf("WER = %v, want 0.5", eval.WER)
	}
	if !almostEqual(eval.CER, 1.0/14.0) {
		t.Errorf("CER = %v, want 1/14", eval.CER)
	}

	stored, err := mem.ListEvaluationsByTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("ListEvaluationsByTurn: %v", err)
	}
	if len(stored) != 1 || stored[0].GroundTruth != "включи колонку" {
		t.Errorf("stored evaluations = %+v", stored)
	}

	if _, err := ev.EvaluateTurn(ctx, turn.ID, "  ", "admin", "manual"); !errors.Is(err, quality.ErrEmptyGroundTruth) {
		t.Errorf("empty ground truth error = %v", err)
	}
	if _, err := ev.EvaluateTurn(ctx, "missing", "x", "admin", "manual"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing turn error = %v", err)
	}
}
