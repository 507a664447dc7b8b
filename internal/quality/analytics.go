package quality

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aserkali/tilmash/internal/store"
)

// ProviderReport aggregates one STT provider's recognition quality over a
// time window.
type ProviderReport struct {
	Provider string
	Since    time.Time

	// Session-derived aggregates. CorrectionRate is the share of all
	// turns carrying a user correction.
	SessionCount      int
	TurnCount         int
	AvgConfidence     float64
	AvgSTTLatency     time.Duration
	ConfirmedTurns    int
	CorrectedTurns    int
	CorrectionRate    float64
	LowConfidenceRate float64

	// Comparison-harness aggregates.
	ComparisonRuns    int
	AvgComparisonConf float64
	AvgProcessingTime time.Duration
}

// EvaluationSummary aggregates ground-truth evaluations over a window.
type EvaluationSummary struct {
	Count  int
	AvgWER float64
	AvgCER float64
}

// Analytics reads stored sessions, turns, terms, metrics and evaluations to
// produce aggregate reports.
type Analytics struct {
	sessions store.SessionStore
	turns    store.TurnStore
	terms    store.TermStore
	metrics  store.MetricStore
	evals    store.EvaluationStore
}

// NewAnalytics returns an Analytics reading from the given stores.
func NewAnalytics(sessions store.SessionStore, turns store.TurnStore, terms store.TermStore, metrics store.MetricStore, evals store.EvaluationStore) *Analytics {
	return &Analytics{
		sessions: sessions,
		turns:    turns,
		terms:    terms,
		metrics:  metrics,
		evals:    evals,
	}
}

// ProviderReport aggregates the provider's turns and comparison metrics
// since the given time. A zero since covers everything.
func (a *Analytics) ProviderReport(ctx context.Context, provider string, since time.Time) (*ProviderReport, error) {
	sessions, err := a.sessions.ListSessions(ctx, store.SessionFilter{STTProvider: provider, Since: since})
	if err != nil {
		return nil, fmt.Errorf("provider report: list sessions: %w", err)
	}

	rep := &ProviderReport{Provider: provider, Since: since, SessionCount: len(sessions)}
	var confSum float64
	var latencySum time.Duration
	var lowConf int
	for _, sess := range sessions {
		turns, err := a.turns.ListTurns(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("provider report: list turns of %s: %w", sess.ID, err)
		}
		for _, turn := range turns {
			rep.TurnCount++
			confSum += turn.Confidence
			latencySum += turn.STTLatency
			if turn.LowConfidence {
				lowConf++
			}
			if turn.UserConfirmed != nil {
				rep.ConfirmedTurns++
			}
			if turn.UserCorrection != nil {
				rep.CorrectedTurns++
			}
		}
	}
	if rep.TurnCount > 0 {
		rep.AvgConfidence = confSum / float64(rep.TurnCount)
		rep.AvgSTTLatency = latencySum / time.Duration(rep.TurnCount)
		rep.LowConfidenceRate = float64(lowConf) / float64(rep.TurnCount)
		rep.CorrectionRate = float64(rep.CorrectedTurns) / float64(rep.TurnCount)
	}

	metrics, err := a.metrics.ListMetricsByProvider(ctx, provider, since)
	if err != nil {
		return nil, fmt.Errorf("provider report: list metrics: %w", err)
	}
	rep.ComparisonRuns = len(metrics)
	if len(metrics) > 0 {
		var mConfSum float64
		var mTimeSum time.Duration
		for _, m := range metrics {
			mConfSum += m.Confidence
			mTimeSum += m.ProcessingTime
		}
		rep.AvgComparisonConf = mConfSum / float64(len(metrics))
		rep.AvgProcessingTime = mTimeSum / time.Duration(len(metrics))
	}
	return rep, nil
}

// TopUnknownTerms returns the n pending terms with the highest occurrence
// counts in the given language. Equal counts order by CreatedAt then ID so
// the ranking is stable.
func (a *Analytics) TopUnknownTerms(ctx context.Context, lang store.Language, n int) ([]*store.DictionaryTerm, error) {
	terms, err := a.terms.ListTerms(ctx, store.TermFilter{Language: lang, Status: store.TermPending})
	if err != nil {
		return nil, fmt.Errorf("top unknown terms: %w", err)
	}
	sort.SliceStable(terms, func(i, j int) bool {
		return terms[i].OccurrenceCount > terms[j].OccurrenceCount
	})
	if n > 0 && len(terms) > n {
		terms = terms[:n]
	}
	return terms, nil
}

// EvaluationSummary averages WER and CER over evaluations since the given
// time.
func (a *Analytics) EvaluationSummary(ctx context.Context, since time.Time) (*EvaluationSummary, error) {
	evals, err := a.evals.ListEvaluations(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("evaluation summary: %w", err)
	}
	sum := &EvaluationSummary{Count: len(evals)}
	if len(evals) == 0 {
		return sum, nil
	}
	var wer, cer float64
	for _, e := range evals {
		wer += e.WER
		cer += e.CER
	}
	sum.AvgWER = wer / float64(len(evals))
	sum.AvgCER = cer / float64(len(evals))
	return sum, nil
}
