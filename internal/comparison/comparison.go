// Package comparison runs the same audio through every configured STT
// provider in parallel and persists one metric record per provider, so
// provider quality for Russian and Kazakh speech can be tracked over time.
package comparison

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aserkali/tilmash/internal/observe"
	"github.com/aserkali/tilmash/internal/storage"
	"github.com/aserkali/tilmash/internal/store"
	"github.com/aserkali/tilmash/pkg/provider/stt"
)

// languages every comparison run covers.
var languages = []store.Language{store.LanguageRussian, store.LanguageKazakh}

// Transcripts holds one provider's recognitions per language.
type Transcripts struct {
	Ru string
	Kk string
}

// RunResult is the outcome of one comparison run.
type RunResult struct {
	Record *store.SpeechRecord

	// Metrics has exactly one entry per configured provider, failed
	// attempts included.
	Metrics []*store.MetricRecord

	// Transcripts maps provider name to its recognitions. Providers
	// whose attempts all failed map to empty transcripts.
	Transcripts map[string]Transcripts
}

// ProviderStats aggregates a provider's stored comparison metrics.
type ProviderStats struct {
	Provider          string
	Runs              int
	AvgConfidence     float64
	AvgProcessingTime time.Duration
}

// Harness fans audio out to all configured providers.
type Harness struct {
	providers map[string]stt.Provider
	records   store.SpeechRecordStore
	metrics   store.MetricStore
	blobs     storage.Store

	log *slog.Logger
	met *observe.Metrics
	now func() time.Time

	// priority orders primary-transcript selection; providers not listed
	// rank after listed ones in name order.
	priority []string
}

// Option configures a Harness.
type Option func(*Harness)

// WithMetrics overrides the default metrics instance. Intended for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Harness) { h.met = m }
}

// WithPriority sets the provider order used to pick the primary transcript.
func WithPriority(names []string) Option {
	return func(h *Harness) { h.priority = names }
}

// New returns a Harness comparing the given providers. The map is used as
// configured; an empty map yields runs with no metrics.
func New(providers map[string]stt.Provider, records store.SpeechRecordStore, metrics store.MetricStore, blobs storage.Store, log *slog.Logger, opts ...Option) *Harness {
	h := &Harness{
		providers: providers,
		records:   records,
		metrics:   metrics,
		blobs:     blobs,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.met == nil {
		h.met = observe.DefaultMetrics()
	}
	return h
}

// attempt is one provider/language recognition outcome.
type attempt struct {
	provider string
	lang     store.Language
	text     string
	conf     float64
	took     time.Duration
	err      error
}

// Run stores the audio, transcribes it with every provider for both
// languages concurrently and persists the per-provider metrics. Provider
// failures never fail the run: the failed provider gets a metric record
// with zero confidence and zero processing time.
func (h *Harness) Run(ctx context.Context, userID string, audio []byte) (*RunResult, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("comparison run: empty audio")
	}
	runStart := h.now()

	recordID := uuid.NewString()
	audioKey := fmt.Sprintf("comparisons/%s/audio.wav", recordID)
	if err := h.blobs.Upload(ctx, audioKey, audio); err != nil {
		return nil, fmt.Errorf("comparison run: store audio: %w", err)
	}

	names := h.orderedProviders()
	attempts := make([]attempt, len(names)*len(languages))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		for j, lang := range languages {
			idx := i*len(languages) + j
			provider := h.providers[name]
			name, lang := name, lang
			g.Go(func() error {
				start := time.Now()
				res, err := provider.Transcribe(gctx, audio, stt.TranscribeOptions{Language: string(lang)})
				a := attempt{provider: name, lang: lang, took: time.Since(start), err: err}
				if err == nil {
					a.text = res.Text
					a.conf = res.Confidence
					if res.Latency > 0 {
						a.took = res.Latency
					}
				}
				attempts[idx] = a
				return nil
			})
		}
	}
	// Goroutines only report into their own slot.
	_ = g.Wait()

	record := &store.SpeechRecord{
		ID:        recordID,
		UserID:    userID,
		AudioKey:  audioKey,
		CreatedAt: h.now(),
	}
	record.RecognizedTextRu = h.primaryTranscript(attempts, store.LanguageRussian)
	record.RecognizedTextKk = h.primaryTranscript(attempts, store.LanguageKazakh)
	if err := h.records.AddSpeechRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("comparison run: %w", err)
	}

	result := &RunResult{
		Record:      record,
		Transcripts: make(map[string]Transcripts, len(names)),
	}
	for _, name := range names {
		metric := h.aggregateProvider(ctx, name, attempts)
		metric.SpeechRecordID = recordID
		metric.CreatedAt = h.now()
		if err := h.metrics.AddMetric(ctx, metric); err != nil {
			return nil, fmt.Errorf("comparison run: store metric for %s: %w", name, err)
		}
		result.Metrics = append(result.Metrics, metric)

		var tr Transcripts
		for _, a := range attempts {
			if a.provider != name || a.err != nil {
				continue
			}
			switch a.lang {
			case store.LanguageRussian:
				tr.Ru = a.text
			case store.LanguageKazakh:
				tr.Kk = a.text
			}
		}
		result.Transcripts[name] = tr
	}

	h.met.ComparisonDuration.Record(ctx, h.now().Sub(runStart).Seconds())
	h.log.Info("comparison run finished",
		"record_id", recordID,
		"user_id", userID,
		"providers", len(names))
	return result, nil
}

// History returns the user's past comparison runs together with their
// metric records, newest first.
func (h *Harness) History(ctx context.Context, userID string, limit, offset int) ([]*store.SpeechRecord, map[string][]*store.MetricRecord, error) {
	records, err := h.records.ListSpeechRecords(ctx, userID, limit, offset)
	if err != nil {
		return nil, nil, fmt.Errorf("comparison history: %w", err)
	}
	metrics := make(map[string][]*store.MetricRecord, len(records))
	for _, r := range records {
		ms, err := h.metrics.ListMetricsByRecord(ctx, r.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("comparison history: metrics of %s: %w", r.ID, err)
		}
		metrics[r.ID] = ms
	}
	return records, metrics, nil
}

// Stats aggregates the stored metrics of every configured provider since
// the given time. A zero since covers everything.
func (h *Harness) Stats(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	names := h.orderedProviders()
	stats := make([]ProviderStats, 0, len(names))
	for _, name := range names {
		ms, err := h.metrics.ListMetricsByProvider(ctx, name, since)
		if err != nil {
			return nil, fmt.Errorf("comparison stats: %w", err)
		}
		st := ProviderStats{Provider: name, Runs: len(ms)}
		if len(ms) > 0 {
			var conf float64
			var took time.Duration
			for _, m := range ms {
				conf += m.Confidence
				took += m.ProcessingTime
			}
			st.AvgConfidence = conf / float64(len(ms))
			st.AvgProcessingTime = took / time.Duration(len(ms))
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// aggregateProvider folds a provider's language attempts into one metric
// record: the mean confidence and summed time of its successful attempts, or
// zeros when every attempt failed.
func (h *Harness) aggregateProvider(ctx context.Context, name string, attempts []attempt) *store.MetricRecord {
	metric := &store.MetricRecord{Provider: name}
	var succeeded int
	var conf float64
	var took time.Duration
	for _, a := range attempts {
		if a.provider != name {
			continue
		}
		if a.err != nil {
			h.log.Warn("provider attempt failed",
				"provider", name,
				"language", a.lang,
				"error", a.err)
			h.met.RecordProviderError(ctx, name, "stt")
			continue
		}
		succeeded++
		conf += a.conf
		took += a.took
	}
	if succeeded > 0 {
		metric.Confidence = conf / float64(succeeded)
		metric.ProcessingTime = took
	}
	return metric
}

// primaryTranscript picks the language's primary text: the first provider in
// priority order with a successful non-empty recognition.
func (h *Harness) primaryTranscript(attempts []attempt, lang store.Language) string {
	for _, name := range h.orderedProviders() {
		for _, a := range attempts {
			if a.provider == name && a.lang == lang && a.err == nil && a.text != "" {
				return a.text
			}
		}
	}
	return ""
}

// orderedProviders returns provider names with the configured priority
// first and the rest sorted by name.
func (h *Harness) orderedProviders() []string {
	seen := make(map[string]bool, len(h.providers))
	var out []string
	for _, name := range h.priority {
		if _, ok := h.providers[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range h.providers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
