// Package normalize rewrites raw transcripts using the approved correction
// dictionary. Exact variant matches are always applied; fuzzy matching runs
// only for low-confidence recognitions, and low-confidence tokens that match
// nothing are surfaced as unknown-term candidates for the dictionary.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/aserkali/tilmash/internal/store"
)

const (
	// defaultFuzzyThreshold is the recognition confidence below which
	// fuzzy matching is attempted.
	defaultFuzzyThreshold = 0.7

	// defaultMaxDistance is the largest edit distance a fuzzy match may
	// have.
	defaultMaxDistance = 2

	// defaultMinUnknownLen is the shortest token, in runes, reported as
	// an unknown-term candidate.
	defaultMinUnknownLen = 3
)

// MatchKind says how a correction was found.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
)

// Correction is one applied replacement.
type Correction struct {
	From       string
	To         string
	Kind       MatchKind
	Distance   int
	Confidence float64
}

// Result is the outcome of normalizing one transcript.
type Result struct {
	// Text is the corrected transcript. Tokens are rejoined with single
	// spaces.
	Text string

	// Applied lists the replacements in token order.
	Applied []Correction

	// Unknown lists lowercased tokens from a low-confidence recognition
	// that matched no dictionary entry and are long enough to be worth
	// recording. Confident transcripts never yield candidates.
	Unknown []string
}

// Changed reports whether any correction was applied.
func (r *Result) Changed() bool {
	return len(r.Applied) > 0
}

// Normalizer applies dictionary corrections to transcripts.
type Normalizer struct {
	cache          dictionaryCache
	log            *slog.Logger
	fuzzyThreshold float64
	maxDistance    int
	minUnknownLen  int
}

// dictionaryCache is the slice of the dictionary cache the normalizer needs.
type dictionaryCache interface {
	Approved(ctx context.Context, lang store.Language) (map[string]string, error)
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithFuzzyThreshold sets the confidence below which fuzzy matching runs.
func WithFuzzyThreshold(t float64) Option {
	return func(n *Normalizer) { n.fuzzyThreshold = t }
}

// WithMaxDistance sets the largest accepted fuzzy edit distance.
func WithMaxDistance(d int) Option {
	return func(n *Normalizer) { n.maxDistance = d }
}

// WithMinUnknownLength sets the shortest token reported as unknown.
func WithMinUnknownLength(l int) Option {
	return func(n *Normalizer) { n.minUnknownLen = l }
}

// New returns a Normalizer reading approved terms from the given cache.
func New(cache dictionaryCache, log *slog.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		cache:          cache,
		log:            log,
		fuzzyThreshold: defaultFuzzyThreshold,
		maxDistance:    defaultMaxDistance,
		minUnknownLen:  defaultMinUnknownLen,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize corrects the transcript. Exact matches apply regardless of
// confidence; fuzzy matches apply only when confidence is below the
// threshold. An empty transcript yields an empty result.
func (n *Normalizer) Normalize(ctx context.Context, lang store.Language, transcript string, confidence float64) (*Result, error) {
	tokens := strings.Fields(transcript)
	if len(tokens) == 0 {
		return &Result{}, nil
	}

	approved, err := n.cache.Approved(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	fuzzy := confidence < n.fuzzyThreshold
	res := &Result{}
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		prefix, core, suffix := splitToken(tok)
		if core == "" {
			out[i] = tok
			continue
		}
		lower := strings.ToLower(core)

		if correct, ok := approved[lower]; ok {
			out[i] = prefix + correct + suffix
			res.Applied = append(res.Applied, Correction{
				From:       core,
				To:         correct,
				Kind:       MatchExact,
				Confidence: 1,
			})
			continue
		}

		if fuzzy {
			if variant, dist, ok := n.closestVariant(lower, approved); ok {
				correct := approved[variant]
				out[i] = prefix + correct + suffix
				res.Applied = append(res.Applied, Correction{
					From:       core,
					To:         correct,
					Kind:       MatchFuzzy,
					Distance:   dist,
					Confidence: 1 - float64(dist)/float64(n.maxDistance+1),
				})
				continue
			}
			// Only low-confidence recognitions produce candidates; a
			// confident transcript with no dictionary hit is taken as is.
			if len([]rune(lower)) >= n.minUnknownLen {
				res.Unknown = append(res.Unknown, lower)
			}
		}

		out[i] = tok
	}

	res.Text = strings.Join(out, " ")
	if res.Changed() {
		n.log.Debug("transcript normalized",
			"language", lang,
			"corrections", len(res.Applied),
			"fuzzy_enabled", fuzzy)
	}
	return res, nil
}

// closestVariant returns the approved variant with the smallest edit
// distance within the configured maximum. Ties resolve to the
// lexicographically smallest variant so repeated runs stay deterministic.
func (n *Normalizer) closestVariant(token string, approved map[string]string) (string, int, bool) {
	best := ""
	bestDist := n.maxDistance + 1
	for variant := range approved {
		d := matchr.Levenshtein(token, variant)
		if d < bestDist || (d == bestDist && best != "" && variant < best) {
			best = variant
			bestDist = d
		}
	}
	if best == "" || bestDist > n.maxDistance {
		return "", 0, false
	}
	return best, bestDist, true
}

// splitToken separates leading and trailing punctuation from the word core
// so replacements keep the surrounding punctuation.
func splitToken(tok string) (prefix, core, suffix string) {
	runes := []rune(tok)
	start := 0
	for start < len(runes) && !isWordRune(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && !isWordRune(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
