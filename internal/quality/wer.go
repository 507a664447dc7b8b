// Package quality computes recognition quality metrics: word and character
// error rates against ground-truth labels, per-provider aggregates over
// sessions and comparison runs, and the most frequent unknown terms awaiting
// dictionary review.
package quality

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// WER returns the word error rate of the hypothesis against the reference:
// the word-level edit distance divided by the reference word count. Both
// strings are lowercased and split on whitespace first. An empty reference
// yields 0 when the hypothesis is also empty and 1 otherwise.
func WER(reference, hypothesis string) float64 {
	ref := strings.Fields(strings.ToLower(reference))
	hyp := strings.Fields(strings.ToLower(hypothesis))
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}
	return float64(wordDistance(ref, hyp)) / float64(len(ref))
}

// CER returns the character error rate of the hypothesis against the
// reference: the rune-level edit distance divided by the reference rune
// count, after lowercasing both. Empty-reference handling matches WER.
func CER(reference, hypothesis string) float64 {
	ref := strings.ToLower(reference)
	hyp := strings.ToLower(hypothesis)
	refLen := len([]rune(ref))
	if refLen == 0 {
		if len([]rune(hyp)) == 0 {
			return 0
		}
		return 1
	}
	return float64(matchr.Levenshtein(ref, hyp)) / float64(refLen)
}

// wordDistance is the Levenshtein distance over word slices, two rows at a
// time.
func wordDistance(ref, hyp []string) int {
	prev := make([]int, len(hyp)+1)
	curr := make([]int, len(hyp)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ref); i++ {
		curr[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(hyp)]
}
