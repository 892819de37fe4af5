package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const signaturePrefixLen = 300

var stopWords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "have": {}, "will": {},
	"been": {}, "were": {}, "they": {}, "their": {}, "them": {}, "then": {},
	"than": {}, "what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"would": {}, "could": {}, "should": {}, "about": {}, "after": {},
	"before": {}, "into": {}, "over": {}, "under": {}, "just": {}, "more": {},
	"most": {}, "some": {}, "such": {}, "only": {}, "also": {}, "very": {},
	"says": {}, "said": {}, "being": {}, "there": {}, "here": {}, "your": {},
}

// normalizeText lowercases, strips non-alphanumerics, and collapses
// whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Signature hashes the first 300 normalized characters of
// "title|body-prefix". Items with the same signature are exact
// duplicates.
func Signature(title, body string) string {
	normalized := normalizeText(title) + "|" + normalizeText(body)
	runes := []rune(normalized)
	if len(runes) > signaturePrefixLen {
		runes = runes[:signaturePrefixLen]
	}
	sum := sha256.Sum256([]byte(string(runes)))
	return hex.EncodeToString(sum[:])
}

// significantWords returns the stop-word-filtered tokens longer than
// three characters from normalized text.
func significantWords(s string) []string {
	words := strings.Fields(normalizeText(s))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// extractKeywords returns the deduplicated significant-word set.
func extractKeywords(s string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 8)
	for _, w := range significantWords(s) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// jaccard computes Jaccard similarity between two word lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// overlapCount counts how many words from the cluster appear in the set.
func overlapCount(words []string, cluster []string) int {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	hits := 0
	for _, w := range cluster {
		if _, ok := set[w]; ok {
			hits++
		}
	}
	return hits
}
