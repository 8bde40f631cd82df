// Package fuzzy implements the token-set-ratio and partial-ratio string
// similarity measures used by the search pipeline's alias filter and
// ranking stages, built on
// github.com/agnivade/levenshtein for the underlying edit distance.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ratio returns a 0..100 similarity score between a and b based on
// Levenshtein distance: (1 - distance/length of the longer string) * 100.
func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	return (1 - float64(dist)/float64(maxLen)) * 100
}

// PartialRatio finds the best-matching substring of the longer string
// against the shorter one and scores that alignment; used for the alias
// filter's "partial-ratio to every validated alias" check.
func PartialRatio(a, b string) float64 {
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	if shorter == "" {
		if longer == "" {
			return 100
		}
		return 0
	}
	if len(longer) <= len(shorter) {
		return ratio(shorter, longer)
	}

	best := 0.0
	window := len(shorter)
	for start := 0; start+window <= len(longer); start++ {
		seg := longer[start : start+window]
		if r := ratio(shorter, seg); r > best {
			best = r
		}
	}
	return best
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	sort.Strings(fields)
	return fields
}

func joinUnique(sorted []string) string {
	seen := make(map[string]bool, len(sorted))
	out := make([]string, 0, len(sorted))
	for _, t := range sorted {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}

// TokenSetRatio compares two strings by tokenizing, deduplicating, and
// sorting their words, then taking the best of three ratio comparisons
// between the intersection and each side's remaining tokens. This is
// robust to word reordering and partial word-set overlap, which is why
// it is used for candidate ranking.
func TokenSetRatio(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)

	setA := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		setA[t] = true
	}
	setB := make(map[string]bool, len(tokensB))
	for _, t := range tokensB {
		setB[t] = true
	}

	var intersection, onlyA, onlyB []string
	for _, t := range tokensA {
		if setB[t] {
			intersection = append(intersection, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for _, t := range tokensB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(intersection)

	sorted := joinUnique(intersection)
	combinedA := strings.TrimSpace(sorted + " " + joinUnique(onlyA))
	combinedB := strings.TrimSpace(sorted + " " + joinUnique(onlyB))

	r1 := ratio(sorted, combinedA)
	r2 := ratio(sorted, combinedB)
	r3 := ratio(combinedA, combinedB)

	best := r1
	if r2 > best {
		best = r2
	}
	if r3 > best {
		best = r3
	}
	return best
}
