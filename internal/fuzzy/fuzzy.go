// Package fuzzy picks the closest label among imprecise candidates.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Candidate pairs a visible label with whatever handle the caller wants back.
type Candidate[H any] struct {
	Label  string
	Handle H
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// runes splits s into one element per rune so multi-byte text compares character by character.
func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Ratio is the sequence-matcher similarity of a and b after lower-casing and trimming, in [0, 1].
// Operands are put in a fixed order first so that Ratio(a, b) == Ratio(b, a).
func Ratio(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == b {
		return 1
	}
	if a > b {
		a, b = b, a
	}
	m := difflib.NewMatcherWithJunk(runes(a), runes(b), false, nil)
	return m.Ratio()
}

// BestMatch returns the candidate most similar to target. Ties go to the earliest candidate.
// ok is false only when candidates is empty.
func BestMatch[H any](candidates []Candidate[H], target string) (best Candidate[H], ok bool) {
	bestScore := -1.0
	for _, c := range candidates {
		if s := Ratio(c.Label, target); s > bestScore {
			best, bestScore, ok = c, s, true
		}
	}
	return best, ok
}

// Scored is a candidate with its similarity to the target.
type Scored[H any] struct {
	Candidate[H]
	Score float64
}

// Rank orders candidates by descending similarity to target, keeping input order among equals.
func Rank[H any](candidates []Candidate[H], target string) []Scored[H] {
	out := make([]Scored[H], len(candidates))
	for i, c := range candidates {
		out[i] = Scored[H]{Candidate: c, Score: Ratio(c.Label, target)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
