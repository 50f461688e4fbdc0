// Package verification cross-checks shared fields between a holder's
// documents and produces per-pair and aggregate verdicts.
package verification

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/veridoc-ai/veridoc/internal/structuring"
)

// honorifics are stripped before name comparison. Document issuers are
// inconsistent about including them.
var honorifics = map[string]bool{
	"mr":   true,
	"mrs":  true,
	"ms":   true,
	"dr":   true,
	"prof": true,
	"sr":   true,
	"jr":   true,
}

// NormalizeName lowercases, collapses whitespace, and strips honorific
// tokens and stray punctuation.
func NormalizeName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',':
			return ' '
		}
		return r
	}, s)

	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, tok := range tokens {
		if honorifics[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// NamesMatch compares two normalized names. A name whose tokens are a
// subset of the other's matches outright (initials and middle names get
// dropped between documents); otherwise similarity must clear the
// threshold.
func NamesMatch(a, b string, threshold float64) (bool, float64) {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return false, 0
	}
	if na == nb {
		return true, 1
	}
	if tokenSubset(na, nb) || tokenSubset(nb, na) {
		return true, 1
	}
	similarity := levenshtein.Similarity(na, nb, nil)
	return similarity >= threshold, similarity
}

// tokenSubset reports whether every token of a occurs in b.
func tokenSubset(a, b string) bool {
	have := make(map[string]bool)
	for _, tok := range strings.Fields(b) {
		have[tok] = true
	}
	for _, tok := range strings.Fields(a) {
		if !have[tok] {
			return false
		}
	}
	return true
}

// NormalizeDOB converts a date-of-birth string to YYYY-MM-DD form.
// Already-normalized values pass through untouched.
func NormalizeDOB(raw string) (string, bool) {
	return structuring.NormalizeDate(raw)
}

// DOBMatch compares two dates of birth after normalization. Values that
// fail to normalize only match on exact raw equality.
func DOBMatch(a, b string) bool {
	na, okA := NormalizeDOB(a)
	nb, okB := NormalizeDOB(b)
	if okA && okB {
		return na == nb
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
