package romaji

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultPlausibility is the Jaro-Winkler similarity a candidate must reach
// against the deterministic reading to be accepted.
const DefaultPlausibility = 0.7

// Plausible reports whether candidate resembles reference closely enough
// to be a romanization of the same utterance. Both strings are compared
// on their lowercase letters only, so punctuation, spacing, hyphens and
// apostrophes do not count.
//
// A reference with no latin letters (for example an all-kanji script the
// reader could not resolve) gives no signal, and the candidate is accepted.
func Plausible(candidate, reference string, threshold float64) bool {
	c, r := letters(candidate), letters(reference)
	if r == "" {
		return true
	}
	if c == "" {
		return false
	}
	return matchr.JaroWinkler(c, r, false) >= threshold
}

func letters(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
