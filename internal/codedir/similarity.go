package codedir

import "github.com/pmezard/go-difflib/difflib"

// Ratio scores candidate against word the way difflib.get_close_matches
// does: SequenceMatcher(candidate, word).ratio() over characters. The ratio
// is not symmetric, so argument order matters. Identical strings score 1.
func Ratio(candidate, word string) float64 {
	return difflib.NewMatcher(splitRunes(candidate), splitRunes(word)).Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
