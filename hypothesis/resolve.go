package hypothesis

import (
	"strconv"
	"strings"
	"unicode"
)

// Match names the rule Resolve used.
type Match string

const (
	MatchVerbatim  Match = "verbatim"
	MatchIndex     Match = "index"
	MatchContained Match = "contained"
	MatchOverlap   Match = "overlap"
)

// Resolve maps an oracle selection reply to the index of one candidate. It
// tries, in order: the reply equals a candidate, the reply is a 1-based
// index, exactly one candidate appears inside the reply, and finally the
// candidate sharing the most words with the reply. candidates must not be
// empty.
func Resolve(reply string, candidates []string) (int, Match) {
	r := normalize(reply)

	for i, c := range candidates {
		if r == normalize(c) {
			return i, MatchVerbatim
		}
	}

	if n, err := strconv.Atoi(strings.TrimRight(strings.TrimLeft(r, "#"), ".)")); err == nil && n >= 1 && n <= len(candidates) {
		return n - 1, MatchIndex
	}

	found := -1
	for i, c := range candidates {
		if c = normalize(c); c != "" && strings.Contains(r, c) {
			if found >= 0 {
				found = -1
				break
			}
			found = i
		}
	}
	if found >= 0 {
		return found, MatchContained
	}

	words := wordSet(r)
	best, bestScore := 0, -1.0
	for i, c := range candidates {
		cw := wordSet(c)
		if len(cw) == 0 {
			continue
		}
		shared := 0
		for w := range cw {
			if words[w] {
				shared++
			}
		}
		if score := float64(shared) / float64(len(cw)); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, MatchOverlap
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}
