package toolbox

import (
	"math"

	"github.com/zero-day-ai/gauntlet/memory"
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or zero magnitude have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Novelty scores v against known bugs as 1 minus the highest cosine
// similarity to any embedded bug. With no comparable bug the score is 1.
func Novelty(v []float32, bugs []memory.BugRecord) float64 {
	best := math.Inf(-1)
	for _, b := range bugs {
		if len(b.Embedding) == 0 || len(b.Embedding) != len(v) {
			continue
		}
		if s := Cosine(v, b.Embedding); s > best {
			best = s
		}
	}
	if math.IsInf(best, -1) {
		return 1
	}
	return 1 - best
}
