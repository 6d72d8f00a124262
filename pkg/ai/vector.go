package ai

import "math"

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// BestMatch returns the highest cosine similarity between v and any vector of
// set, and its index. The index is -1 for an empty set.
func BestMatch(v []float32, set [][]float32) (float64, int) {
	best, at := math.Inf(-1), -1
	for i, w := range set {
		if s := Cosine(v, w); s > best {
			best, at = s, i
		}
	}
	if at < 0 {
		return 0, -1
	}
	return best, at
}
