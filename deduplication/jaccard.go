package deduplication

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets have similarity 0.
func Jaccard(a, b ShingleSet) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for h := range a {
		if _, ok := b[h]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// anchorVerification is the outcome of re-checking one candidate group
type anchorVerification struct {
	// components are index lists into the verified group, each of size >= 2
	components [][]int
	// best is the highest true Jaccard similarity seen per group index
	best []float64
}

// verifyWithAnchors recomputes true Jaccard similarity inside one candidate group.
// The first numAnchors members (lowest ordinals) are anchors; every other member is
// compared with every anchor and anchors with each other. Pairs at or above the
// threshold are joined; members joined to nothing are demoted back to unique.
func verifyWithAnchors(sets []ShingleSet, numAnchors int, threshold float64) anchorVerification {
	n := len(sets)
	anchors := min(numAnchors, n)
	uf := NewUnionFind(n)
	best := make([]float64, n)

	link := func(i, j int) {
		sim := Jaccard(sets[i], sets[j])
		best[i] = max(best[i], sim)
		best[j] = max(best[j], sim)
		if sim >= threshold {
			uf.Union(i, j)
		}
	}

	for i := 0; i < anchors; i++ {
		for j := i + 1; j < anchors; j++ {
			link(i, j)
		}
	}
	for m := anchors; m < n; m++ {
		for a := 0; a < anchors; a++ {
			link(m, a)
		}
	}

	return anchorVerification{components: uf.Components(2), best: best}
}
