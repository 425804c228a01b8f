package deduplication

// UnionFind is a disjoint-set forest over the positions 0..n-1 of an id arena
type UnionFind struct {
	parent []int
	rank   []uint8
}

// NewUnionFind returns n singleton sets
func NewUnionFind(n int) *UnionFind {
	uf := &UnionFind{parent: make([]int, n), rank: make([]uint8, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// Len returns the number of elements
func (uf *UnionFind) Len() int { return len(uf.parent) }

// Find returns the representative of x, halving paths on the way
func (uf *UnionFind) Find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets of a and b and reports whether they were distinct
func (uf *UnionFind) Union(a, b int) bool {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return false
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		ra, rb = rb, ra
	case uf.rank[ra] == uf.rank[rb]:
		uf.rank[ra]++
	}
	uf.parent[rb] = ra
	return true
}

// Components returns every set with at least minSize members. Members are in
// ascending position order and components are ordered by their smallest member,
// so the result depends only on the set structure.
func (uf *UnionFind) Components(minSize int) [][]int {
	byRoot := make(map[int]int)
	var comps [][]int
	for i := range uf.parent {
		root := uf.Find(i)
		idx, ok := byRoot[root]
		if !ok {
			idx = len(comps)
			byRoot[root] = idx
			comps = append(comps, nil)
		}
		comps[idx] = append(comps[idx], i)
	}

	out := comps[:0]
	for _, c := range comps {
		if len(c) >= minSize {
			out = append(out, c)
		}
	}
	return out
}
