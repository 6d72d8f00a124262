package resolve

import (
	"math"
	"slices"

	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultMinClusterSize = 2
	DefaultComponents     = 10
)

// HDBSCAN projects the vectors onto their leading principal components and
// runs density-based clustering on the projection. Points labelled as noise
// join the cluster with the nearest centroid, so nothing is dropped.
type HDBSCAN struct {
	MinClusterSize int
	Components     int
	// Fallback clusters inputs smaller than twice the minimum cluster size.
	Fallback Strategy
}

func (h *HDBSCAN) Fit(vectors [][]float32) [][]int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	mcs := max(h.MinClusterSize, 2)
	if n < mcs*2 {
		if h.Fallback != nil {
			return h.Fallback.Fit(vectors)
		}
		return [][]int{allIndices(n)}
	}

	points := project(vectors, max(h.Components, 1))
	labels := densityLabels(points, mcs)
	clusters := assignNoise(points, labels)
	logger.Debug("[Resolve] HDBSCAN clustering", "items", n, "clusters", len(clusters), "min_cluster_size", mcs)
	return clusters
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// project centres the vectors and maps them onto at most k principal axes.
func project(vectors [][]float32, k int) [][]float64 {
	n, d := len(vectors), len(vectors[0])
	x := mat.NewDense(n, d, nil)
	for i, v := range vectors {
		for j := 0; j < d && j < len(v); j++ {
			x.Set(i, j, float64(v[j]))
		}
	}
	for j := range d {
		mean := stat.Mean(mat.Col(nil, j, x), nil)
		for i := range n {
			x.Set(i, j, x.At(i, j)-mean)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		logger.Warn("[Resolve] PCA did not converge, clustering raw vectors")
		return denseRows(x)
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	k = min(k, c)

	var out mat.Dense
	out.Mul(x, v.Slice(0, d, 0, k))
	return denseRows(&out)
}

func denseRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range r {
		out[i] = slices.Clone(m.RawRowView(i))
	}
	return out
}

type mstEdge struct {
	a, b int
	w    float64
}

type densityCluster struct {
	parent    int
	birth     float64
	children  []int
	stability float64
}

// densityLabels returns one label per point, -1 for noise. Core distances
// use the mcs-th nearest neighbour counting the point itself.
func densityLabels(points [][]float64, mcs int) []int {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(points[i], points[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}
	core := make([]float64, n)
	for i := range n {
		row := slices.Clone(dist[i])
		slices.Sort(row)
		core[i] = row[min(mcs, n)-1]
	}
	reach := func(i, j int) float64 {
		return max(dist[i][j], core[i], core[j])
	}

	// Minimum spanning tree of the mutual reachability graph (Prim).
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	inTree[0] = true
	for j := 1; j < n; j++ {
		best[j], from[j] = reach(0, j), 0
	}
	edges := make([]mstEdge, 0, n-1)
	for len(edges) < n-1 {
		next := -1
		for j := range n {
			if !inTree[j] && (next < 0 || best[j] < best[next]) {
				next = j
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, w: best[next]})
		for j := range n {
			if !inTree[j] {
				if w := reach(next, j); w < best[j] {
					best[j], from[j] = w, next
				}
			}
		}
	}
	slices.SortStableFunc(edges, func(x, y mstEdge) int {
		switch {
		case x.w < y.w:
			return -1
		case x.w > y.w:
			return 1
		}
		return 0
	})

	// Single-linkage tree. Nodes below n are points, node n+i is the i-th merge.
	left := make([]int, n-1)
	right := make([]int, n-1)
	height := make([]float64, n-1)
	size := make([]int, n-1)
	uf := make([]int, n)
	top := make([]int, n)
	for i := range n {
		uf[i], top[i] = i, i
	}
	var find func(int) int
	find = func(i int) int {
		if uf[i] != i {
			uf[i] = find(uf[i])
		}
		return uf[i]
	}
	sizeOf := func(node int) int {
		if node < n {
			return 1
		}
		return size[node-n]
	}
	for i, e := range edges {
		ra, rb := find(e.a), find(e.b)
		left[i], right[i], height[i] = top[ra], top[rb], e.w
		size[i] = sizeOf(top[ra]) + sizeOf(top[rb])
		uf[rb] = ra
		top[ra] = n + i
	}
	root := 2*n - 2

	var leaves func(node int, out []int) []int
	leaves = func(node int, out []int) []int {
		if node < n {
			return append(out, node)
		}
		out = leaves(left[node-n], out)
		return leaves(right[node-n], out)
	}

	// Condense the tree: splits where both sides hold at least mcs points
	// create clusters, everything else falls out of the current cluster.
	clusters := []*densityCluster{{parent: -1}}
	fallsFrom := make([]int, n)
	type frame struct{ node, cluster int }
	stack := []frame{{root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := clusters[f.cluster]
		lambda := 1 / max(height[f.node-n], 1e-12)
		l, r := left[f.node-n], right[f.node-n]
		ls, rs := sizeOf(l), sizeOf(r)

		fallOut := func(node int) {
			for _, p := range leaves(node, nil) {
				fallsFrom[p] = f.cluster
				c.stability += lambda - c.birth
			}
		}
		split := func(node int) {
			id := len(clusters)
			clusters = append(clusters, &densityCluster{parent: f.cluster, birth: lambda})
			c.children = append(c.children, id)
			c.stability += (lambda - c.birth) * float64(sizeOf(node))
			stack = append(stack, frame{node, id})
		}

		switch {
		case ls >= mcs && rs >= mcs:
			split(l)
			split(r)
		case ls < mcs && rs < mcs:
			fallOut(l)
			fallOut(r)
		case ls < mcs:
			fallOut(l)
			stack = append(stack, frame{r, f.cluster})
		default:
			fallOut(r)
			stack = append(stack, frame{l, f.cluster})
		}
	}

	// Excess-of-mass selection; the root is never selected.
	selected := make([]bool, len(clusters))
	subtree := make([]float64, len(clusters))
	var unselect func(int)
	unselect = func(c int) {
		for _, ch := range clusters[c].children {
			selected[ch] = false
			unselect(ch)
		}
	}
	for c := len(clusters) - 1; c >= 1; c-- {
		var childSum float64
		for _, ch := range clusters[c].children {
			childSum += subtree[ch]
		}
		if len(clusters[c].children) == 0 || clusters[c].stability >= childSum {
			selected[c] = true
			subtree[c] = clusters[c].stability
			unselect(c)
		} else {
			subtree[c] = childSum
		}
	}

	labelOf := make(map[int]int)
	labels := make([]int, n)
	for p := range n {
		labels[p] = -1
		for c := fallsFrom[p]; c > 0; c = clusters[c].parent {
			if selected[c] {
				if _, ok := labelOf[c]; !ok {
					labelOf[c] = len(labelOf)
				}
				labels[p] = labelOf[c]
				break
			}
		}
	}
	return labels
}

// assignNoise moves every noise point into the cluster with the nearest
// centroid. When every point is noise they form a single cluster.
func assignNoise(points [][]float64, labels []int) [][]int {
	var clusters [][]int
	var noise []int
	for p, l := range labels {
		if l < 0 {
			noise = append(noise, p)
			continue
		}
		for len(clusters) <= l {
			clusters = append(clusters, nil)
		}
		clusters[l] = append(clusters[l], p)
	}
	if len(clusters) == 0 {
		return [][]int{allIndices(len(points))}
	}

	if len(noise) > 0 {
		dim := len(points[0])
		centroids := make([][]float64, len(clusters))
		for c, members := range clusters {
			centroid := make([]float64, dim)
			for _, p := range members {
				floats.Add(centroid, points[p])
			}
			floats.Scale(1/float64(len(members)), centroid)
			centroids[c] = centroid
		}
		for _, p := range noise {
			nearest, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := floats.Distance(points[p], centroid, 2); d < bestDist {
					nearest, bestDist = c, d
				}
			}
			clusters[nearest] = append(clusters[nearest], p)
		}
		logger.Debug("[Resolve] Reassigned noise points", "count", len(noise))
	}
	return orderClusters(clusters)
}
