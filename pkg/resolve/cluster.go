package resolve

import (
	"math"
	"slices"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
)

// Strategy groups embedding rows. Every input index appears in exactly one
// cluster; clusters are ordered by their smallest index and their members
// are ascending.
type Strategy interface {
	Fit(vectors [][]float32) [][]int
}

// NewStrategy builds the clustering strategy selected by cfg.
func NewStrategy(cfg *config.DomainConfig) Strategy {
	agglo := &Agglomerative{Threshold: cfg.EntityResolutionSimilarityThreshold}
	if cfg.ClusteringMethod == config.ClusteringHDBSCAN {
		return &HDBSCAN{
			MinClusterSize: int(cfg.Param("min_cluster_size", DefaultMinClusterSize)),
			Components:     int(cfg.Param("n_components", DefaultComponents)),
			Fallback:       agglo,
		}
	}
	return agglo
}

// Agglomerative is average-linkage clustering on cosine distance. Two
// clusters are merged while their linkage distance stays below Threshold.
type Agglomerative struct {
	Threshold float64
}

func (a *Agglomerative) Fit(vectors [][]float32) [][]int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if n < 2 {
		return [][]int{{0}}
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			d := 1 - ai.Cosine(vectors[i], vectors[j])
			dist[i][j], dist[j][i] = d, d
		}
	}

	members := make([][]int, n)
	active := make([]bool, n)
	for i := range n {
		members[i] = []int{i}
		active[i] = true
	}

	for {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := range n {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && dist[i][j] < best {
					bi, bj, best = i, j, dist[i][j]
				}
			}
		}
		if bi < 0 || best >= a.Threshold {
			break
		}

		// Lance-Williams update for average linkage.
		si, sj := float64(len(members[bi])), float64(len(members[bj]))
		for k := range n {
			if !active[k] || k == bi || k == bj {
				continue
			}
			d := (si*dist[bi][k] + sj*dist[bj][k]) / (si + sj)
			dist[bi][k], dist[k][bi] = d, d
		}
		members[bi] = append(members[bi], members[bj]...)
		members[bj] = nil
		active[bj] = false
	}

	var clusters [][]int
	for i := range n {
		if active[i] {
			clusters = append(clusters, members[i])
		}
	}
	clusters = orderClusters(clusters)
	logger.Debug("[Resolve] Agglomerative clustering", "items", n, "clusters", len(clusters), "threshold", a.Threshold)
	return clusters
}

func orderClusters(clusters [][]int) [][]int {
	for _, c := range clusters {
		slices.Sort(c)
	}
	slices.SortFunc(clusters, func(a, b []int) int { return a[0] - b[0] })
	return clusters
}
