package analytics

import (
	"sort"

	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/network"
	gnetwork "gonum.org/v1/gonum/graph/network"
)

// DegreeCentrality returns degree / (n-1) for every node
func DegreeCentrality(h *network.Handle) map[int64]float64 {
	nodes := h.Nodes()
	scores := make(map[int64]float64, len(nodes))
	if len(nodes) < 2 {
		for _, n := range nodes {
			scores[n] = 0
		}
		return scores
	}

	norm := float64(len(nodes) - 1)
	for _, n := range nodes {
		scores[n] = float64(h.Degree(n)) / norm
	}
	return scores
}

// BetweennessCentrality returns normalized betweenness for every node. The raw gonum
// value counts both directions of each undirected pair, so it is divided by (n-1)(n-2).
func BetweennessCentrality(h *network.Handle) map[int64]float64 {
	nodes := h.Nodes()
	scores := make(map[int64]float64, len(nodes))
	for _, n := range nodes {
		scores[n] = 0
	}
	if len(nodes) < 3 || h.EdgeCount() == 0 {
		return scores
	}

	norm := float64((len(nodes) - 1) * (len(nodes) - 2))
	for n, raw := range gnetwork.Betweenness(h.Undirected()) {
		scores[n] = raw / norm
	}
	return scores
}

// TopN ranks nodes by score descending, ties broken by entity id
func TopN(h *network.Handle, scores map[int64]float64, n int) []models.CentralityScore {
	ranked := make([]models.CentralityScore, 0, len(scores))
	for node, score := range scores {
		ranked = append(ranked, models.CentralityScore{
			EntityID: h.ID(node),
			Score:    round4(score),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].EntityID < ranked[j].EntityID
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
