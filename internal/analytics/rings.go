package analytics

import (
	"math"
	"sort"

	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/network"
)

// Ring scoring thresholds
const (
	ringMinScore          = 50.0
	ringCriticalScore     = 90.0
	ringHighScore         = 75.0
	nearCompleteDensity   = 0.8
	starMaxDensity        = 0.5
	highClusteringAverage = 0.6
	volumeBonusHigh       = 10000.0
	volumeBonusMedium     = 5000.0
)

// ringStats are the structural measures of one community's induced subgraph
type ringStats struct {
	edges       int
	triangles   int
	clustering  float64
	hub         int64
	hubDegree   int
	meanRisk    float64
	maxRisk     float64
	volume      float64
	reciprocity float64
	memberIDs   []string
	memberSet   map[int64]bool
	inDegree    map[int64]int
}

// FraudRings scores every community of at least min_community_size members and keeps
// those scoring above 50, highest first.
func (a *Analyzer) FraudRings(h *network.Handle, partition Partition) []models.FraudRing {
	var rings []models.FraudRing

	for id, members := range partition.Communities {
		n := len(members)
		if n < a.config.MinCommunitySize || n < 2 {
			continue
		}

		stats := a.communityStats(h, members)

		maxEdges := float64(n*(n-1)) / 2
		density := float64(stats.edges) / maxEdges

		maxTriangles := float64(n*(n-1)*(n-2)) / 6
		triangleTerm := 0.0
		if maxTriangles > 0 {
			triangleTerm = math.Min(15, float64(stats.triangles)/maxTriangles*100)
		}

		score := math.Min(25, density*100) +
			math.Min(30, stats.meanRisk*0.5) +
			math.Min(20, stats.reciprocity*50) +
			triangleTerm +
			volumeBonus(stats.volume)
		score = round2(score)

		if score <= ringMinScore {
			continue
		}

		ring := models.FraudRing{
			CommunityID:       id,
			Members:           stats.memberIDs,
			Size:              n,
			Edges:             stats.edges,
			Density:           round4(density),
			MeanRisk:          round2(stats.meanRisk),
			MaxRisk:           stats.maxRisk,
			Reciprocity:       round4(stats.reciprocity),
			Triangles:         stats.triangles,
			AverageClustering: round4(stats.clustering),
			TotalClaimVolume:  stats.volume,
			FraudScore:        score,
			RiskLevel:         ringRiskLevel(score),
		}

		if density >= nearCompleteDensity {
			ring.Patterns = append(ring.Patterns, models.RingPatternNearComplete)
		}
		if stats.hubDegree == n-1 && density < starMaxDensity {
			ring.Patterns = append(ring.Patterns, models.RingPatternStarHub)
			ring.Hub = h.ID(stats.hub)
		}
		if stats.clustering >= highClusteringAverage {
			ring.Patterns = append(ring.Patterns, models.RingPatternHighClustering)
		}

		rings = append(rings, ring)
	}

	sort.Slice(rings, func(i, j int) bool {
		if rings[i].FraudScore != rings[j].FraudScore {
			return rings[i].FraudScore > rings[j].FraudScore
		}
		return rings[i].CommunityID < rings[j].CommunityID
	})

	return rings
}

func (a *Analyzer) communityStats(h *network.Handle, members []int64) ringStats {
	stats := ringStats{
		hub:       -1,
		maxRisk:   math.Inf(-1),
		memberIDs: make([]string, len(members)),
		memberSet: make(map[int64]bool, len(members)),
		inDegree:  make(map[int64]int, len(members)),
	}
	for i, m := range members {
		stats.memberSet[m] = true
		stats.memberIDs[i] = h.ID(m)
	}

	// adjacency restricted to the community
	adjacency := make(map[int64][]int64, len(members))
	for _, u := range members {
		for _, v := range h.Neighbors(u) {
			if stats.memberSet[v] {
				adjacency[u] = append(adjacency[u], v)
			}
		}
		stats.inDegree[u] = len(adjacency[u])
		if stats.inDegree[u] > stats.hubDegree {
			stats.hub, stats.hubDegree = u, stats.inDegree[u]
		}
	}

	for _, u := range members {
		for _, v := range adjacency[u] {
			if v <= u {
				continue
			}
			stats.edges++
			for _, w := range adjacency[v] {
				if w > v && h.HasEdge(u, w) {
					stats.triangles++
				}
			}
		}
	}

	clusteringSum := 0.0
	for _, u := range members {
		clusteringSum += localClustering(h, adjacency[u])

		attrs := h.Attributes(u)
		stats.meanRisk += attrs.RiskScore
		stats.maxRisk = math.Max(stats.maxRisk, attrs.RiskScore)
		stats.volume += attrs.ClaimVolume
	}
	stats.clustering = clusteringSum / float64(len(members))
	stats.meanRisk /= float64(len(members))

	if a.config.ReciprocityFromReferrals {
		stats.reciprocity = referralReciprocity(h, members, stats.memberSet)
	} else {
		// an undirected edge is its own reverse
		stats.reciprocity = 1.0
	}

	return stats
}

// localClustering is the fraction of neighbor pairs that are themselves linked
func localClustering(h *network.Handle, neighbors []int64) float64 {
	k := len(neighbors)
	if k < 2 {
		return 0
	}
	links := 0
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if h.HasEdge(neighbors[i], neighbors[j]) {
				links++
			}
		}
	}
	return float64(links) / float64(k*(k-1)/2)
}

// referralReciprocity is the share of in-community referral edges whose reverse edge exists
func referralReciprocity(h *network.Handle, members []int64, memberSet map[int64]bool) float64 {
	total, mutual := 0, 0
	for _, u := range members {
		for _, v := range h.Successors(u) {
			if !memberSet[v] {
				continue
			}
			total++
			if h.HasReferral(v, u) {
				mutual++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(mutual) / float64(total)
}

func volumeBonus(volume float64) float64 {
	switch {
	case volume > volumeBonusHigh:
		return 10
	case volume > volumeBonusMedium:
		return 5
	default:
		return 0
	}
}

func ringRiskLevel(score float64) models.RiskLevel {
	switch {
	case score > ringCriticalScore:
		return models.RiskLevelCritical
	case score > ringHighScore:
		return models.RiskLevelHigh
	default:
		return models.RiskLevelMedium
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
