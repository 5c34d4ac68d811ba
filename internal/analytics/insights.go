package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/metrics"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/network"
	"golang.org/x/sync/errgroup"
)

// Analyzer runs the graph-level detectors and aggregates their output
type Analyzer struct {
	config   config.AnalysisConfig
	strategy CommunityStrategy
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewAnalyzer creates a new network analyzer. The community strategy is chosen here:
// louvain falls back to connected components on failure.
func NewAnalyzer(cfg config.AnalysisConfig, collector *metrics.Collector, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		config:   cfg,
		strategy: NewCommunityStrategy(cfg, collector, logger),
		metrics:  collector,
		logger:   logger,
	}
}

// NewCommunityStrategy builds the configured community strategy
func NewCommunityStrategy(cfg config.AnalysisConfig, collector *metrics.Collector, logger *slog.Logger) CommunityStrategy {
	if cfg.CommunityAlgorithm == config.CommunityAlgorithmComponents {
		return ConnectedComponentsPartition{}
	}
	return FallbackPartition{
		Primary: ModularityPartition{
			Resolution: cfg.LouvainResolution,
			Seed:       cfg.LouvainSeed,
		},
		Fallback:   ConnectedComponentsPartition{},
		Logger:     logger,
		OnFallback: collector.RecordCommunityFallback,
	}
}

// Analyze runs community, cycle, concentration and centrality analysis concurrently over
// the read-only graph and composes the insights report. An empty graph yields zero values.
func (a *Analyzer) Analyze(ctx context.Context, h *network.Handle, sets map[string]map[string]struct{}) (*models.NetworkInsights, error) {
	start := time.Now()

	var (
		partition     Partition
		rings         []models.FraudRing
		cycles        *CycleResult
		concentration *ConcentrationResult
		degree        map[int64]float64
		betweenness   map[int64]float64
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.metrics.TrackStage("communities", func() error {
			p, err := a.strategy.Partition(gctx, h)
			if err != nil {
				return fmt.Errorf("failed to partition graph: %w", err)
			}
			partition = p
			rings = a.FraudRings(h, p)
			return nil
		})
	})

	g.Go(func() error {
		return a.metrics.TrackStage("cycles", func() error {
			result, err := a.KickbackCycles(gctx, h)
			if err != nil {
				return err
			}
			cycles = result
			return nil
		})
	})

	g.Go(func() error {
		return a.metrics.TrackStage("concentration", func() error {
			concentration = a.Concentration(gctx, h, sets)
			return nil
		})
	})

	g.Go(func() error {
		return a.metrics.TrackStage("centrality", func() error {
			degree = DegreeCentrality(h)
			betweenness = BetweennessCentrality(h)
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	communities := make([]models.Community, len(partition.Communities))
	for i, members := range partition.Communities {
		communities[i] = models.Community{ID: i, Members: idsOf(h, members)}
	}

	insights := &models.NetworkInsights{
		TotalNodes:             h.NodeCount(),
		TotalEdges:             h.EdgeCount(),
		ReferralEdges:          h.ReferralEdgeCount(),
		Density:                round4(Density(h)),
		CommunityCount:         len(communities),
		CommunityAlgorithm:     partition.Algorithm,
		Modularity:             round4(partition.Modularity),
		AverageClustering:      round4(AverageClustering(h)),
		TopDegree:              TopN(h, degree, a.config.TopN),
		TopBetweenness:         TopN(h, betweenness, a.config.TopN),
		FraudRings:             nonNil(rings),
		KickbackCycles:         nonNil(cycles.Cycles),
		DirectKickbacks:        nonNil(cycles.Direct),
		ConcentrationPairs:     nonNil(concentration.Pairs),
		AddressSharing:         AddressSharing(h),
		CrossRegionClusters:    CrossRegionClusters(h, communities),
		CyclesTruncated:        cycles.Truncated,
		ConcentrationTruncated: concentration.Truncated,
	}

	if insights.CommunityAlgorithm == "" {
		insights.CommunityAlgorithm = a.strategy.Name()
	}

	a.metrics.RecordFindings("fraud_rings", len(insights.FraudRings))
	a.metrics.RecordFindings("kickback_cycles", len(insights.KickbackCycles))
	a.metrics.RecordFindings("direct_kickbacks", len(insights.DirectKickbacks))
	a.metrics.RecordFindings("concentration_pairs", len(insights.ConcentrationPairs))
	if insights.CyclesTruncated {
		a.metrics.RecordTruncation("cycles")
	}
	if insights.ConcentrationTruncated {
		a.metrics.RecordTruncation("concentration")
	}

	a.logger.Info("Network analysis completed",
		"nodes", insights.TotalNodes,
		"edges", insights.TotalEdges,
		"communities", insights.CommunityCount,
		"fraud_rings", len(insights.FraudRings),
		"kickback_cycles", len(insights.KickbackCycles),
		"concentration_pairs", len(insights.ConcentrationPairs),
		"duration", time.Since(start))

	return insights, nil
}

// Density is 2E / (n(n-1)) over the undirected graph
func Density(h *network.Handle) float64 {
	n := h.NodeCount()
	if n < 2 {
		return 0
	}
	return 2 * float64(h.EdgeCount()) / float64(n*(n-1))
}

// AverageClustering is the mean local clustering coefficient; nodes with fewer than two
// neighbors contribute zero
func AverageClustering(h *network.Handle) float64 {
	nodes := h.Nodes()
	if len(nodes) == 0 {
		return 0
	}
	sum := 0.0
	for _, n := range nodes {
		sum += localClustering(h, h.Neighbors(n))
	}
	return sum / float64(len(nodes))
}

// AddressSharing groups graph nodes located at the same normalized address
func AddressSharing(h *network.Handle) []models.AddressSharingCluster {
	byKey := make(map[string][]string)
	for _, n := range h.Nodes() {
		attrs := h.Attributes(n)
		if attrs.AddressKey == "" {
			continue
		}
		byKey[attrs.AddressKey] = append(byKey[attrs.AddressKey], attrs.ID)
	}

	clusters := make([]models.AddressSharingCluster, 0)
	for key, ids := range byKey {
		if len(ids) < 2 {
			continue
		}
		clusters = append(clusters, models.AddressSharingCluster{AddressKey: key, NodeIDs: ids})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].NodeIDs) != len(clusters[j].NodeIDs) {
			return len(clusters[i].NodeIDs) > len(clusters[j].NodeIDs)
		}
		return clusters[i].AddressKey < clusters[j].AddressKey
	})
	return clusters
}

// CrossRegionClusters returns communities whose members span two or more named regions
func CrossRegionClusters(h *network.Handle, communities []models.Community) []models.CrossRegionCluster {
	clusters := make([]models.CrossRegionCluster, 0)
	for _, c := range communities {
		regionSet := make(map[string]struct{})
		for _, id := range c.Members {
			n, ok := h.Lookup(id)
			if !ok {
				continue
			}
			if region := h.Attributes(n).Region; region != "" {
				regionSet[region] = struct{}{}
			}
		}
		if len(regionSet) < 2 {
			continue
		}

		regions := make([]string, 0, len(regionSet))
		for region := range regionSet {
			regions = append(regions, region)
		}
		sort.Strings(regions)

		clusters = append(clusters, models.CrossRegionCluster{
			CommunityID: c.ID,
			Regions:     regions,
			Members:     c.Members,
		})
	}
	return clusters
}

func idsOf(h *network.Handle, nodes []int64) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = h.ID(n)
	}
	return ids
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
