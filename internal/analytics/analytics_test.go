package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/network"
	"github.com/aegisshield/network-intel/internal/standardization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(mutate func(*config.AnalysisConfig)) config.AnalysisConfig {
	cfg := config.DefaultAnalysisConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func buildGraph(cfg config.AnalysisConfig, entities []models.EntityRecord, shared []models.SharedBeneficiaryLink, referrals []models.ReferralLink) *network.Handle {
	normalized := standardization.NewEngine(nil).NormalizeAll(entities)
	return network.NewBuilder(cfg, nil).Build(normalized, shared, referrals)
}

func clique(ids []string, count int) []models.SharedBeneficiaryLink {
	var links []models.SharedBeneficiaryLink
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			links = append(links, models.SharedBeneficiaryLink{EntityA: ids[i], EntityB: ids[j], SharedCount: count})
		}
	}
	return links
}

func entitiesFor(ids []string, risk, volume float64) []models.EntityRecord {
	records := make([]models.EntityRecord, len(ids))
	for i, id := range ids {
		records[i] = models.EntityRecord{ID: id, Name: id, RiskScore: risk, ClaimVolume: volume}
	}
	return records
}

func twoCliques() ([]models.EntityRecord, []models.SharedBeneficiaryLink) {
	a := []string{"a1", "a2", "a3", "a4"}
	b := []string{"b1", "b2", "b3", "b4"}

	entities := append(entitiesFor(a, 10, 100), entitiesFor(b, 10, 100)...)
	links := append(clique(a, 10), clique(b, 10)...)
	links = append(links, models.SharedBeneficiaryLink{EntityA: "a4", EntityB: "b1", SharedCount: 5})
	return entities, links
}

func memberIDs(h *network.Handle, partition Partition) [][]string {
	out := make([][]string, len(partition.Communities))
	for i, members := range partition.Communities {
		out[i] = idsOf(h, members)
	}
	return out
}

type failingStrategy struct{ panics bool }

func (f failingStrategy) Name() string { return "failing" }

func (f failingStrategy) Partition(context.Context, *network.Handle) (Partition, error) {
	if f.panics {
		panic("optional algorithm unavailable")
	}
	return Partition{}, errors.New("optional algorithm unavailable")
}

func TestModularityPartitionFindsCliques(t *testing.T) {
	cfg := testConfig(nil)
	entities, links := twoCliques()
	h := buildGraph(cfg, entities, links, nil)

	strategy := ModularityPartition{Resolution: 1, Seed: 1}
	partition, err := strategy.Partition(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, StrategyLouvain, partition.Algorithm)
	assert.Equal(t, [][]string{{"a1", "a2", "a3", "a4"}, {"b1", "b2", "b3", "b4"}}, memberIDs(h, partition))
	assert.Greater(t, partition.Modularity, 0.3)

	again, err := strategy.Partition(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, partition, again)
}

func TestModularityPartitionRepeatable(t *testing.T) {
	cfg := testConfig(nil)

	// ten 8-member cliques chained by weak bridges
	var (
		ids   []string
		links []models.SharedBeneficiaryLink
	)
	for c := 0; c < 10; c++ {
		members := make([]string, 8)
		for m := range members {
			members[m] = fmt.Sprintf("c%02d-m%d", c, m)
		}
		ids = append(ids, members...)
		links = append(links, clique(members, 10)...)
		if c > 0 {
			links = append(links, models.SharedBeneficiaryLink{
				EntityA:     fmt.Sprintf("c%02d-m0", c-1),
				EntityB:     members[7],
				SharedCount: 5,
			})
		}
	}
	h := buildGraph(cfg, entitiesFor(ids, 10, 100), links, nil)

	strategy := ModularityPartition{Resolution: cfg.LouvainResolution, Seed: cfg.LouvainSeed}
	first, err := strategy.Partition(context.Background(), h)
	require.NoError(t, err)
	assert.Len(t, first.Communities, 10)

	for run := 0; run < 30; run++ {
		again, err := strategy.Partition(context.Background(), h)
		require.NoError(t, err)
		require.Equal(t, first, again, "run %d", run)
	}
}

func TestModularityPartitionWithoutEdges(t *testing.T) {
	cfg := testConfig(nil)
	h := buildGraph(cfg, entitiesFor([]string{"b", "a"}, 0, 0), nil, nil)

	partition, err := ModularityPartition{Resolution: 1, Seed: 1}.Partition(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, StrategyLouvain, partition.Algorithm)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, memberIDs(h, partition))
}

func TestConnectedComponentsPartition(t *testing.T) {
	cfg := testConfig(nil)
	links := append(clique([]string{"a", "b", "c"}, 6), models.SharedBeneficiaryLink{EntityA: "d", EntityB: "e", SharedCount: 8})
	h := buildGraph(cfg, entitiesFor([]string{"a", "b", "c", "d", "e", "f"}, 0, 0), links, nil)

	partition, err := ConnectedComponentsPartition{}.Partition(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, StrategyComponents, partition.Algorithm)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e"}, {"f"}}, memberIDs(h, partition))
}

func TestFallbackPartition(t *testing.T) {
	cfg := testConfig(nil)
	entities, links := twoCliques()
	h := buildGraph(cfg, entities, links, nil)

	for _, primary := range []CommunityStrategy{failingStrategy{}, failingStrategy{panics: true}} {
		fallbacks := 0
		strategy := FallbackPartition{
			Primary:    primary,
			Fallback:   ConnectedComponentsPartition{},
			OnFallback: func() { fallbacks++ },
		}

		partition, err := strategy.Partition(context.Background(), h)
		require.NoError(t, err)
		assert.Equal(t, StrategyComponents, partition.Algorithm)
		require.Len(t, partition.Communities, 1)
		assert.Len(t, partition.Communities[0], 8)
		assert.Equal(t, 1, fallbacks)
	}
}

func TestFraudRingCritical(t *testing.T) {
	cfg := testConfig(nil)
	ids := []string{"k1", "k2", "k3", "k4"}
	h := buildGraph(cfg, entitiesFor(ids, 80, 3000), clique(ids, 9), nil)

	analyzer := NewAnalyzer(cfg, nil, nil)
	partition, err := ConnectedComponentsPartition{}.Partition(context.Background(), h)
	require.NoError(t, err)

	rings := analyzer.FraudRings(h, partition)
	require.Len(t, rings, 1)

	ring := rings[0]
	assert.Equal(t, 100.0, ring.FraudScore)
	assert.Equal(t, models.RiskLevelCritical, ring.RiskLevel)
	assert.Equal(t, 1.0, ring.Density)
	assert.Equal(t, 6, ring.Edges)
	assert.Equal(t, 4, ring.Triangles)
	assert.Equal(t, 1.0, ring.Reciprocity)
	assert.Equal(t, 12000.0, ring.TotalClaimVolume)
	assert.Equal(t, 80.0, ring.MaxRisk)
	assert.Equal(t, ids, ring.Members)
	assert.Contains(t, ring.Patterns, models.RingPatternNearComplete)
	assert.Contains(t, ring.Patterns, models.RingPatternHighClustering)
	assert.NotContains(t, ring.Patterns, models.RingPatternStarHub)
}

func TestFraudRingStarHub(t *testing.T) {
	cfg := testConfig(nil)
	ids := []string{"hub", "l1", "l2", "l3", "l4", "l5"}
	var links []models.SharedBeneficiaryLink
	for _, leaf := range ids[1:] {
		links = append(links, models.SharedBeneficiaryLink{EntityA: "hub", EntityB: leaf, SharedCount: 12})
	}
	h := buildGraph(cfg, entitiesFor(ids, 100, 2000), links, nil)

	analyzer := NewAnalyzer(cfg, nil, nil)
	partition, err := ConnectedComponentsPartition{}.Partition(context.Background(), h)
	require.NoError(t, err)

	rings := analyzer.FraudRings(h, partition)
	require.Len(t, rings, 1)
	assert.Equal(t, 85.0, rings[0].FraudScore)
	assert.Equal(t, models.RiskLevelHigh, rings[0].RiskLevel)
	assert.Equal(t, []string{models.RingPatternStarHub}, rings[0].Patterns)
	assert.Equal(t, "hub", rings[0].Hub)
	assert.Equal(t, 0, rings[0].Triangles)
}

func TestFraudRingsBelowThresholdAndSize(t *testing.T) {
	cfg := testConfig(nil)
	links := []models.SharedBeneficiaryLink{
		{EntityA: "a", EntityB: "b", SharedCount: 6},
		{EntityA: "b", EntityB: "c", SharedCount: 6},
		{EntityA: "x", EntityB: "y", SharedCount: 6},
	}
	entities := append(entitiesFor([]string{"a", "b", "c"}, 0, 0), entitiesFor([]string{"x", "y"}, 100, 50000)...)
	h := buildGraph(cfg, entities, links, nil)

	partition, err := ConnectedComponentsPartition{}.Partition(context.Background(), h)
	require.NoError(t, err)

	// path a-b-c scores 45; x-y is below the minimum community size
	assert.Empty(t, NewAnalyzer(cfg, nil, nil).FraudRings(h, partition))
}

func TestFraudRingReciprocityFromReferrals(t *testing.T) {
	cfg := testConfig(func(c *config.AnalysisConfig) { c.ReciprocityFromReferrals = true })
	ids := []string{"a", "b", "c", "d"}
	referrals := []models.ReferralLink{
		{Source: "a", Target: "b", Volume: 5},
		{Source: "b", Target: "a", Volume: 5},
		{Source: "a", Target: "c", Volume: 5},
		{Source: "a", Target: "d", Volume: 5},
		{Source: "b", Target: "c", Volume: 5},
		{Source: "b", Target: "d", Volume: 5},
		{Source: "c", Target: "outsider", Volume: 5},
	}
	h := buildGraph(cfg, entitiesFor(ids, 80, 3000), clique(ids, 9), referrals)

	partition, err := ConnectedComponentsPartition{}.Partition(context.Background(), h)
	require.NoError(t, err)

	rings := NewAnalyzer(cfg, nil, nil).FraudRings(h, partition)
	require.Len(t, rings, 1)
	// two of six in-community referrals are reciprocated
	assert.InDelta(t, 0.3333, rings[0].Reciprocity, 1e-4)
	assert.Equal(t, 96.67, rings[0].FraudScore)
	assert.Equal(t, models.RiskLevelCritical, rings[0].RiskLevel)
}

func TestKickbackCycleScenario(t *testing.T) {
	cfg := testConfig(nil)
	referrals := []models.ReferralLink{
		{Source: "A", Target: "B", Volume: 20},
		{Source: "B", Target: "C", Volume: 15},
		{Source: "C", Target: "A", Volume: 20},
		{Source: "D", Target: "E", Volume: 6},
		{Source: "E", Target: "D", Volume: 6},
	}
	h := buildGraph(cfg, nil, nil, referrals)

	result, err := NewAnalyzer(cfg, nil, nil).KickbackCycles(context.Background(), h)
	require.NoError(t, err)

	require.Len(t, result.Cycles, 1)
	cycle := result.Cycles[0]
	assert.Equal(t, []string{"A", "B", "C"}, cycle.Nodes)
	assert.Equal(t, 55.0, cycle.TotalVolume)
	assert.Equal(t, 3, cycle.Length)
	assert.Equal(t, models.KickbackCircularReferral, cycle.Type)
	assert.Equal(t, 1.1, cycle.SuspicionScore)

	require.Len(t, result.Direct, 1)
	assert.Equal(t, []string{"D", "E"}, result.Direct[0].Nodes)
	assert.Equal(t, models.KickbackDirect, result.Direct[0].Type)
	assert.False(t, result.Truncated)
}

func TestKickbackCyclesMinVolume(t *testing.T) {
	cfg := testConfig(nil)
	referrals := []models.ReferralLink{
		{Source: "A", Target: "B", Volume: 3},
		{Source: "B", Target: "C", Volume: 3},
		{Source: "C", Target: "A", Volume: 3},
	}
	h := buildGraph(cfg, nil, nil, referrals)

	result, err := NewAnalyzer(cfg, nil, nil).KickbackCycles(context.Background(), h)
	require.NoError(t, err)
	assert.Empty(t, result.Cycles)
}

func completeDigraph(n int, volume float64) []models.ReferralLink {
	var referrals []models.ReferralLink
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				referrals = append(referrals, models.ReferralLink{
					Source: fmt.Sprintf("n%d", i),
					Target: fmt.Sprintf("n%d", j),
					Volume: volume,
				})
			}
		}
	}
	return referrals
}

func TestKickbackCyclesValidityAndCap(t *testing.T) {
	cfg := testConfig(nil)
	h := buildGraph(cfg, nil, nil, completeDigraph(6, 10))

	result, err := NewAnalyzer(cfg, nil, nil).KickbackCycles(context.Background(), h)
	require.NoError(t, err)

	assert.Len(t, result.Cycles, cfg.MaxCycles)
	assert.True(t, result.Truncated)

	for _, cycle := range result.Cycles {
		require.GreaterOrEqual(t, cycle.Length, 3)
		require.LessOrEqual(t, cycle.Length, cfg.MaxCycleLength)
		for i, id := range cycle.Nodes {
			from, ok := h.Lookup(id)
			require.True(t, ok)
			to, _ := h.Lookup(cycle.Nodes[(i+1)%len(cycle.Nodes)])
			assert.True(t, h.HasReferral(from, to))
			assert.Greater(t, h.ReferralVolume(from, to), 0.0)
		}
	}
	for i := 1; i < len(result.Cycles); i++ {
		assert.GreaterOrEqual(t, result.Cycles[i-1].SuspicionScore, result.Cycles[i].SuspicionScore)
	}
}

func directedRing(n int, volume float64) []models.ReferralLink {
	referrals := make([]models.ReferralLink, n)
	for i := 0; i < n; i++ {
		referrals[i] = models.ReferralLink{
			Source: fmt.Sprintf("n%d", i),
			Target: fmt.Sprintf("n%d", (i+1)%n),
			Volume: volume,
		}
	}
	return referrals
}

func TestKickbackCyclesLengthCap(t *testing.T) {
	cfg := testConfig(nil)
	h := buildGraph(cfg, nil, nil, directedRing(9, 100))

	result, err := NewAnalyzer(cfg, nil, nil).KickbackCycles(context.Background(), h)
	require.NoError(t, err)
	assert.Empty(t, result.Cycles)
	assert.True(t, result.Truncated)

	longer := testConfig(func(c *config.AnalysisConfig) { c.MaxCycleLength = 9 })
	result, err = NewAnalyzer(longer, nil, nil).KickbackCycles(context.Background(), h)
	require.NoError(t, err)
	require.Len(t, result.Cycles, 1)
	assert.Equal(t, 9, result.Cycles[0].Length)
	assert.Equal(t, 900.0, result.Cycles[0].TotalVolume)
	assert.False(t, result.Truncated)
}

func TestKickbackCyclesBudget(t *testing.T) {
	cfg := testConfig(func(c *config.AnalysisConfig) { c.CycleSearchBudget = 10 })
	h := buildGraph(cfg, nil, nil, completeDigraph(7, 10))

	result, err := NewAnalyzer(cfg, nil, nil).KickbackCycles(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len(result.Cycles)+len(result.Direct), 10)
}

func TestKickbackCyclesDeadline(t *testing.T) {
	cfg := testConfig(nil)
	h := buildGraph(cfg, nil, nil, completeDigraph(5, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewAnalyzer(cfg, nil, nil).KickbackCycles(ctx, h)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
}

func concentrationFixture(t *testing.T, mutate func(*config.AnalysisConfig)) (*Analyzer, *network.Handle, map[string]map[string]struct{}) {
	t.Helper()
	cfg := testConfig(mutate)
	beneficiaries := map[string][]string{
		"a": {"p1", "p2", "p3", "p4", "p5", "p6"},
		"b": {"p1", "p2", "p3", "p4", "p5", "p9"},
		"c": {"p1", "p2", "p3", "p4"},
		"d": {"p1", "p2", "p3", "p4", "p5", "p6"},
		"e": {"p1", "p2", "p3", "p4", "p5", "p6"},
	}
	shared := network.AggregateSharedBeneficiaries(beneficiaries, cfg.MinSharedPatients)
	// d and e are not linked in the graph, so they are never compared with each other
	var linked []models.SharedBeneficiaryLink
	for _, link := range shared {
		if link.EntityA == "a" && link.EntityB == "b" {
			linked = append(linked, link)
		}
	}
	linked = append(linked, models.SharedBeneficiaryLink{EntityA: "a", EntityB: "c", SharedCount: 5})

	h := buildGraph(cfg, entitiesFor([]string{"a", "b", "c", "d", "e"}, 0, 0), linked, nil)
	return NewAnalyzer(cfg, nil, nil), h, network.BeneficiarySets(beneficiaries)
}

func TestConcentration(t *testing.T) {
	analyzer, h, sets := concentrationFixture(t, nil)

	result := analyzer.Concentration(context.Background(), h, sets)
	require.Len(t, result.Pairs, 1)

	pair := result.Pairs[0]
	assert.Equal(t, "a", pair.EntityA)
	assert.Equal(t, "b", pair.EntityB)
	assert.Equal(t, 5, pair.SharedBeneficiaries)
	assert.Equal(t, 6, pair.BeneficiariesA)
	assert.InDelta(t, 0.8333, pair.OverlapRatio, 1e-4)
	assert.Equal(t, 83.33, pair.SuspicionScore)
	assert.Equal(t, 2, result.Compared)
	assert.False(t, result.Truncated)
}

func TestConcentrationBudget(t *testing.T) {
	analyzer, h, sets := concentrationFixture(t, func(c *config.AnalysisConfig) {
		c.ConcentrationComparisonBudget = 1
	})

	result := analyzer.Concentration(context.Background(), h, sets)
	assert.True(t, result.Truncated)
	assert.Equal(t, 1, result.Compared)
}

func TestConcentrationWithoutBeneficiaries(t *testing.T) {
	analyzer, h, _ := concentrationFixture(t, nil)

	result := analyzer.Concentration(context.Background(), h, nil)
	assert.Empty(t, result.Pairs)
	assert.False(t, result.Truncated)
}

func TestCentrality(t *testing.T) {
	cfg := testConfig(nil)
	ids := []string{"hub", "l1", "l2", "l3", "l4"}
	var links []models.SharedBeneficiaryLink
	for _, leaf := range ids[1:] {
		links = append(links, models.SharedBeneficiaryLink{EntityA: "hub", EntityB: leaf, SharedCount: 6})
	}
	h := buildGraph(cfg, entitiesFor(ids, 0, 0), links, nil)

	hub, _ := h.Lookup("hub")
	leaf, _ := h.Lookup("l1")

	degree := DegreeCentrality(h)
	assert.Equal(t, 1.0, degree[hub])
	assert.Equal(t, 0.25, degree[leaf])

	betweenness := BetweennessCentrality(h)
	assert.InDelta(t, 1.0, betweenness[hub], 1e-9)
	assert.Equal(t, 0.0, betweenness[leaf])

	top := TopN(h, degree, 2)
	require.Len(t, top, 2)
	assert.Equal(t, models.CentralityScore{EntityID: "hub", Score: 1, Rank: 1}, top[0])
	assert.Equal(t, "l1", top[1].EntityID)
	assert.Equal(t, 2, top[1].Rank)
}

func TestAnalyzeEmptyGraph(t *testing.T) {
	cfg := testConfig(nil)
	h := buildGraph(cfg, nil, nil, nil)

	insights, err := NewAnalyzer(cfg, nil, nil).Analyze(context.Background(), h, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, insights.TotalNodes)
	assert.Equal(t, 0, insights.TotalEdges)
	assert.Equal(t, 0.0, insights.Density)
	assert.Equal(t, 0, insights.CommunityCount)
	assert.Equal(t, 0.0, insights.AverageClustering)
	assert.Empty(t, insights.TopDegree)
	assert.Empty(t, insights.TopBetweenness)
	assert.NotNil(t, insights.FraudRings)
	assert.Empty(t, insights.FraudRings)
	assert.Empty(t, insights.KickbackCycles)
	assert.Empty(t, insights.ConcentrationPairs)
	assert.Empty(t, insights.AddressSharing)
	assert.Empty(t, insights.CrossRegionClusters)
	assert.False(t, insights.CyclesTruncated)
	assert.False(t, insights.ConcentrationTruncated)
}

func TestAnalyzeAggregates(t *testing.T) {
	cfg := testConfig(nil)
	entities, links := twoCliques()
	for i := range entities {
		entities[i].RiskScore = 90
		entities[i].ClaimVolume = 4000
		switch entities[i].ID {
		case "a1", "a2":
			entities[i].Address = "1 Court St"
			entities[i].Zip = "11201"
		case "a3":
			entities[i].Zip = "11215"
		case "a4":
			entities[i].Zip = "10001"
		default:
			entities[i].Zip = "10451"
		}
	}
	referrals := []models.ReferralLink{
		{Source: "a1", Target: "b1", Volume: 200},
		{Source: "b1", Target: "b2", Volume: 200},
		{Source: "b2", Target: "a1", Volume: 200},
	}
	h := buildGraph(cfg, entities, links, referrals)

	analyzer := NewAnalyzer(cfg, nil, nil)
	insights, err := analyzer.Analyze(context.Background(), h, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, insights.TotalNodes)
	assert.Equal(t, 13, insights.TotalEdges)
	assert.Equal(t, 3, insights.ReferralEdges)
	assert.InDelta(t, 13.0/28.0, insights.Density, 1e-4)
	assert.Equal(t, StrategyLouvain, insights.CommunityAlgorithm)
	assert.Equal(t, 2, insights.CommunityCount)
	assert.Len(t, insights.FraudRings, 2)
	assert.Len(t, insights.KickbackCycles, 1)
	assert.Len(t, insights.TopDegree, 8)

	require.Len(t, insights.AddressSharing, 1)
	assert.Equal(t, []string{"a1", "a2"}, insights.AddressSharing[0].NodeIDs)

	require.Len(t, insights.CrossRegionClusters, 1)
	assert.Equal(t, []string{"Brooklyn", "Manhattan"}, insights.CrossRegionClusters[0].Regions)
	assert.Equal(t, 0, insights.CrossRegionClusters[0].CommunityID)

	again, err := analyzer.Analyze(context.Background(), h, nil)
	require.NoError(t, err)
	assert.Equal(t, insights, again)
}

func TestAnalyzeComponentsStrategy(t *testing.T) {
	cfg := testConfig(func(c *config.AnalysisConfig) {
		c.CommunityAlgorithm = config.CommunityAlgorithmComponents
		c.StageTimeout = time.Second
	})
	entities, links := twoCliques()
	h := buildGraph(cfg, entities, links, nil)

	insights, err := NewAnalyzer(cfg, nil, nil).Analyze(context.Background(), h, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyComponents, insights.CommunityAlgorithm)
	assert.Equal(t, 1, insights.CommunityCount)
}
