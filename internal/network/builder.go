package network

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/standardization"
	"gonum.org/v1/gonum/graph/simple"
)

const defaultNodeType = "provider"

// Builder constructs the per-run relationship graphs
type Builder struct {
	config config.AnalysisConfig
	logger *slog.Logger
}

// NewBuilder creates a new graph builder
func NewBuilder(cfg config.AnalysisConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		config: cfg,
		logger: logger,
	}
}

// Build creates the undirected shared-beneficiary graph and the directed referral graph.
// Shared links below min_shared_patients are not materialized; self links are ignored.
// Link endpoints that are not known entities become bare nodes.
func (b *Builder) Build(entities []standardization.NormalizedEntity, shared []models.SharedBeneficiaryLink, referrals []models.ReferralLink) *Handle {
	start := time.Now()

	sharedCounts := make(map[[2]string]int)
	for _, link := range shared {
		if link.EntityA == "" || link.EntityB == "" || link.EntityA == link.EntityB {
			continue
		}
		if link.SharedCount < b.config.MinSharedPatients {
			continue
		}
		key := pairKey(link.EntityA, link.EntityB)
		if link.SharedCount > sharedCounts[key] {
			sharedCounts[key] = link.SharedCount
		}
	}

	referralVolumes := make(map[[2]string]float64)
	for _, link := range referrals {
		if link.Source == "" || link.Target == "" || link.Source == link.Target || link.Volume <= 0 {
			continue
		}
		referralVolumes[[2]string{link.Source, link.Target}] += link.Volume
	}

	known := make(map[string]standardization.NormalizedEntity, len(entities))
	for _, entity := range entities {
		if entity.Record.ID == "" {
			continue
		}
		if _, dup := known[entity.Record.ID]; !dup {
			known[entity.Record.ID] = entity
		}
	}

	idSet := make(map[string]struct{}, len(known))
	for id := range known {
		idSet[id] = struct{}{}
	}
	for key := range sharedCounts {
		idSet[key[0]] = struct{}{}
		idSet[key[1]] = struct{}{}
	}
	for key := range referralVolumes {
		idSet[key[0]] = struct{}{}
		idSet[key[1]] = struct{}{}
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := &Handle{
		ids:        ids,
		index:      make(map[string]int64, len(ids)),
		attributes: make([]NodeAttributes, len(ids)),
		undirected: simple.NewWeightedUndirectedGraph(0, 0),
		directed:   simple.NewWeightedDirectedGraph(0, 0),
	}
	for i, id := range ids {
		h.index[id] = int64(i)
		if entity, ok := known[id]; ok {
			h.attributes[i] = b.attributesFor(entity)
		} else {
			h.attributes[i] = NodeAttributes{ID: id, Type: defaultNodeType}
		}
	}

	for id := range known {
		h.undirected.AddNode(simple.Node(h.index[id]))
	}

	for _, key := range sortedPairs(sharedCounts) {
		u, v := simple.Node(h.index[key[0]]), simple.Node(h.index[key[1]])
		h.undirected.SetWeightedEdge(h.undirected.NewWeightedEdge(u, v, float64(sharedCounts[key])))
		h.edgeCount++
	}

	for _, key := range sortedReferralPairs(referralVolumes) {
		u, v := simple.Node(h.index[key[0]]), simple.Node(h.index[key[1]])
		h.directed.SetWeightedEdge(h.directed.NewWeightedEdge(u, v, referralVolumes[key]))
		h.referralCount++
	}

	b.logger.Info("Relationship graph built",
		"nodes", h.NodeCount(),
		"edges", h.edgeCount,
		"referral_nodes", h.directed.Nodes().Len(),
		"referral_edges", h.referralCount,
		"duration", time.Since(start))

	return h
}

func (b *Builder) attributesFor(entity standardization.NormalizedEntity) NodeAttributes {
	record := entity.Record
	nodeType := record.FacilityType
	if nodeType == "" {
		nodeType = defaultNodeType
	}
	return NodeAttributes{
		ID:          record.ID,
		Type:        nodeType,
		Address:     record.Address,
		AddressKey:  entity.Fields.AddressKey(),
		Region:      ResolveRegion(b.config.Regions, entity.Fields.Zip, record.State),
		RiskScore:   record.RiskScore,
		ClaimVolume: record.ClaimVolume,
		Capacity:    record.LicensedCapacity,
	}
}

// ResolveRegion maps a ZIP5 to a named region by its 3-digit prefix, falling back to the state
func ResolveRegion(regions map[string]string, zip5, state string) string {
	if len(zip5) >= 3 {
		if region, ok := regions[zip5[:3]]; ok {
			return region
		}
	}
	return strings.ToUpper(strings.TrimSpace(state))
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func sortedPairs(m map[[2]string]int) [][2]string {
	keys := make([][2]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortedReferralPairs(m map[[2]string]float64) [][2]string {
	keys := make([][2]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys [][2]string) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
}
