package patterns

import (
	"log/slog"
	"sort"

	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/matching"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/standardization"
)

// Detector finds co-location patterns: address clusters, phoenix successions and shell links
type Detector struct {
	config  config.AnalysisConfig
	matcher *matching.Engine
	logger  *slog.Logger
}

// Cluster is a group of co-located entities, members ordered by id
type Cluster struct {
	Key     string
	Members []standardization.NormalizedEntity
}

// NewDetector creates a new pattern detector
func NewDetector(cfg config.AnalysisConfig, matcher *matching.Engine, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		config:  cfg,
		matcher: matcher,
		logger:  logger,
	}
}

// AddressClusters groups entities with a non-empty address by normalized address and ZIP5.
// With a positive radius, entities carrying coordinates are additionally joined when they
// lie within the radius of each other. Only groups of two or more are returned, largest first.
func (d *Detector) AddressClusters(entities []standardization.NormalizedEntity) []Cluster {
	located := make([]standardization.NormalizedEntity, 0, len(entities))
	for _, entity := range entities {
		if entity.Fields.Address != "" {
			located = append(located, entity)
		}
	}
	if len(located) < 2 {
		return nil
	}

	uf := newUnionFind(len(located))

	first := make(map[string]int)
	for i, entity := range located {
		key := entity.Fields.AddressKey()
		if j, ok := first[key]; ok {
			uf.union(i, j)
		} else {
			first[key] = i
		}
	}

	if d.config.AddressClusterRadiusMiles > 0 {
		d.joinWithinRadius(located, uf)
	}

	groups := make(map[int][]standardization.NormalizedEntity)
	for i, entity := range located {
		root := uf.find(i)
		groups[root] = append(groups[root], entity)
	}

	clusters := make([]Cluster, 0, len(groups))
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].Record.ID < members[j].Record.ID
		})
		clusters = append(clusters, Cluster{
			Key:     members[0].Fields.AddressKey(),
			Members: members,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].Members) != len(clusters[j].Members) {
			return len(clusters[i].Members) > len(clusters[j].Members)
		}
		if clusters[i].Key != clusters[j].Key {
			return clusters[i].Key < clusters[j].Key
		}
		return clusters[i].Members[0].Record.ID < clusters[j].Members[0].Record.ID
	})

	d.logger.Debug("Address clustering completed",
		"entities", len(located),
		"clusters", len(clusters),
		"radius_miles", d.config.AddressClusterRadiusMiles)

	return clusters
}

// joinWithinRadius sweeps entities sorted by latitude and unions pairs within the radius
func (d *Detector) joinWithinRadius(located []standardization.NormalizedEntity, uf *unionFind) {
	radius := d.config.AddressClusterRadiusMiles
	latWindow := radius / milesPerDegree

	var order []int
	for i, entity := range located {
		if entity.Record.HasCoordinates() {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		return *located[order[i]].Record.Latitude < *located[order[j]].Record.Latitude
	})

	for x := 0; x < len(order); x++ {
		a := located[order[x]].Record
		for y := x + 1; y < len(order); y++ {
			b := located[order[y]].Record
			if *b.Latitude-*a.Latitude > latWindow {
				break
			}
			if DistanceMiles(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude) <= radius {
				uf.union(order[x], order[y])
			}
		}
	}
}

// ToModel converts clusters into the report shape
func ToModel(clusters []Cluster) []models.AddressCluster {
	out := make([]models.AddressCluster, 0, len(clusters))
	for _, c := range clusters {
		members := make([]models.EntityRecord, len(c.Members))
		for i, m := range c.Members {
			members[i] = m.Record
		}
		out = append(out, models.AddressCluster{
			AddressKey: c.Key,
			Members:    members,
			Count:      len(members),
		})
	}
	return out
}
