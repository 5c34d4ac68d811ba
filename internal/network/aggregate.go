package network

import (
	"sort"

	"github.com/aegisshield/network-intel/internal/models"
)

// AggregateSharedBeneficiaries derives entity-pair shared-beneficiary counts from
// per-entity beneficiary sets. Pairs below minShared are dropped here, before any
// graph is built.
func AggregateSharedBeneficiaries(beneficiaries map[string][]string, minShared int) []models.SharedBeneficiaryLink {
	// beneficiary -> distinct entities serving them
	inverted := make(map[string]map[string]struct{})
	for entityID, members := range beneficiaries {
		if entityID == "" {
			continue
		}
		for _, beneficiary := range members {
			if beneficiary == "" {
				continue
			}
			set, ok := inverted[beneficiary]
			if !ok {
				set = make(map[string]struct{})
				inverted[beneficiary] = set
			}
			set[entityID] = struct{}{}
		}
	}

	counts := make(map[[2]string]int)
	for _, set := range inverted {
		if len(set) < 2 {
			continue
		}
		entities := make([]string, 0, len(set))
		for id := range set {
			entities = append(entities, id)
		}
		sort.Strings(entities)
		for i := 0; i < len(entities); i++ {
			for j := i + 1; j < len(entities); j++ {
				counts[[2]string{entities[i], entities[j]}]++
			}
		}
	}

	links := make([]models.SharedBeneficiaryLink, 0, len(counts))
	for _, key := range sortedPairs(counts) {
		if counts[key] < minShared {
			continue
		}
		links = append(links, models.SharedBeneficiaryLink{
			EntityA:     key[0],
			EntityB:     key[1],
			SharedCount: counts[key],
		})
	}
	return links
}

// BeneficiarySets deduplicates per-entity beneficiary lists into sets
func BeneficiarySets(beneficiaries map[string][]string) map[string]map[string]struct{} {
	sets := make(map[string]map[string]struct{}, len(beneficiaries))
	for entityID, members := range beneficiaries {
		set := make(map[string]struct{}, len(members))
		for _, beneficiary := range members {
			if beneficiary != "" {
				set[beneficiary] = struct{}{}
			}
		}
		sets[entityID] = set
	}
	return sets
}
