package patterns

import (
	"sort"

	"github.com/aegisshield/network-intel/internal/models"
)

// Shared attribute labels
const (
	AttributeAddress      = "address"
	AttributeFacilityType = "facility_type"
	AttributeSimilarName  = "similar_name"
)

const shellNameSimilarity = 0.5

// ShellLinks pairs co-located entities that share at least one attribute besides the address
func (d *Detector) ShellLinks(clusters []Cluster) []models.ShellLink {
	var links []models.ShellLink

	for _, cluster := range clusters {
		for i := 0; i < len(cluster.Members); i++ {
			for j := i + 1; j < len(cluster.Members); j++ {
				a, b := cluster.Members[i], cluster.Members[j]

				shared := []string{AttributeAddress}
				if a.Fields.FacilityType != "" && a.Fields.FacilityType == b.Fields.FacilityType {
					shared = append(shared, AttributeFacilityType)
				}
				similarity := d.matcher.NameSimilarity(a.Fields.Name, b.Fields.Name)
				if similarity >= shellNameSimilarity {
					shared = append(shared, AttributeSimilarName)
				}
				if len(shared) < 2 {
					continue
				}

				links = append(links, models.ShellLink{
					AddressKey:       cluster.Key,
					EntityA:          a.Record,
					EntityB:          b.Record,
					SharedAttributes: shared,
					NameSimilarity:   similarity,
				})
			}
		}
	}

	sort.Slice(links, func(i, j int) bool {
		if len(links[i].SharedAttributes) != len(links[j].SharedAttributes) {
			return len(links[i].SharedAttributes) > len(links[j].SharedAttributes)
		}
		if links[i].NameSimilarity != links[j].NameSimilarity {
			return links[i].NameSimilarity > links[j].NameSimilarity
		}
		if links[i].EntityA.ID != links[j].EntityA.ID {
			return links[i].EntityA.ID < links[j].EntityA.ID
		}
		return links[i].EntityB.ID < links[j].EntityB.ID
	})

	d.logger.Debug("Shell link detection completed", "clusters", len(clusters), "links", len(links))
	return links
}
