package patterns

import (
	"sort"
	"time"

	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/standardization"
)

const (
	phoenixHighSimilarity   = 0.6
	phoenixMediumSimilarity = 0.3
)

// ActivityIndex folds activity windows into one span per entity
func ActivityIndex(windows []models.ActivityWindow) map[string]models.ActivityWindow {
	index := make(map[string]models.ActivityWindow, len(windows))
	for _, w := range windows {
		if w.FirstActivity.IsZero() || w.LastActivity.IsZero() {
			continue
		}
		existing, ok := index[w.EntityID]
		if !ok {
			index[w.EntityID] = w
			continue
		}
		if w.FirstActivity.Before(existing.FirstActivity) {
			existing.FirstActivity = w.FirstActivity
		}
		if w.LastActivity.After(existing.LastActivity) {
			existing.LastActivity = w.LastActivity
		}
		index[w.EntityID] = existing
	}
	return index
}

// PhoenixPairs finds same-address successions: one member's last activity strictly
// precedes another's first activity by no more than the configured window.
// Members with overlapping windows are never paired.
func (d *Detector) PhoenixPairs(clusters []Cluster, activity map[string]models.ActivityWindow) []models.PhoenixPair {
	var pairs []models.PhoenixPair

	for _, cluster := range clusters {
		for i := 0; i < len(cluster.Members); i++ {
			for j := i + 1; j < len(cluster.Members); j++ {
				pair, ok := d.phoenixPair(cluster.Key, cluster.Members[i], cluster.Members[j], activity)
				if ok {
					pairs = append(pairs, pair)
				}
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		hi, hj := pairs[i].RiskLevel == models.RiskLevelHigh, pairs[j].RiskLevel == models.RiskLevelHigh
		if hi != hj {
			return hi
		}
		if pairs[i].NameSimilarity != pairs[j].NameSimilarity {
			return pairs[i].NameSimilarity > pairs[j].NameSimilarity
		}
		if pairs[i].GapDays != pairs[j].GapDays {
			return pairs[i].GapDays < pairs[j].GapDays
		}
		if pairs[i].Predecessor.ID != pairs[j].Predecessor.ID {
			return pairs[i].Predecessor.ID < pairs[j].Predecessor.ID
		}
		return pairs[i].Successor.ID < pairs[j].Successor.ID
	})

	d.logger.Debug("Phoenix detection completed", "clusters", len(clusters), "pairs", len(pairs))
	return pairs
}

func (d *Detector) phoenixPair(key string, a, b standardization.NormalizedEntity, activity map[string]models.ActivityWindow) (models.PhoenixPair, bool) {
	wa, okA := activity[a.Record.ID]
	wb, okB := activity[b.Record.ID]
	if !okA || !okB {
		return models.PhoenixPair{}, false
	}

	var pred, succ standardization.NormalizedEntity
	var end, start time.Time
	switch {
	case wa.LastActivity.Before(wb.FirstActivity):
		pred, succ, end, start = a, b, wa.LastActivity, wb.FirstActivity
	case wb.LastActivity.Before(wa.FirstActivity):
		pred, succ, end, start = b, a, wb.LastActivity, wa.FirstActivity
	default:
		return models.PhoenixPair{}, false
	}

	gap := daysBetween(end, start)
	if gap > d.config.PhoenixWindowDays {
		return models.PhoenixPair{}, false
	}

	similarity := d.matcher.NameSimilarity(pred.Fields.Name, succ.Fields.Name)

	return models.PhoenixPair{
		AddressKey:     key,
		Predecessor:    pred.Record,
		Successor:      succ.Record,
		PredecessorEnd: end,
		SuccessorStart: start,
		GapDays:        gap,
		NameSimilarity: similarity,
		RiskLevel:      phoenixRisk(similarity),
	}, true
}

func phoenixRisk(nameSimilarity float64) models.RiskLevel {
	switch {
	case nameSimilarity >= phoenixHighSimilarity:
		return models.RiskLevelHigh
	case nameSimilarity >= phoenixMediumSimilarity:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// daysBetween counts calendar days from a to b in UTC
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
