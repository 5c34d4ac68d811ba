package analytics

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/network"
	"golang.org/x/sync/errgroup"
)

// ConcentrationResult holds entity pairs with concentrated shared beneficiaries
type ConcentrationResult struct {
	Pairs     []models.ConcentrationPair
	Compared  int
	Truncated bool
}

// Concentration compares beneficiary sets of entities that are already linked in the
// shared-beneficiary graph. Pairs are compared in node order up to the comparison
// budget, fanned out across workers and sorted after merging.
func (a *Analyzer) Concentration(ctx context.Context, h *network.Handle, sets map[string]map[string]struct{}) *ConcentrationResult {
	ctx, cancel := context.WithTimeout(ctx, a.config.StageTimeout)
	defer cancel()

	result := &ConcentrationResult{}
	if len(sets) == 0 {
		return result
	}

	var candidates [][2]int64
	for _, u := range h.Nodes() {
		for _, v := range h.Neighbors(u) {
			if v > u {
				candidates = append(candidates, [2]int64{u, v})
			}
		}
	}
	if len(candidates) > a.config.ConcentrationComparisonBudget {
		candidates = candidates[:a.config.ConcentrationComparisonBudget]
		result.Truncated = true
	}

	workers := a.config.Workers
	if workers < 1 {
		workers = 1
	}
	chunk := (len(candidates) + workers - 1) / workers
	if chunk == 0 {
		return result
	}

	var (
		compared  atomic.Int64
		cancelled atomic.Bool
	)
	perChunk := make([][]models.ConcentrationPair, workers)

	g := new(errgroup.Group)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= len(candidates) {
			break
		}
		hi := lo + chunk
		if hi > len(candidates) {
			hi = len(candidates)
		}

		w, slice := w, candidates[lo:hi]
		g.Go(func() error {
			var found []models.ConcentrationPair
			for i, pair := range slice {
				if i%deadlineCheckInterval == 0 && ctx.Err() != nil {
					cancelled.Store(true)
					break
				}
				compared.Add(1)
				if p, ok := a.comparePair(h.ID(pair[0]), h.ID(pair[1]), sets); ok {
					found = append(found, p)
				}
			}
			perChunk[w] = found
			return nil
		})
	}
	_ = g.Wait()

	for _, found := range perChunk {
		result.Pairs = append(result.Pairs, found...)
	}
	sort.Slice(result.Pairs, func(i, j int) bool {
		pi, pj := result.Pairs[i], result.Pairs[j]
		if pi.OverlapRatio != pj.OverlapRatio {
			return pi.OverlapRatio > pj.OverlapRatio
		}
		if pi.SharedBeneficiaries != pj.SharedBeneficiaries {
			return pi.SharedBeneficiaries > pj.SharedBeneficiaries
		}
		if pi.EntityA != pj.EntityA {
			return pi.EntityA < pj.EntityA
		}
		return pi.EntityB < pj.EntityB
	})

	if len(result.Pairs) > a.config.MaxConcentrationPairs {
		result.Pairs = result.Pairs[:a.config.MaxConcentrationPairs]
		result.Truncated = true
	}
	result.Compared = int(compared.Load())
	if cancelled.Load() {
		result.Truncated = true
	}

	a.logger.Debug("Concentration analysis completed",
		"candidates", len(candidates),
		"compared", result.Compared,
		"pairs", len(result.Pairs),
		"truncated", result.Truncated)

	return result
}

func (a *Analyzer) comparePair(idA, idB string, sets map[string]map[string]struct{}) (models.ConcentrationPair, bool) {
	setA, setB := sets[idA], sets[idB]
	minOverlap := a.config.ConcentrationMinOverlap
	if len(setA) < minOverlap || len(setB) < minOverlap {
		return models.ConcentrationPair{}, false
	}

	small, large := setA, setB
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for beneficiary := range small {
		if _, ok := large[beneficiary]; ok {
			shared++
		}
	}
	if shared < minOverlap {
		return models.ConcentrationPair{}, false
	}

	ratio := float64(shared) / float64(len(small))
	if ratio < a.config.ConcentrationOverlapThreshold {
		return models.ConcentrationPair{}, false
	}

	return models.ConcentrationPair{
		EntityA:             idA,
		EntityB:             idB,
		SharedBeneficiaries: shared,
		BeneficiariesA:      len(setA),
		BeneficiariesB:      len(setB),
		OverlapRatio:        round4(ratio),
		SuspicionScore:      round2(ratio * 100),
	}, true
}
