package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	dgraph "github.com/dominikbraun/graph"

	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/network"
)

// deadline checks are amortized over this many DFS expansions
const deadlineCheckInterval = 256

// CycleResult holds referral loops and mutual referral pairs
type CycleResult struct {
	Cycles    []models.KickbackCycle
	Direct    []models.KickbackCycle
	Truncated bool
}

// cycleSearch enumerates simple directed cycles rooted at their smallest node
type cycleSearch struct {
	ctx       context.Context
	h         *network.Handle
	allowed   map[int64]bool
	maxLength int
	budget    int
	spent     int
	exhausted bool

	// lengthCapped records that max_cycle_length pruned a path that could still close
	lengthCapped bool

	root   int64
	path   []int64
	onPath map[int64]bool
}

// KickbackCycles enumerates referral cycles within strongly connected components.
// Truncated is set when max_cycle_length prunes a path, when the search stops after
// cycle_search_budget DFS expansions or at the stage deadline, and when an output cap applies.
func (a *Analyzer) KickbackCycles(ctx context.Context, h *network.Handle) (*CycleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.StageTimeout)
	defer cancel()

	components, err := referralComponents(h)
	if err != nil {
		return nil, fmt.Errorf("failed to compute referral components: %w", err)
	}

	result := &CycleResult{}
	search := &cycleSearch{
		ctx:       ctx,
		h:         h,
		maxLength: a.config.MaxCycleLength,
		budget:    a.config.CycleSearchBudget,
		onPath:    make(map[int64]bool),
	}

	collect := func(nodes []int64) bool {
		cycle, ok := a.scoreCycle(h, nodes)
		if !ok {
			return true
		}
		if cycle.Length == 2 {
			result.Direct = append(result.Direct, cycle)
		} else {
			result.Cycles = append(result.Cycles, cycle)
		}
		return true
	}

	for _, component := range components {
		search.allowed = make(map[int64]bool, len(component))
		for _, n := range component {
			search.allowed[n] = true
		}
		if !search.run(component, collect) {
			break
		}
	}
	result.Truncated = search.exhausted || search.lengthCapped

	sortCycles(result.Cycles)
	sortCycles(result.Direct)

	if len(result.Cycles) > a.config.MaxCycles {
		result.Cycles = result.Cycles[:a.config.MaxCycles]
		result.Truncated = true
	}
	if len(result.Direct) > a.config.MaxCycles {
		result.Direct = result.Direct[:a.config.MaxCycles]
		result.Truncated = true
	}

	a.logger.Debug("Cycle detection completed",
		"components", len(components),
		"cycles", len(result.Cycles),
		"direct", len(result.Direct),
		"expansions", search.spent,
		"length_capped", search.lengthCapped,
		"truncated", result.Truncated)

	return result, nil
}

// referralComponents returns the strongly connected components with at least two nodes,
// members ascending, components ordered by their smallest member
func referralComponents(h *network.Handle) ([][]int64, error) {
	g := dgraph.New(dgraph.IntHash, dgraph.Directed())

	nodes := h.ReferralNodes()
	for _, n := range nodes {
		if err := g.AddVertex(int(n)); err != nil {
			return nil, err
		}
	}
	for _, n := range nodes {
		for _, m := range h.Successors(n) {
			if err := g.AddEdge(int(n), int(m)); err != nil {
				return nil, err
			}
		}
	}

	sccs, err := dgraph.StronglyConnectedComponents(g)
	if err != nil {
		return nil, err
	}

	var components [][]int64
	for _, scc := range sccs {
		if len(scc) < 2 {
			continue
		}
		members := make([]int64, len(scc))
		for i, v := range scc {
			members[i] = int64(v)
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })

	return components, nil
}

// run searches every root of the component in ascending order. It returns false once
// the budget or deadline is exhausted or yield asks to stop.
func (s *cycleSearch) run(component []int64, yield func([]int64) bool) bool {
	for _, root := range component {
		if s.ctx.Err() != nil {
			s.exhausted = true
			return false
		}
		s.root = root
		s.path = append(s.path[:0], root)
		s.onPath[root] = true
		ok := s.extend(root, yield)
		delete(s.onPath, root)
		if !ok {
			return false
		}
	}
	return true
}

// extend walks successors greater than the root so each cycle is found exactly once
func (s *cycleSearch) extend(node int64, yield func([]int64) bool) bool {
	for _, next := range s.h.Successors(node) {
		if !s.allowed[next] || next < s.root {
			continue
		}

		s.spent++
		if s.spent > s.budget {
			s.exhausted = true
			return false
		}
		if s.spent%deadlineCheckInterval == 0 && s.ctx.Err() != nil {
			s.exhausted = true
			return false
		}

		if next == s.root {
			cycle := append([]int64(nil), s.path...)
			if !yield(cycle) {
				return false
			}
			continue
		}
		if s.onPath[next] {
			continue
		}
		if len(s.path) >= s.maxLength {
			s.lengthCapped = true
			continue
		}

		s.path = append(s.path, next)
		s.onPath[next] = true
		ok := s.extend(next, yield)
		s.onPath[next] = false
		s.path = s.path[:len(s.path)-1]
		if !ok {
			return false
		}
	}
	return true
}

// scoreCycle sums the loop's volume and drops loops below min_cycle_volume
func (a *Analyzer) scoreCycle(h *network.Handle, nodes []int64) (models.KickbackCycle, bool) {
	total := 0.0
	risk := 0.0
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		total += h.ReferralVolume(n, nodes[(i+1)%len(nodes)])
		risk += h.Attributes(n).RiskScore
		ids[i] = h.ID(n)
	}
	if total < a.config.MinCycleVolume {
		return models.KickbackCycle{}, false
	}

	meanRisk := risk / float64(len(nodes))
	cycleType := models.KickbackCircularReferral
	if len(nodes) == 2 {
		cycleType = models.KickbackDirect
	}

	return models.KickbackCycle{
		Type:           cycleType,
		Nodes:          ids,
		Length:         len(nodes),
		TotalVolume:    total,
		MeanRisk:       round2(meanRisk),
		SuspicionScore: round2(math.Min(100, total/50+meanRisk)),
	}, true
}

func sortCycles(cycles []models.KickbackCycle) {
	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i].SuspicionScore != cycles[j].SuspicionScore {
			return cycles[i].SuspicionScore > cycles[j].SuspicionScore
		}
		if cycles[i].TotalVolume != cycles[j].TotalVolume {
			return cycles[i].TotalVolume > cycles[j].TotalVolume
		}
		return lessStrings(cycles[i].Nodes, cycles[j].Nodes)
	})
}

func lessStrings(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
