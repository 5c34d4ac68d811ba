package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aegisshield/network-intel/internal/network"
	ygraph "github.com/yourbasic/graph"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
)

// Strategy names
const (
	StrategyLouvain    = "louvain"
	StrategyComponents = "connected_components"
)

// ErrEmptyPartition is returned by a strategy that produced no communities for a non-empty graph
var ErrEmptyPartition = errors.New("community detection produced no communities")

// Partition is a division of the undirected graph's nodes. Members are ascending node ids;
// communities are ordered by size descending, then by first member.
type Partition struct {
	Algorithm   string
	Communities [][]int64
	Modularity  float64
}

// CommunityStrategy partitions the shared-beneficiary graph
type CommunityStrategy interface {
	Name() string
	Partition(ctx context.Context, h *network.Handle) (Partition, error)
}

// ModularityPartition maximizes modularity with the Louvain method. A fixed seed makes
// the partition reproducible.
type ModularityPartition struct {
	Resolution float64
	Seed       uint64
}

// Name returns the strategy name
func (m ModularityPartition) Name() string {
	return StrategyLouvain
}

// Partition runs Louvain over the undirected graph. Graphs without edges are split into
// singletons, which is what connected components yields.
func (m ModularityPartition) Partition(ctx context.Context, h *network.Handle) (Partition, error) {
	if h.NodeCount() == 0 {
		return Partition{Algorithm: m.Name()}, nil
	}
	if h.EdgeCount() == 0 {
		partition, err := ConnectedComponentsPartition{}.Partition(ctx, h)
		partition.Algorithm = m.Name()
		return partition, err
	}
	if err := ctx.Err(); err != nil {
		return Partition{}, fmt.Errorf("failed to start modularity partition: %w", err)
	}

	resolution := m.Resolution
	if resolution <= 0 {
		resolution = 1
	}

	reduced := community.Modularize(h.Undirected(), resolution, rand.NewSource(m.Seed))

	var communities [][]int64
	for _, members := range reduced.Communities() {
		ids := make([]int64, 0, len(members))
		for _, n := range members {
			ids = append(ids, n.ID())
		}
		if len(ids) > 0 {
			communities = append(communities, ids)
		}
	}
	if len(communities) == 0 {
		return Partition{}, ErrEmptyPartition
	}

	communities = canonicalize(communities)
	return Partition{
		Algorithm:   m.Name(),
		Communities: communities,
		Modularity:  modularity(h, communities, resolution),
	}, nil
}

// ConnectedComponentsPartition makes every connected component one community
type ConnectedComponentsPartition struct{}

// Name returns the strategy name
func (ConnectedComponentsPartition) Name() string {
	return StrategyComponents
}

// Partition returns the connected components of the undirected graph
func (c ConnectedComponentsPartition) Partition(_ context.Context, h *network.Handle) (Partition, error) {
	nodes := h.Nodes()
	if len(nodes) == 0 {
		return Partition{Algorithm: c.Name()}, nil
	}

	position := make(map[int64]int, len(nodes))
	for i, n := range nodes {
		position[n] = i
	}

	g := ygraph.New(len(nodes))
	for i, n := range nodes {
		for _, m := range h.Neighbors(n) {
			if m > n {
				g.AddBoth(i, position[m])
			}
		}
	}

	var communities [][]int64
	for _, component := range ygraph.Components(g) {
		ids := make([]int64, len(component))
		for i, p := range component {
			ids[i] = nodes[p]
		}
		communities = append(communities, ids)
	}

	communities = canonicalize(communities)
	return Partition{
		Algorithm:   c.Name(),
		Communities: communities,
		Modularity:  modularity(h, communities, 1),
	}, nil
}

// FallbackPartition runs Primary and, if it fails or panics, Fallback
type FallbackPartition struct {
	Primary    CommunityStrategy
	Fallback   CommunityStrategy
	Logger     *slog.Logger
	OnFallback func()
}

// Name returns the primary strategy name
func (f FallbackPartition) Name() string {
	return f.Primary.Name()
}

// Partition never surfaces the primary's failure; it is logged as a warning
func (f FallbackPartition) Partition(ctx context.Context, h *network.Handle) (Partition, error) {
	partition, err := f.tryPrimary(ctx, h)
	if err == nil {
		return partition, nil
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("Community detection failed, falling back",
		"strategy", f.Primary.Name(),
		"fallback", f.Fallback.Name(),
		"error", err)
	if f.OnFallback != nil {
		f.OnFallback()
	}

	return f.Fallback.Partition(ctx, h)
}

func (f FallbackPartition) tryPrimary(ctx context.Context, h *network.Handle) (partition Partition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("community strategy %s panicked: %v", f.Primary.Name(), r)
		}
	}()
	return f.Primary.Partition(ctx, h)
}

// canonicalize sorts members and orders communities deterministically
func canonicalize(communities [][]int64) [][]int64 {
	for _, members := range communities {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	}
	sort.Slice(communities, func(i, j int) bool {
		if len(communities[i]) != len(communities[j]) {
			return len(communities[i]) > len(communities[j])
		}
		return communities[i][0] < communities[j][0]
	})
	return communities
}

func modularity(h *network.Handle, communities [][]int64, resolution float64) float64 {
	if h.EdgeCount() == 0 || len(communities) == 0 {
		return 0
	}

	g := h.Undirected()
	nodes := make([][]graph.Node, len(communities))
	for i, members := range communities {
		nodes[i] = make([]graph.Node, len(members))
		for j, id := range members {
			nodes[i][j] = g.Node(id)
		}
	}
	return community.Q(g, nodes, resolution)
}
