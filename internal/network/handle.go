package network

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// NodeAttributes represents the entity data carried by a graph node
type NodeAttributes struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Address     string  `json:"address"`
	AddressKey  string  `json:"address_key"`
	Region      string  `json:"region"`
	RiskScore   float64 `json:"risk_score"`
	ClaimVolume float64 `json:"claim_volume"`
	Capacity    int     `json:"capacity"`
}

// Handle is the read-only relationship graph of one analysis run. Node ids are dense
// int64 positions over the sorted entity ids.
type Handle struct {
	ids        []string
	index      map[string]int64
	attributes []NodeAttributes

	undirected *simple.WeightedUndirectedGraph
	directed   *simple.WeightedDirectedGraph

	edgeCount     int
	referralCount int
}

// Undirected exposes the shared-beneficiary graph to graph algorithms
func (h *Handle) Undirected() graph.WeightedUndirected {
	return h.undirected
}

// Directed exposes the referral graph to graph algorithms
func (h *Handle) Directed() graph.WeightedDirected {
	return h.directed
}

// NodeCount is the number of nodes in the undirected graph
func (h *Handle) NodeCount() int {
	return h.undirected.Nodes().Len()
}

// EdgeCount is the number of undirected edges
func (h *Handle) EdgeCount() int {
	return h.edgeCount
}

// ReferralEdgeCount is the number of directed referral edges
func (h *Handle) ReferralEdgeCount() int {
	return h.referralCount
}

// Nodes returns the undirected graph's node ids in ascending order
func (h *Handle) Nodes() []int64 {
	return sortedIDs(h.undirected.Nodes())
}

// ReferralNodes returns the directed graph's node ids in ascending order
func (h *Handle) ReferralNodes() []int64 {
	return sortedIDs(h.directed.Nodes())
}

// ID returns the entity id of a node
func (h *Handle) ID(n int64) string {
	return h.ids[n]
}

// Lookup returns the node for an entity id
func (h *Handle) Lookup(id string) (int64, bool) {
	n, ok := h.index[id]
	return n, ok
}

// Attributes returns the node's entity attributes
func (h *Handle) Attributes(n int64) NodeAttributes {
	return h.attributes[n]
}

// Neighbors returns the undirected neighbors of n in ascending order
func (h *Handle) Neighbors(n int64) []int64 {
	if h.undirected.Node(n) == nil {
		return nil
	}
	return sortedIDs(h.undirected.From(n))
}

// Degree is the undirected degree of n
func (h *Handle) Degree(n int64) int {
	if h.undirected.Node(n) == nil {
		return 0
	}
	return h.undirected.From(n).Len()
}

// HasEdge reports whether a and b share beneficiaries above the threshold
func (h *Handle) HasEdge(a, b int64) bool {
	return h.undirected.HasEdgeBetween(a, b)
}

// SharedCount returns the undirected edge weight between a and b, or 0
func (h *Handle) SharedCount(a, b int64) float64 {
	e := h.undirected.WeightedEdge(a, b)
	if e == nil {
		return 0
	}
	return e.Weight()
}

// Successors returns the referral targets of n in ascending order
func (h *Handle) Successors(n int64) []int64 {
	if h.directed.Node(n) == nil {
		return nil
	}
	return sortedIDs(h.directed.From(n))
}

// HasReferral reports whether a refers to b
func (h *Handle) HasReferral(a, b int64) bool {
	return h.directed.HasEdgeFromTo(a, b)
}

// ReferralVolume returns the referral volume from a to b, or 0
func (h *Handle) ReferralVolume(a, b int64) float64 {
	e := h.directed.WeightedEdge(a, b)
	if e == nil {
		return 0
	}
	return e.Weight()
}

func sortedIDs(it graph.Nodes) []int64 {
	ids := make([]int64, 0, it.Len())
	for it.Next() {
		ids = append(ids, it.Node().ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
