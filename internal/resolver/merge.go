package resolver

import (
	"github.com/aegisshield/network-intel/internal/models"
)

// MergeMap collapses duplicate groups transitively. Every id that appears in a group
// maps to the smallest id of its connected set.
func MergeMap(groups []models.DuplicateGroup) map[string]string {
	parent := make(map[string]string)

	var find func(string) string
	find = func(id string) string {
		p, ok := parent[id]
		if !ok {
			parent[id] = id
			return id
		}
		if p == id {
			return id
		}
		root := find(p)
		parent[id] = root
		return root
	}

	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for _, group := range groups {
		union(group.EntityA.ID, group.EntityB.ID)
	}

	canonical := make(map[string]string, len(parent))
	for id := range parent {
		canonical[id] = find(id)
	}
	return canonical
}

// Canonical returns the merged id for id, or id itself when it was not merged
func Canonical(mergeMap map[string]string, id string) string {
	if c, ok := mergeMap[id]; ok {
		return c
	}
	return id
}
