package resolver

import (
	"github.com/aegisshield/network-intel/internal/standardization"
	"github.com/armon/go-radix"
)

// BlockingIndex partitions entities by ZIP5 so that only same-block pairs are scored.
// Entities without a ZIP join every block.
type BlockingIndex struct {
	tree    *radix.Tree
	unkeyed []int
}

// NewBlockingIndex indexes entity positions by their normalized ZIP
func NewBlockingIndex(entities []standardization.NormalizedEntity) *BlockingIndex {
	index := &BlockingIndex{tree: radix.New()}

	for i, entity := range entities {
		key := entity.Fields.Zip
		if key == "" {
			index.unkeyed = append(index.unkeyed, i)
			continue
		}

		var bucket []int
		if existing, ok := index.tree.Get(key); ok {
			bucket = existing.([]int)
		}
		index.tree.Insert(key, append(bucket, i))
	}

	return index
}

// Buckets returns the blocks in ZIP order. Each block lists entity positions in input
// order, with ZIP-less entities appended. If no ZIP is known at all, the ZIP-less
// entities form a single block.
func (b *BlockingIndex) Buckets() [][]int {
	buckets := make([][]int, 0, b.tree.Len()+1)

	b.tree.Walk(func(_ string, value interface{}) bool {
		keyed := value.([]int)
		bucket := make([]int, 0, len(keyed)+len(b.unkeyed))
		bucket = append(bucket, keyed...)
		bucket = append(bucket, b.unkeyed...)
		buckets = append(buckets, bucket)
		return false
	})

	if len(buckets) == 0 && len(b.unkeyed) > 0 {
		buckets = append(buckets, append([]int(nil), b.unkeyed...))
	}

	return buckets
}

// Keys returns the number of distinct ZIP keys
func (b *BlockingIndex) Keys() int {
	return b.tree.Len()
}

// EstimatedComparisons is the Σ b² / 2 upper bound on pairs the buckets generate
func (b *BlockingIndex) EstimatedComparisons() int {
	total := 0
	for _, bucket := range b.Buckets() {
		n := len(bucket)
		total += n * (n - 1) / 2
	}
	return total
}
