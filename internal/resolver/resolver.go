package resolver

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/matching"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/standardization"
	"golang.org/x/sync/errgroup"
)

// DuplicateResolver drives blocking and pairwise scoring
type DuplicateResolver struct {
	config  config.AnalysisConfig
	matcher *matching.Engine
	logger  *slog.Logger
}

// DuplicateResult holds ranked duplicate candidates
type DuplicateResult struct {
	Groups    []models.DuplicateGroup
	Compared  int
	Truncated bool
}

// NewDuplicateResolver creates a new duplicate resolver
func NewDuplicateResolver(cfg config.AnalysisConfig, matcher *matching.Engine, logger *slog.Logger) *DuplicateResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateResolver{
		config:  cfg,
		matcher: matcher,
		logger:  logger,
	}
}

// FindDuplicates scores every same-block pair once and keeps those at or above the
// similarity threshold. A cancelled context yields the pairs scored so far with
// Truncated set.
func (r *DuplicateResolver) FindDuplicates(ctx context.Context, entities []standardization.NormalizedEntity) *DuplicateResult {
	start := time.Now()
	index := NewBlockingIndex(entities)
	buckets := index.Buckets()
	minComposite := r.config.SimilarityThreshold * 100

	var (
		seen      sync.Map
		compared  atomic.Int64
		truncated atomic.Bool
	)
	perBucket := make([][]models.DuplicateGroup, len(buckets))

	workers := r.config.Workers
	if workers < 1 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)

	for bi, bucket := range buckets {
		bi, bucket := bi, bucket
		g.Go(func() error {
			var found []models.DuplicateGroup
			for x := 0; x < len(bucket); x++ {
				if ctx.Err() != nil {
					truncated.Store(true)
					break
				}
				for y := x + 1; y < len(bucket); y++ {
					a, b := entities[bucket[x]], entities[bucket[y]]
					if a.Record.ID == b.Record.ID {
						continue
					}
					if b.Record.ID < a.Record.ID {
						a, b = b, a
					}
					if _, loaded := seen.LoadOrStore(a.Record.ID+"\x00"+b.Record.ID, struct{}{}); loaded {
						continue
					}

					result := r.matcher.Compare(a.Fields, b.Fields)
					compared.Add(1)
					if result.Composite >= minComposite {
						found = append(found, models.DuplicateGroup{
							EntityA:        a.Record,
							EntityB:        b.Record,
							Composite:      result.Composite,
							MatchingFields: result.MatchingFields,
						})
					}
				}
			}
			perBucket[bi] = found
			return nil
		})
	}
	_ = g.Wait()

	var groups []models.DuplicateGroup
	for _, found := range perBucket {
		groups = append(groups, found...)
	}
	SortDuplicateGroups(groups)

	result := &DuplicateResult{
		Groups:    groups,
		Compared:  int(compared.Load()),
		Truncated: truncated.Load(),
	}

	r.logger.Info("Duplicate resolution completed",
		"entities", len(entities),
		"zip_blocks", index.Keys(),
		"estimated_pairs", index.EstimatedComparisons(),
		"compared", result.Compared,
		"duplicates", len(groups),
		"truncated", result.Truncated,
		"duration", time.Since(start))

	return result
}

// SortDuplicateGroups orders groups by composite descending, then by entity ids
func SortDuplicateGroups(groups []models.DuplicateGroup) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Composite != groups[j].Composite {
			return groups[i].Composite > groups[j].Composite
		}
		if groups[i].EntityA.ID != groups[j].EntityA.ID {
			return groups[i].EntityA.ID < groups[j].EntityA.ID
		}
		return groups[i].EntityB.ID < groups[j].EntityB.ID
	})
}
