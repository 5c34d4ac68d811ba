package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegisshield/network-intel/internal/analytics"
	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/matching"
	"github.com/aegisshield/network-intel/internal/metrics"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/network"
	"github.com/aegisshield/network-intel/internal/patterns"
	"github.com/aegisshield/network-intel/internal/resolver"
	"github.com/aegisshield/network-intel/internal/standardization"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Engine orchestrates one analysis run per call. It holds no per-run state, so a single
// Engine may serve concurrent calls.
type Engine struct {
	config       config.AnalysisConfig
	standardizer *standardization.Engine
	matcher      *matching.Engine
	resolver     *resolver.DuplicateResolver
	patterns     *patterns.Detector
	builder      *network.Builder
	analyzer     *analytics.Analyzer
	metrics      *metrics.Collector
	logger       *slog.Logger
}

// New creates a new analysis engine
func New(cfg config.AnalysisConfig, collector *metrics.Collector, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	matcher := matching.NewEngine(cfg, logger)

	return &Engine{
		config:       cfg,
		standardizer: standardization.NewEngine(logger),
		matcher:      matcher,
		resolver:     resolver.NewDuplicateResolver(cfg, matcher, logger),
		patterns:     patterns.NewDetector(cfg, matcher, logger),
		builder:      network.NewBuilder(cfg, logger),
		analyzer:     analytics.NewAnalyzer(cfg, collector, logger),
		metrics:      collector,
		logger:       logger,
	}, nil
}

// Analyze runs the full pipeline over an in-memory snapshot. Data problems never fail a
// run; an error is returned only when ctx is already done or a detector cannot start.
func (e *Engine) Analyze(ctx context.Context, snapshot *models.Snapshot) (report *models.AnalysisReport, err error) {
	if snapshot == nil {
		snapshot = &models.Snapshot{}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis cancelled before start: %w", err)
	}

	start := time.Now()
	reportID := uuid.New().String()
	defer func() {
		e.metrics.RecordAnalysis(len(snapshot.Entities), time.Since(start), err)
	}()

	e.logger.Info("Starting network analysis",
		"report_id", reportID,
		"entities", len(snapshot.Entities),
		"shared_links", len(snapshot.SharedBeneficiaries),
		"referrals", len(snapshot.Referrals))

	var entities []standardization.NormalizedEntity
	_ = e.metrics.TrackStage("normalize", func() error {
		entities = e.standardizer.NormalizeAll(snapshot.Entities)
		return nil
	})

	var (
		duplicates *resolver.DuplicateResult
		clusters   []patterns.Cluster
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.metrics.TrackStage("duplicates", func() error {
			duplicates = e.resolver.FindDuplicates(gctx, entities)
			return nil
		})
	})
	g.Go(func() error {
		return e.metrics.TrackStage("address_clusters", func() error {
			clusters = e.patterns.AddressClusters(entities)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		phoenix []models.PhoenixPair
		shells  []models.ShellLink
	)
	_ = e.metrics.TrackStage("co_location", func() error {
		phoenix = e.patterns.PhoenixPairs(clusters, patterns.ActivityIndex(snapshot.ActivityWindows))
		shells = e.patterns.ShellLinks(clusters)
		return nil
	})

	graphEntities, shared, referrals, beneficiaries := e.relationshipInputs(snapshot, entities, duplicates)

	var h *network.Handle
	_ = e.metrics.TrackStage("graph", func() error {
		h = e.builder.Build(graphEntities, shared, referrals)
		return nil
	})

	insights, err := e.analyzer.Analyze(ctx, h, network.BeneficiarySets(beneficiaries))
	if err != nil {
		return nil, fmt.Errorf("failed to analyze network: %w", err)
	}

	e.metrics.RecordPairsCompared(duplicates.Compared)
	e.metrics.RecordFindings("duplicates", len(duplicates.Groups))
	e.metrics.RecordFindings("address_clusters", len(clusters))
	e.metrics.RecordFindings("phoenix_pairs", len(phoenix))
	e.metrics.RecordFindings("shell_links", len(shells))
	if duplicates.Truncated {
		e.metrics.RecordTruncation("duplicates")
	}

	report = &models.AnalysisReport{
		ID:                  reportID,
		GeneratedAt:         time.Now().UTC(),
		EntityCount:         len(snapshot.Entities),
		DuplicateGroups:     nonNil(duplicates.Groups),
		DuplicatesTruncated: duplicates.Truncated,
		PairsCompared:       duplicates.Compared,
		AddressClusters:     patterns.ToModel(clusters),
		PhoenixPairs:        nonNil(phoenix),
		ShellLinks:          nonNil(shells),
		Network:             *insights,
		Duration:            time.Since(start),
	}

	e.logger.Info("Network analysis finished",
		"report_id", reportID,
		"duplicates", len(report.DuplicateGroups),
		"address_clusters", len(report.AddressClusters),
		"phoenix_pairs", len(report.PhoenixPairs),
		"shell_links", len(report.ShellLinks),
		"fraud_rings", len(report.Network.FraudRings),
		"duration", report.Duration)

	return report, nil
}

// relationshipInputs prepares graph inputs. Shared links are aggregated from beneficiary
// sets when none were supplied. With merge_duplicates, duplicate entities collapse onto
// their canonical id before the graph is built.
func (e *Engine) relationshipInputs(snapshot *models.Snapshot, entities []standardization.NormalizedEntity, duplicates *resolver.DuplicateResult) (
	[]standardization.NormalizedEntity, []models.SharedBeneficiaryLink, []models.ReferralLink, map[string][]string,
) {
	shared := snapshot.SharedBeneficiaries
	referrals := snapshot.Referrals
	beneficiaries := snapshot.Beneficiaries

	if e.config.MergeDuplicates && len(duplicates.Groups) > 0 {
		mergeMap := resolver.MergeMap(duplicates.Groups)
		canonical := func(id string) string { return resolver.Canonical(mergeMap, id) }

		kept := make([]standardization.NormalizedEntity, 0, len(entities))
		for _, entity := range entities {
			if canonical(entity.Record.ID) == entity.Record.ID {
				kept = append(kept, entity)
			}
		}
		entities = kept

		remappedShared := make([]models.SharedBeneficiaryLink, len(shared))
		for i, link := range shared {
			remappedShared[i] = models.SharedBeneficiaryLink{
				EntityA:     canonical(link.EntityA),
				EntityB:     canonical(link.EntityB),
				SharedCount: link.SharedCount,
			}
		}
		shared = remappedShared

		remappedReferrals := make([]models.ReferralLink, len(referrals))
		for i, link := range referrals {
			remappedReferrals[i] = models.ReferralLink{
				Source: canonical(link.Source),
				Target: canonical(link.Target),
				Volume: link.Volume,
			}
		}
		referrals = remappedReferrals

		if len(beneficiaries) > 0 {
			merged := make(map[string][]string, len(beneficiaries))
			for id, members := range beneficiaries {
				c := canonical(id)
				merged[c] = append(merged[c], members...)
			}
			beneficiaries = merged
		}

		e.logger.Info("Merged duplicate entities before graph build",
			"merged", len(mergeMap),
			"remaining", len(entities))
	}

	if len(shared) == 0 && len(beneficiaries) > 0 {
		shared = network.AggregateSharedBeneficiaries(beneficiaries, e.config.MinSharedPatients)
	}

	return entities, shared, referrals, beneficiaries
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
