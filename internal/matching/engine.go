package matching

import (
	"log/slog"
	"math"
	"sort"

	"github.com/aegisshield/network-intel/internal/config"
	"github.com/aegisshield/network-intel/internal/models"
	"github.com/aegisshield/network-intel/internal/standardization"
)

// Compared fields
const (
	FieldName         = "name"
	FieldAddress      = "address"
	FieldNPI          = "npi"
	FieldPhone        = "phone"
	FieldSpecialty    = "specialty"
	FieldFacilityType = "facility_type"
)

// Field weights sum to 1.0
const (
	WeightName         = 0.30
	WeightAddress      = 0.25
	WeightNPI          = 0.15
	WeightPhone        = 0.10
	WeightSpecialty    = 0.10
	WeightFacilityType = 0.10
)

const (
	addressTextWeight = 0.7
	addressZipWeight  = 0.3

	// MatchingFieldThreshold is the per-field score at which a field counts as matching
	MatchingFieldThreshold = 0.8
)

// Engine scores normalized entity pairs
type Engine struct {
	ratio  Ratio
	logger *slog.Logger
}

// NewEngine creates a new matching engine
func NewEngine(cfg config.AnalysisConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ratio:  RatioFor(cfg.FuzzyMetric),
		logger: logger,
	}
}

// NameSimilarity is the fuzzy ratio between two normalized names
func (e *Engine) NameSimilarity(a, b string) float64 {
	return e.ratio(a, b)
}

// Compare computes the weighted composite similarity of two normalized records.
// The result is symmetric in its arguments.
func (e *Engine) Compare(a, b standardization.NormalizedFields) models.SimilarityResult {
	scores := map[string]float64{
		FieldName:         e.ratio(a.Name, b.Name),
		FieldAddress:      addressTextWeight*e.ratio(a.Address, b.Address) + addressZipWeight*exact(a.Zip, b.Zip),
		FieldNPI:          exact(a.NationalID, b.NationalID),
		FieldPhone:        exact(a.Phone, b.Phone),
		FieldSpecialty:    exact(a.Specialty, b.Specialty),
		FieldFacilityType: exact(a.FacilityType, b.FacilityType),
	}

	weighted := WeightName*scores[FieldName] +
		WeightAddress*scores[FieldAddress] +
		WeightNPI*scores[FieldNPI] +
		WeightPhone*scores[FieldPhone] +
		WeightSpecialty*scores[FieldSpecialty] +
		WeightFacilityType*scores[FieldFacilityType]

	composite := math.Round(weighted*100*100) / 100
	composite = math.Max(0, math.Min(100, composite))

	matching := make([]string, 0, len(scores))
	for field, score := range scores {
		if score >= MatchingFieldThreshold {
			matching = append(matching, field)
		}
	}
	sort.Strings(matching)

	return models.SimilarityResult{
		PerFieldScores: scores,
		Composite:      composite,
		MatchingFields: matching,
	}
}

// exact compares normalized values; unknown never matches
func exact(a, b string) float64 {
	if a == "" || b == "" || a != b {
		return 0.0
	}
	return 1.0
}
