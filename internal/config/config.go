package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when a configuration value is out of range
var ErrInvalidConfig = errors.New("invalid configuration")

// Supported fuzzy metrics
const (
	FuzzyMetricLevenshtein = "levenshtein"
	FuzzyMetricIndel       = "indel"
)

// Supported community algorithms
const (
	CommunityAlgorithmLouvain    = "louvain"
	CommunityAlgorithmComponents = "components"
)

// Config holds the application configuration
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AnalysisConfig holds the tunables of one analysis run
type AnalysisConfig struct {
	SimilarityThreshold           float64           `mapstructure:"similarity_threshold"`
	FuzzyMetric                   string            `mapstructure:"fuzzy_metric"`
	MinCommunitySize              int               `mapstructure:"min_community_size"`
	MinCycleVolume                float64           `mapstructure:"min_cycle_volume"`
	MinSharedPatients             int               `mapstructure:"min_shared_patients"`
	ConcentrationOverlapThreshold float64           `mapstructure:"concentration_overlap_threshold"`
	ConcentrationMinOverlap       int               `mapstructure:"concentration_min_overlap"`
	PhoenixWindowDays             int               `mapstructure:"phoenix_window_days"`
	AddressClusterRadiusMiles     float64           `mapstructure:"address_cluster_radius_miles"`
	CommunityAlgorithm            string            `mapstructure:"community_algorithm"`
	LouvainResolution             float64           `mapstructure:"louvain_resolution"`
	LouvainSeed                   uint64            `mapstructure:"louvain_seed"`
	MaxCycles                     int               `mapstructure:"max_cycles"`
	MaxCycleLength                int               `mapstructure:"max_cycle_length"`
	CycleSearchBudget             int               `mapstructure:"cycle_search_budget"`
	MaxConcentrationPairs         int               `mapstructure:"max_concentration_pairs"`
	ConcentrationComparisonBudget int               `mapstructure:"concentration_comparison_budget"`
	StageTimeout                  time.Duration     `mapstructure:"stage_timeout"`
	TopN                          int               `mapstructure:"top_n"`
	Workers                       int               `mapstructure:"workers"`
	ReciprocityFromReferrals      bool              `mapstructure:"reciprocity_from_referrals"`
	MergeDuplicates               bool              `mapstructure:"merge_duplicates"`
	Regions                       map[string]string `mapstructure:"regions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// DefaultRegions maps ZIP3 prefixes to New York City boroughs
func DefaultRegions() map[string]string {
	return map[string]string{
		"100": "Manhattan",
		"101": "Manhattan",
		"102": "Manhattan",
		"103": "Staten Island",
		"104": "Bronx",
		"112": "Brooklyn",
		"110": "Queens",
		"111": "Queens",
		"113": "Queens",
		"114": "Queens",
		"116": "Queens",
	}
}

// DefaultAnalysisConfig returns the analysis defaults for library callers
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		SimilarityThreshold:           0.7,
		FuzzyMetric:                   FuzzyMetricLevenshtein,
		MinCommunitySize:              3,
		MinCycleVolume:                10,
		MinSharedPatients:             5,
		ConcentrationOverlapThreshold: 0.7,
		ConcentrationMinOverlap:       5,
		PhoenixWindowDays:             180,
		AddressClusterRadiusMiles:     0,
		CommunityAlgorithm:            CommunityAlgorithmLouvain,
		LouvainResolution:             1.0,
		LouvainSeed:                   1,
		MaxCycles:                     50,
		MaxCycleLength:                8,
		CycleSearchBudget:             100000,
		MaxConcentrationPairs:         100,
		ConcentrationComparisonBudget: 1000000,
		StageTimeout:                  30 * time.Second,
		TopN:                          10,
		Workers:                       4,
		ReciprocityFromReferrals:      false,
		MergeDuplicates:               false,
		Regions:                       DefaultRegions(),
	}
}

// Load loads configuration from an optional YAML file, environment variables and defaults.
// An empty path searches the working directory and /etc/netintel for config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/netintel")
	}

	setDefaults(v)

	v.SetEnvPrefix("NETINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultAnalysisConfig()

	// Analysis defaults
	v.SetDefault("analysis.similarity_threshold", d.SimilarityThreshold)
	v.SetDefault("analysis.fuzzy_metric", d.FuzzyMetric)
	v.SetDefault("analysis.min_community_size", d.MinCommunitySize)
	v.SetDefault("analysis.min_cycle_volume", d.MinCycleVolume)
	v.SetDefault("analysis.min_shared_patients", d.MinSharedPatients)
	v.SetDefault("analysis.concentration_overlap_threshold", d.ConcentrationOverlapThreshold)
	v.SetDefault("analysis.concentration_min_overlap", d.ConcentrationMinOverlap)
	v.SetDefault("analysis.phoenix_window_days", d.PhoenixWindowDays)
	v.SetDefault("analysis.address_cluster_radius_miles", d.AddressClusterRadiusMiles)
	v.SetDefault("analysis.community_algorithm", d.CommunityAlgorithm)
	v.SetDefault("analysis.louvain_resolution", d.LouvainResolution)
	v.SetDefault("analysis.louvain_seed", d.LouvainSeed)
	v.SetDefault("analysis.max_cycles", d.MaxCycles)
	v.SetDefault("analysis.max_cycle_length", d.MaxCycleLength)
	v.SetDefault("analysis.cycle_search_budget", d.CycleSearchBudget)
	v.SetDefault("analysis.max_concentration_pairs", d.MaxConcentrationPairs)
	v.SetDefault("analysis.concentration_comparison_budget", d.ConcentrationComparisonBudget)
	v.SetDefault("analysis.stage_timeout", d.StageTimeout.String())
	v.SetDefault("analysis.top_n", d.TopN)
	v.SetDefault("analysis.workers", d.Workers)
	v.SetDefault("analysis.reciprocity_from_referrals", d.ReciprocityFromReferrals)
	v.SetDefault("analysis.merge_duplicates", d.MergeDuplicates)
	v.SetDefault("analysis.regions", d.Regions)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.namespace", "netintel")
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: logging format must be json or text, got %q", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

// Validate checks that every analysis option is within range
func (c *AnalysisConfig) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be between 0 and 1", ErrInvalidConfig)
	}
	if c.ConcentrationOverlapThreshold < 0 || c.ConcentrationOverlapThreshold > 1 {
		return fmt.Errorf("%w: concentration_overlap_threshold must be between 0 and 1", ErrInvalidConfig)
	}
	if c.FuzzyMetric != FuzzyMetricLevenshtein && c.FuzzyMetric != FuzzyMetricIndel {
		return fmt.Errorf("%w: unknown fuzzy_metric %q", ErrInvalidConfig, c.FuzzyMetric)
	}
	if c.CommunityAlgorithm != CommunityAlgorithmLouvain && c.CommunityAlgorithm != CommunityAlgorithmComponents {
		return fmt.Errorf("%w: unknown community_algorithm %q", ErrInvalidConfig, c.CommunityAlgorithm)
	}
	if c.MinCommunitySize < 1 {
		return fmt.Errorf("%w: min_community_size must be positive", ErrInvalidConfig)
	}
	if c.MinCycleVolume < 0 {
		return fmt.Errorf("%w: min_cycle_volume must not be negative", ErrInvalidConfig)
	}
	if c.MinSharedPatients < 1 {
		return fmt.Errorf("%w: min_shared_patients must be positive", ErrInvalidConfig)
	}
	if c.ConcentrationMinOverlap < 1 {
		return fmt.Errorf("%w: concentration_min_overlap must be positive", ErrInvalidConfig)
	}
	if c.PhoenixWindowDays < 0 {
		return fmt.Errorf("%w: phoenix_window_days must not be negative", ErrInvalidConfig)
	}
	if c.AddressClusterRadiusMiles < 0 {
		return fmt.Errorf("%w: address_cluster_radius_miles must not be negative", ErrInvalidConfig)
	}
	if c.LouvainResolution <= 0 {
		return fmt.Errorf("%w: louvain_resolution must be positive", ErrInvalidConfig)
	}
	if c.MaxCycles < 1 || c.MaxCycleLength < 3 || c.CycleSearchBudget < 1 {
		return fmt.Errorf("%w: cycle limits must allow at least one cycle of length 3", ErrInvalidConfig)
	}
	if c.MaxConcentrationPairs < 1 || c.ConcentrationComparisonBudget < 1 {
		return fmt.Errorf("%w: concentration limits must be positive", ErrInvalidConfig)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("%w: stage_timeout must be positive", ErrInvalidConfig)
	}
	if c.TopN < 0 {
		return fmt.Errorf("%w: top_n must not be negative", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}
