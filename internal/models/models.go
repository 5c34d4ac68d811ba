package models

import (
	"time"
)

// EntityRecord is a provider/biller snapshot supplied by the caller. The engine never mutates it.
type EntityRecord struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	City             string   `json:"city,omitempty"`
	State            string   `json:"state,omitempty"`
	Zip              string   `json:"zip"`
	Phone            string   `json:"phone,omitempty"`
	NationalID       string   `json:"national_id,omitempty"`
	Specialty        string   `json:"specialty,omitempty"`
	FacilityType     string   `json:"facility_type,omitempty"`
	LicensedCapacity int      `json:"licensed_capacity,omitempty"`
	RiskScore        float64  `json:"risk_score,omitempty"`
	ClaimVolume      float64  `json:"claim_volume,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present
func (e EntityRecord) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// SharedBeneficiaryLink is a precomputed entity-pair aggregate of distinct shared beneficiaries
type SharedBeneficiaryLink struct {
	EntityA     string `json:"entity_a"`
	EntityB     string `json:"entity_b"`
	SharedCount int    `json:"shared_count"`
}

// ReferralLink is a directed referral-volume aggregate
type ReferralLink struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Volume float64 `json:"volume"`
}

// ActivityWindow bounds an entity's observed billing activity
type ActivityWindow struct {
	EntityID      string    `json:"entity_id"`
	FirstActivity time.Time `json:"first_activity"`
	LastActivity  time.Time `json:"last_activity"`
}

// Snapshot is the complete in-memory input for one analysis run
type Snapshot struct {
	Entities            []EntityRecord          `json:"entities"`
	SharedBeneficiaries []SharedBeneficiaryLink `json:"shared_beneficiaries,omitempty"`
	Referrals           []ReferralLink          `json:"referrals,omitempty"`
	ActivityWindows     []ActivityWindow        `json:"activity_windows,omitempty"`
	Beneficiaries       map[string][]string     `json:"beneficiaries,omitempty"`
}

// RiskLevel represents the severity bucket attached to a finding
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// SimilarityResult is the pairwise comparison of two normalized records
type SimilarityResult struct {
	PerFieldScores map[string]float64 `json:"per_field_scores"`
	Composite      float64            `json:"composite"`
	MatchingFields []string           `json:"matching_fields"`
}

// DuplicateGroup is a candidate duplicate pair above the similarity threshold
type DuplicateGroup struct {
	EntityA        EntityRecord `json:"entity_a"`
	EntityB        EntityRecord `json:"entity_b"`
	Composite      float64      `json:"composite"`
	MatchingFields []string     `json:"matching_fields"`
}

// AddressCluster groups entities sharing a normalized address
type AddressCluster struct {
	AddressKey string         `json:"address_key"`
	Members    []EntityRecord `json:"members"`
	Count      int            `json:"count"`
}

// PhoenixPair is a same-address successor appearing shortly after a predecessor stopped billing
type PhoenixPair struct {
	AddressKey     string       `json:"address_key"`
	Predecessor    EntityRecord `json:"predecessor"`
	Successor      EntityRecord `json:"successor"`
	PredecessorEnd time.Time    `json:"predecessor_last_activity"`
	SuccessorStart time.Time    `json:"successor_first_activity"`
	GapDays        int          `json:"gap_days"`
	NameSimilarity float64      `json:"name_similarity"`
	RiskLevel      RiskLevel    `json:"risk_level"`
}

// ShellLink is a co-located pair sharing at least one attribute beyond the address
type ShellLink struct {
	AddressKey       string       `json:"address_key"`
	EntityA          EntityRecord `json:"entity_a"`
	EntityB          EntityRecord `json:"entity_b"`
	SharedAttributes []string     `json:"shared_attributes"`
	NameSimilarity   float64      `json:"name_similarity"`
}

// Community is one block of a partition of the undirected graph
type Community struct {
	ID      int      `json:"id"`
	Members []string `json:"members"`
}

// Ring sub-pattern labels
const (
	RingPatternNearComplete   = "near_complete_graph"
	RingPatternStarHub        = "star_topology_hub"
	RingPatternHighClustering = "high_clustering"
)

// FraudRing is a scored dense community
type FraudRing struct {
	CommunityID       int       `json:"community_id"`
	Members           []string  `json:"members"`
	Size              int       `json:"size"`
	Edges             int       `json:"edges"`
	Density           float64   `json:"density"`
	MeanRisk          float64   `json:"mean_risk"`
	MaxRisk           float64   `json:"max_risk"`
	Reciprocity       float64   `json:"reciprocity"`
	Triangles         int       `json:"triangles"`
	AverageClustering float64   `json:"average_clustering"`
	TotalClaimVolume  float64   `json:"total_claim_volume"`
	FraudScore        float64   `json:"fraud_score"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Patterns          []string  `json:"patterns,omitempty"`
	Hub               string    `json:"hub,omitempty"`
}

// Kickback types
const (
	KickbackCircularReferral = "circular_referral"
	KickbackDirect           = "direct_kickback"
)

// KickbackCycle is a closed referral loop. Nodes[i] -> Nodes[(i+1)%len] is always a real edge.
type KickbackCycle struct {
	Type           string   `json:"type"`
	Nodes          []string `json:"nodes"`
	Length         int      `json:"length"`
	TotalVolume    float64  `json:"total_volume"`
	MeanRisk       float64  `json:"mean_risk"`
	SuspicionScore float64  `json:"suspicion_score"`
}

// ConcentrationPair is an entity pair with a disproportionate shared beneficiary population
type ConcentrationPair struct {
	EntityA             string  `json:"entity_a"`
	EntityB             string  `json:"entity_b"`
	SharedBeneficiaries int     `json:"shared_beneficiaries"`
	BeneficiariesA      int     `json:"beneficiaries_a"`
	BeneficiariesB      int     `json:"beneficiaries_b"`
	OverlapRatio        float64 `json:"overlap_ratio"`
	SuspicionScore      float64 `json:"suspicion_score"`
}

// CentralityScore ranks a node by one centrality measure
type CentralityScore struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// AddressSharingCluster is a set of graph nodes located at the same normalized address
type AddressSharingCluster struct {
	AddressKey string   `json:"address_key"`
	NodeIDs    []string `json:"node_ids"`
}

// CrossRegionCluster is a community whose members span more than one region
type CrossRegionCluster struct {
	CommunityID int      `json:"community_id"`
	Regions     []string `json:"regions"`
	Members     []string `json:"members"`
}

// NetworkInsights is the aggregated graph-level report
type NetworkInsights struct {
	TotalNodes             int                     `json:"total_nodes"`
	TotalEdges             int                     `json:"total_edges"`
	ReferralEdges          int                     `json:"referral_edges"`
	Density                float64                 `json:"density"`
	CommunityCount         int                     `json:"community_count"`
	CommunityAlgorithm     string                  `json:"community_algorithm"`
	Modularity             float64                 `json:"modularity"`
	AverageClustering      float64                 `json:"average_clustering"`
	TopDegree              []CentralityScore       `json:"top_degree"`
	TopBetweenness         []CentralityScore       `json:"top_betweenness"`
	FraudRings             []FraudRing             `json:"fraud_rings"`
	KickbackCycles         []KickbackCycle         `json:"kickback_cycles"`
	DirectKickbacks        []KickbackCycle         `json:"direct_kickbacks"`
	ConcentrationPairs     []ConcentrationPair     `json:"concentration_pairs"`
	AddressSharing         []AddressSharingCluster `json:"address_sharing"`
	CrossRegionClusters    []CrossRegionCluster    `json:"cross_region_clusters"`
	CyclesTruncated        bool                    `json:"cycles_truncated"`
	ConcentrationTruncated bool                    `json:"concentration_truncated"`
}

// AnalysisReport is the full output of one engine invocation
type AnalysisReport struct {
	ID                  string           `json:"id"`
	GeneratedAt         time.Time        `json:"generated_at"`
	EntityCount         int              `json:"entity_count"`
	DuplicateGroups     []DuplicateGroup `json:"duplicate_groups"`
	DuplicatesTruncated bool             `json:"duplicates_truncated"`
	PairsCompared       int              `json:"pairs_compared"`
	AddressClusters     []AddressCluster `json:"address_clusters"`
	PhoenixPairs        []PhoenixPair    `json:"phoenix_pairs"`
	ShellLinks          []ShellLink      `json:"shell_links"`
	Network             NetworkInsights  `json:"network"`
	Duration            time.Duration    `json:"duration"`
}
