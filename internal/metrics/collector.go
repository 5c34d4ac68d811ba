package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector contains all metrics for the network intelligence engine.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Run metrics
	AnalysesTotal    prometheus.Counter
	AnalysesFailed   prometheus.Counter
	AnalysisDuration prometheus.Histogram
	EntitiesAnalyzed prometheus.Histogram

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	Truncations   *prometheus.CounterVec

	// Detector metrics
	PairsCompared      prometheus.Counter
	Findings           *prometheus.CounterVec
	CommunityFallbacks prometheus.Counter
}

// NewCollector creates a new metrics collector registered with reg.
// A nil registerer leaves the collectors unregistered.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		AnalysesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "The total number of analysis runs started",
		}),
		AnalysesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_failed_total",
			Help:      "The total number of analysis runs that returned an error",
		}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time taken by a complete analysis run",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		EntitiesAnalyzed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entities_analyzed",
			Help:      "Size of the entity population per run",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time taken by each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"stage"}),
		Truncations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_truncations_total",
			Help:      "The total number of stages that stopped on a budget or deadline",
		}, []string{"stage"}),
		PairsCompared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_compared_total",
			Help:      "The total number of entity pairs scored by the duplicate resolver",
		}),
		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "The total number of findings emitted per detector",
		}, []string{"detector"}),
		CommunityFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "community_fallbacks_total",
			Help:      "The total number of times community detection fell back to connected components",
		}),
	}
}

// RecordAnalysis records a finished analysis run
func (c *Collector) RecordAnalysis(entities int, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.AnalysesTotal.Inc()
	c.EntitiesAnalyzed.Observe(float64(entities))
	c.AnalysisDuration.Observe(duration.Seconds())
	if err != nil {
		c.AnalysesFailed.Inc()
	}
}

// RecordStage records the duration of a pipeline stage
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordTruncation records a stage that returned a partial result
func (c *Collector) RecordTruncation(stage string) {
	if c == nil {
		return
	}
	c.Truncations.WithLabelValues(stage).Inc()
}

// RecordPairsCompared adds scored pairs to the running total
func (c *Collector) RecordPairsCompared(n int) {
	if c == nil {
		return
	}
	c.PairsCompared.Add(float64(n))
}

// RecordFindings records the number of findings a detector emitted
func (c *Collector) RecordFindings(detector string, n int) {
	if c == nil {
		return
	}
	c.Findings.WithLabelValues(detector).Add(float64(n))
}

// RecordCommunityFallback records a community strategy fallback
func (c *Collector) RecordCommunityFallback() {
	if c == nil {
		return
	}
	c.CommunityFallbacks.Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// TrackStage runs operation and records its duration under stage
func (c *Collector) TrackStage(stage string, operation func() error) error {
	timer := NewTimer()
	err := operation()
	c.RecordStage(stage, timer.Duration())
	return err
}
