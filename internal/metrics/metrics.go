package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	ResearchRunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_research_runs_started_total",
			Help: "Total number of research pipeline runs started",
		},
	)

	ResearchRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_research_runs_completed_total",
			Help: "Total number of research pipeline runs completed",
		},
		[]string{"status"},
	)

	ResearchRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "periscope_research_run_duration_seconds",
			Help:    "Research pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Decomposition metrics
	DecompositionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "periscope_decomposition_latency_seconds",
			Help:    "Query decomposition latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DecompositionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_decomposition_fallbacks_total",
			Help: "Total number of decompositions degraded to the single-question fallback",
		},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_search_requests_total",
			Help: "Total number of search provider requests",
		},
		[]string{"source_type", "status"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "periscope_search_latency_seconds",
			Help:    "Search provider request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source_type"},
	)

	SearchHitsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "periscope_search_hits_returned",
			Help:    "Number of hits returned per search request",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		},
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_duplicate_urls_dropped_total",
			Help: "Total number of search hits dropped by URL deduplication",
		},
	)

	// Validation metrics
	ValidationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_validation_calls_total",
			Help: "Total number of judge validation calls",
		},
		[]string{"outcome"}, // answered|unanswered|fallback
	)

	SourcesBelowFloor = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_sources_below_confidence_floor_total",
			Help: "Total number of candidate sources discarded below the confidence floor",
		},
	)

	// Retry / gap-fill metrics
	RetryRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_retry_rounds_total",
			Help: "Total number of retry rounds executed by the gap-fill controller",
		},
	)

	GapFillDocuments = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "periscope_gap_fill_documents_yield",
			Help:    "New documents produced per gap-fill round",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	GapFillDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_gap_fill_discarded_total",
			Help: "Total number of gap-fill rounds discarded for falling below the minimum yield",
		},
	)

	// Quality gate metrics
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_gate_decisions_total",
			Help: "Total number of quality gate decisions",
		},
		[]string{"decision", "path"}, // path: rules|judge|forced|empty
	)

	ForcedProceeds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_forced_proceeds_total",
			Help: "Total number of forced proceeds caused by budget exhaustion",
		},
		[]string{"reason"}, // iteration_ceiling|gap_fill_complete
	)

	JudgeFailOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_judge_fail_opens_total",
			Help: "Total number of judge calls that failed and defaulted to sufficient",
		},
	)

	// Synthesis metrics
	SynthesisFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_synthesis_fallbacks_total",
			Help: "Total number of syntheses degraded to mechanical concatenation",
		},
	)

	// Persistence metrics
	CorpusWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_corpus_writes_total",
			Help: "Total number of corpus store writes",
		},
		[]string{"kind", "status"},
	)
)

// RecordSearch records one provider call outcome.
func RecordSearch(sourceType, status string, durationSeconds float64, hits int) {
	SearchRequests.WithLabelValues(sourceType, status).Inc()
	if durationSeconds > 0 {
		SearchLatency.WithLabelValues(sourceType).Observe(durationSeconds)
	}
	if status == "ok" {
		SearchHitsReturned.Observe(float64(hits))
	}
}

// RecordGateDecision records one quality gate outcome.
func RecordGateDecision(decision, path string) {
	GateDecisions.WithLabelValues(decision, path).Inc()
}
