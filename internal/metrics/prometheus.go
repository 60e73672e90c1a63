package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medivault_documents_processed_total",
			Help: "Total documents ingested",
		},
		[]string{"status"},
	)

	SummariesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medivault_summaries_generated_total",
			Help: "Total summaries generated by confidence level",
		},
		[]string{"confidence"},
	)

	SummaryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medivault_summary_duration_seconds",
			Help:    "Summary composition duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	EmergencyBriefDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medivault_emergency_brief_duration_seconds",
			Help:    "Emergency brief latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"cache"},
	)

	EmergencyBriefsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medivault_emergency_briefs_total",
			Help: "Total emergency briefs served",
		},
		[]string{"cache", "confidence"},
	)

	AuditFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medivault_audit_failures_total",
			Help: "Emergency access log writes that failed",
		},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medivault_search_duration_seconds",
			Help:    "Record search duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	SearchResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medivault_search_results_count",
			Help:    "Number of results per search",
			Buckets: []float64{0, 1, 2, 3, 5},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medivault_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medivault_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	GraphProjections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medivault_graph_projections_total",
			Help: "Clinical fact graph projections by outcome",
		},
		[]string{"status"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medivault_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	ExtractionAccuracy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medivault_extraction_accuracy",
			Help: "Extraction accuracy of the last evaluation run per field",
		},
		[]string{"field"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DocumentsProcessed,
			SummariesGenerated,
			SummaryDuration,
			EmergencyBriefDuration,
			EmergencyBriefsTotal,
			AuditFailuresTotal,
			SearchDuration,
			SearchResultsCount,
			CacheHits,
			CacheMisses,
			GraphProjections,
			BreakerState,
			ExtractionAccuracy,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
