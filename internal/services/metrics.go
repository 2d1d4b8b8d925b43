package services

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for serving, training and the
// catalog. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	productCount      *prometheus.HistogramVec
	categoryDiversity *prometheus.HistogramVec
	entropy           *prometheus.HistogramVec
	coldStarts        *prometheus.CounterVec
	repetition        *prometheus.GaugeVec
	coverage          *prometheus.GaugeVec

	trainingCycles      *prometheus.CounterVec
	trainingDuration    prometheus.Histogram
	persistenceFailures *prometheus.CounterVec
	liveProducts        prometheus.Gauge

	catalogActive   prometheus.Gauge
	catalogFallback prometheus.Gauge

	breakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_requests_total",
			Help: "Recommendation requests by strategy and outcome",
		}, []string{"strategy", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recommendation_latency_seconds",
			Help:    "Time spent ranking a recommendation request",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"strategy"}),
		productCount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recommendation_product_count",
			Help:    "Number of products returned per recommendation",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		}, []string{"strategy"}),
		categoryDiversity: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recommendation_category_diversity",
			Help:    "Distinct categories per recommendation",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}, []string{"strategy"}),
		entropy: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recommendation_entropy",
			Help:    "Shannon entropy of the category distribution per recommendation",
			Buckets: []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 4},
		}, []string{"strategy"}),
		coldStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_cold_start_total",
			Help: "Recommendations served without any similarity signal",
		}, []string{"strategy"}),
		repetition: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recommendation_repetition_ratio",
			Help: "Share of products repeated from the user's previous recommendation",
		}, []string{"strategy"}),
		coverage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recommendation_catalog_coverage_ratio",
			Help: "Share of the active catalog ever recommended",
		}, []string{"strategy"}),

		trainingCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_training_cycles_total",
			Help: "Training cycles by outcome",
		}, []string{"outcome"}),
		trainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_training_duration_seconds",
			Help:    "Duration of a full training cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		persistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_persistence_failures_total",
			Help: "Failed writes of a published model by storage target",
		}, []string{"target"}),
		liveProducts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_live_products",
			Help: "Products covered by the live similarity model",
		}),

		catalogActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_active_products",
			Help: "Active products in the current catalog snapshot",
		}),
		catalogFallback: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_fallback_active",
			Help: "1 when the built-in sample catalog is being served",
		}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "source_circuit_breaker_state",
			Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveRecommendation(strategy string, productIDs []int64, categories []string, coldStart bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strategy, "success").Inc()
	m.latency.WithLabelValues(strategy).Observe(elapsed.Seconds())
	m.productCount.WithLabelValues(strategy).Observe(float64(len(productIDs)))

	distinct, entropy := categoryStats(categories)
	m.categoryDiversity.WithLabelValues(strategy).Observe(float64(distinct))
	m.entropy.WithLabelValues(strategy).Observe(entropy)

	if coldStart {
		m.coldStarts.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) RecordRecommendationFailure(strategy string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strategy, "error").Inc()
}

func (m *Metrics) SetRepetition(strategy string, ratio float64) {
	if m == nil {
		return
	}
	m.repetition.WithLabelValues(strategy).Set(ratio)
}

func (m *Metrics) SetCoverage(strategy string, ratio float64) {
	if m == nil {
		return
	}
	m.coverage.WithLabelValues(strategy).Set(ratio)
}

func (m *Metrics) RecordTrainingCycle(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.trainingCycles.WithLabelValues(outcome).Inc()
	m.trainingDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordPersistenceFailure(target string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(target).Inc()
}

func (m *Metrics) SetLiveProducts(n int) {
	if m == nil {
		return
	}
	m.liveProducts.Set(float64(n))
}

func (m *Metrics) SetCatalog(active int, fallback bool) {
	if m == nil {
		return
	}
	m.catalogActive.Set(float64(active))
	if fallback {
		m.catalogFallback.Set(1)
	} else {
		m.catalogFallback.Set(0)
	}
}

func (m *Metrics) SetBreakerState(source string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(source).Set(state)
}

// categoryStats returns the number of distinct categories and the Shannon
// entropy (base 2) of their distribution.
func categoryStats(categories []string) (int, float64) {
	if len(categories) == 0 {
		return 0, 0
	}
	counts := make(map[string]int)
	for _, c := range categories {
		counts[c]++
	}

	total := float64(len(categories))
	var entropy float64
	for _, n := range counts {
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}
	return len(counts), entropy
}
