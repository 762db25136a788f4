// Package monitor exposes explorer activity as Prometheus collectors and
// tracks the health of the persistent cache.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ridership"

// Metrics collects cache, load and forecast activity.
// It implements cache.Observer.
type Metrics struct {
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheCompute *prometheus.HistogramVec
	rowsLoaded   *prometheus.CounterVec
	forecastFits *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups answered without computing.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that required a computation.",
		}, []string{"cache"}),
		cacheCompute: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "compute_seconds",
			Help:      "Time spent computing missing cache entries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"cache", "outcome"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "rows_total",
			Help:      "Rows read from sources, by outcome.",
		}, []string{"outcome"}),
		forecastFits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "fit_seconds",
			Help:      "Time spent fitting forecast models.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.cacheHits, m.cacheMisses, m.cacheCompute, m.rowsLoaded, m.forecastFits)
	return m
}

func (m *Metrics) CacheHit(name string) {
	m.cacheHits.WithLabelValues(name).Inc()
}

func (m *Metrics) CacheMiss(name string) {
	m.cacheMisses.WithLabelValues(name).Inc()
}

func (m *Metrics) CacheCompute(name string, elapsed time.Duration, err error) {
	m.cacheCompute.WithLabelValues(name, outcome(err)).Observe(elapsed.Seconds())
}

// RowsLoaded counts kept and dropped rows of one load.
func (m *Metrics) RowsLoaded(kept, dropped int) {
	m.rowsLoaded.WithLabelValues("kept").Add(float64(kept))
	m.rowsLoaded.WithLabelValues("dropped").Add(float64(dropped))
}

// ForecastFit records one model fit.
func (m *Metrics) ForecastFit(elapsed time.Duration, err error) {
	m.forecastFits.WithLabelValues(outcome(err)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
