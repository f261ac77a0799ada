// Package metrics registers Prometheus instruments for the index service and
// serves them via promhttp.
package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the index service.
type Metrics struct {
	FetchesTotal     prometheus.Counter
	FetchErrorsTotal prometheus.Counter
	CandlesInserted  prometheus.Counter
	IndexRowsWritten prometheus.Counter
	CollectDuration  prometheus.Histogram
	BackfillDuration prometheus.Histogram
	RateLimitLatched prometheus.Gauge
	BackfillRunning  prometheus.Gauge
	BasePricesKnown  prometheus.Gauge

	// Redis publisher circuit breaker: 0=closed, 1=open, 2=half-open
	PublisherBreakerState prometheus.Gauge
	PublisherErrors       prometheus.Counter
}

// New registers and returns all metrics.
func New() *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altindex_exchange_fetches_total",
			Help: "Total exchange market-data requests issued",
		}),
		FetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altindex_exchange_fetch_errors_total",
			Help: "Total failed exchange requests",
		}),
		CandlesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altindex_candles_inserted_total",
			Help: "Candle rows inserted (duplicates excluded)",
		}),
		IndexRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altindex_index_rows_total",
			Help: "Index rows committed",
		}),
		CollectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "altindex_collect_duration_seconds",
			Help:    "Wall time of one live collection tick",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BackfillDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "altindex_backfill_duration_seconds",
			Help:    "Wall time of one backfill run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RateLimitLatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "altindex_rate_limit_latched",
			Help: "1 when the exchange rate-limit tripwire is latched",
		}),
		BackfillRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "altindex_backfill_running",
			Help: "1 while a backfill run is in progress",
		}),
		BasePricesKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "altindex_base_prices_known",
			Help: "Symbols currently holding a base price",
		}),
		PublisherBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "altindex_publisher_breaker_state",
			Help: "Redis publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		PublisherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "altindex_publisher_errors_total",
			Help: "Failed Redis publishes",
		}),
	}

	prometheus.MustRegister(
		m.FetchesTotal,
		m.FetchErrorsTotal,
		m.CandlesInserted,
		m.IndexRowsWritten,
		m.CollectDuration,
		m.BackfillDuration,
		m.RateLimitLatched,
		m.BackfillRunning,
		m.BasePricesKnown,
		m.PublisherBreakerState,
		m.PublisherErrors,
	)
	return m
}

// Serve starts the metrics HTTP listener. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("[metrics] serving on %s", addr)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
