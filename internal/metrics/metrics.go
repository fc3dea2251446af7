package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder publishes poller and refresh health as Prometheus metrics.
type Recorder struct {
	refreshes     *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	alertsFired   prometheus.Counter
	cacheSize     prometheus.Gauge
	lastSlotFired prometheus.Gauge
	refreshTime   prometheus.Histogram
}

// New registers the metric set with the default registry.
func New() *Recorder {
	return &Recorder{
		refreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_refreshes_total",
				Help: "Total refresh cycles by outcome",
			},
			[]string{"outcome"},
		),
		fetchErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_fetch_errors_total",
				Help: "Total upstream fetch errors by kind",
			},
			[]string{"kind"},
		),
		alertsFired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricewatch_alerts_fired_total",
				Help: "Total alert rules that fired",
			},
		),
		cacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_cache_assets",
				Help: "Number of assets in the current price snapshot",
			},
		),
		lastSlotFired: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_last_slot_fired_timestamp_seconds",
				Help: "Unix time of the last fired schedule slot",
			},
		),
		refreshTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricewatch_refresh_duration_seconds",
				Help:    "Duration of full refresh cycles",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordRefresh counts one refresh cycle with its outcome label.
func (r *Recorder) RecordRefresh(outcome string, seconds float64) {
	r.refreshes.WithLabelValues(outcome).Inc()
	r.refreshTime.Observe(seconds)
}

// RecordFetchError counts an upstream failure.
func (r *Recorder) RecordFetchError(kind string) {
	r.fetchErrors.WithLabelValues(kind).Inc()
}

// RecordAlertsFired counts fired alert rules.
func (r *Recorder) RecordAlertsFired(n int) {
	r.alertsFired.Add(float64(n))
}

// RecordCacheSize publishes the current snapshot size.
func (r *Recorder) RecordCacheSize(n int) {
	r.cacheSize.Set(float64(n))
}

// RecordSlotFired stamps the last fired slot.
func (r *Recorder) RecordSlotFired(unixSeconds float64) {
	r.lastSlotFired.Set(unixSeconds)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
