// Package metrics provides Prometheus metrics for installer runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Download metrics
	downloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdlite_setup_download_bytes_total",
			Help: "Total bytes written to disk by archive fetches",
		},
		[]string{"source"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdlite_setup_downloads_total",
			Help: "Total archive fetches by outcome",
		},
		[]string{"source", "result"},
	)

	redirectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdlite_setup_http_redirects_total",
			Help: "Total HTTP redirect hops followed",
		},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdlite_setup_fetch_retries_total",
			Help: "Total fetch attempts retried after a transient failure",
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdlite_setup_cache_lookups_total",
			Help: "Archive cache lookups by result",
		},
		[]string{"result"},
	)

	// Extraction metrics
	stabilityPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdlite_setup_stability_polls_total",
			Help: "Total directory snapshots taken while waiting for extraction",
		},
	)

	extractionTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdlite_setup_extraction_timeouts_total",
			Help: "Extractions that never reached a stable state",
		},
	)

	// Orchestration metrics
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sdlite_setup_stage_duration_seconds",
			Help:    "Time spent in each installer stage",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	rootFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdlite_setup_root_fallbacks_total",
			Help: "Archives whose project root could not be recognized",
		},
	)

	validationChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdlite_setup_validation_checks_total",
			Help: "Validation checks by status",
		},
		[]string{"status"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdlite_setup_runs_total",
			Help: "Installer runs by outcome",
		},
		[]string{"result"},
	)
)

// RecordDownload records the outcome of one archive fetch.
func RecordDownload(source string, bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	downloadsTotal.WithLabelValues(source, status).Inc()
	if bytes > 0 {
		downloadBytesTotal.WithLabelValues(source).Add(float64(bytes))
	}
}

// RecordRedirect records one followed redirect hop.
func RecordRedirect() {
	redirectsTotal.Inc()
}

// RecordRetry records one retried fetch attempt.
func RecordRetry() {
	retriesTotal.Inc()
}

// RecordCacheLookup records an archive cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordStabilityPoll records one snapshot taken by the stability poller.
func RecordStabilityPoll() {
	stabilityPollsTotal.Inc()
}

// RecordExtractionTimeout records an extraction that never settled.
func RecordExtractionTimeout() {
	extractionTimeoutsTotal.Inc()
}

// RecordStage records how long an installer stage took.
func RecordStage(stage string, duration time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRootFallback records a best-guess project root.
func RecordRootFallback() {
	rootFallbacksTotal.Inc()
}

// RecordValidation records one validation check result.
func RecordValidation(status string) {
	validationChecksTotal.WithLabelValues(status).Inc()
}

// RecordRun records the final outcome of an installer run.
func RecordRun(result string) {
	runsTotal.WithLabelValues(result).Inc()
}

// WriteTextfile writes all registered metrics in the text exposition
// format, for node_exporter's textfile collector or CI artifacts.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
