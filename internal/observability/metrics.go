package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry *prometheus.Registry

	// OpenWeatherMap API call rate. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Failed API calls by category. Watch for: invalid_api_key (config), rate_limited (plan quota).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Per-city outcome of a run: success, fetch_error, format_error.
	CitiesProcessedTotal *prometheus.CounterVec

	// Payloads rejected by the formatter. Watch for: upstream schema changes.
	FormatErrorsTotal prometheus.Counter

	// Storage writes by target (s3, local) and status. Any error here fails the run.
	StorageWritesTotal *prometheus.CounterVec

	// Storage write latency.
	StorageWriteDuration *prometheus.HistogramVec

	// Records in the last stored batch.
	BatchRecords prometheus.Gauge

	// Wall time of the last run.
	RunDurationSeconds prometheus.Gauge

	// Unix time of the last run that stored a batch. Alert on staleness, not on single failures.
	LastSuccessTimestamp prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Failed OpenWeatherMap API calls by error category",
		},
		[]string{"category"},
	)
	CitiesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citiesProcessedTotal",
			Help: "Cities processed per run by outcome",
		},
		[]string{"result"},
	)
	FormatErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "formatErrorsTotal",
			Help: "API payloads missing required fields",
		},
	)
	StorageWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storageWritesTotal",
			Help: "Batch writes by target and status",
		},
		[]string{"target", "status"},
	)
	StorageWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storageWriteDurationSeconds",
			Help:    "Batch write latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"target"},
	)
	BatchRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchRecords",
			Help: "Number of records in the last stored batch",
		},
	)
	RunDurationSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runDurationSeconds",
			Help: "Duration of the last collection run",
		},
	)
	LastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lastSuccessTimestampSeconds",
			Help: "Unix time of the last run that stored a batch",
		},
	)

	registry.MustRegister(
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal,
		CitiesProcessedTotal, FormatErrorsTotal,
		StorageWritesTotal, StorageWriteDuration,
		BatchRecords, RunDurationSeconds, LastSuccessTimestamp,
	)
}

// RecordStorageWrite records one write attempt against target ("s3" or "local").
func RecordStorageWrite(target string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageWritesTotal.WithLabelValues(target, status).Inc()
	StorageWriteDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
}

// RecordRunComplete records the outcome of a run. stored is the number of
// records written; zero means nothing was stored.
func RecordRunComplete(start time.Time, stored int) {
	RunDurationSeconds.Set(time.Since(start).Seconds())
	if stored > 0 {
		BatchRecords.Set(float64(stored))
		LastSuccessTimestamp.SetToCurrentTime()
	}
}

// Gatherer exposes the private registry, e.g. for tests.
func Gatherer() prometheus.Gatherer {
	return registry
}
