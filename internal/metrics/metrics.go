// Package metrics provides Prometheus instrumentation of vendor calls,
// range splits and retrieval runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Vendor call metrics
	VendorCalls        *prometheus.CounterVec
	VendorRecords      *prometheus.CounterVec
	VendorCallDuration *prometheus.HistogramVec
	Splits             *prometheus.CounterVec

	// Run metrics
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ObservationsStored prometheus.Counter
	LastSuccessfulRun  prometheus.Gauge
}

// New creates a Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sensor_data_aggregation"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		VendorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "calls_total",
			Help:      "Total number of vendor calls by outcome",
		}, []string{"vendor", "outcome"}),
		VendorRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "records_total",
			Help:      "Total number of records returned by vendor calls",
		}, []string{"vendor"}),
		VendorCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "call_duration_seconds",
			Help:      "Vendor call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"vendor"}),
		Splits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "splits_total",
			Help:      "Total number of range splits by strategy",
		}, []string{"vendor", "strategy"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "runs_total",
			Help:      "Total number of retrieval runs by status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "run_duration_seconds",
			Help:      "Retrieval run duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 300, 900},
		}),
		ObservationsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "observations_total",
			Help:      "Total number of reconciled observations produced by runs",
		}),
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix time of the last run in which at least one job succeeded",
		}),
	}
}

// ObserveCall implements sensor.CallObserver.
func (m *Metrics) ObserveCall(vendor, outcome string, records int, elapsed time.Duration) {
	m.VendorCalls.WithLabelValues(vendor, outcome).Inc()
	m.VendorRecords.WithLabelValues(vendor).Add(float64(records))
	m.VendorCallDuration.WithLabelValues(vendor).Observe(elapsed.Seconds())
}

// ObserveSplit implements sensor.CallObserver.
func (m *Metrics) ObserveSplit(vendor string, strategy sensor.SplitStrategy) {
	m.Splits.WithLabelValues(vendor, strategy.String()).Inc()
}

// ObserveRun records the outcome of a Service run.
func (m *Metrics) ObserveRun(run sensor.Run, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "failed"
	case failedJobs(run) > 0:
		status = "partial"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(run.Duration.Seconds())
	m.ObservationsStored.Add(float64(len(run.Records)))
	if err == nil {
		m.LastSuccessfulRun.Set(float64(run.Started.Add(run.Duration).Unix()))
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func failedJobs(run sensor.Run) int {
	n := 0
	for _, j := range run.Jobs {
		if j.Err != nil {
			n++
		}
	}
	return n
}
