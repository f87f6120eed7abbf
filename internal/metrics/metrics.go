package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "cycles_total",
			Help:      "Number of completed reconciliation cycles.",
		},
	)
	cycleFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "cycle_failures_total",
			Help:      "Number of cycles aborted by enumeration or initial query failure.",
		},
	)
	recordsArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "records_archived_total",
			Help:      "Number of records transitioned to INACTIVE.",
		},
	)
	recordsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "records_created_total",
			Help:      "Number of records created for newly appeared processes.",
		},
	)
	recordsUpdated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "records_updated_total",
			Help:      "Number of record refreshes for still-live processes.",
		},
	)
	pipelineFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "pipeline_failures_total",
			Help:      "Per-process pipeline failures by stage (capture, ocr, store).",
		}, []string{"stage"},
	)
	liveProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "live_processes",
			Help:      "Live client processes observed in the latest snapshot.",
		},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetmon",
			Subsystem: "reconcile",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one reconciliation cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		cyclesTotal, cycleFailures, recordsArchived, recordsCreated,
		recordsUpdated, pipelineFailures, liveProcesses, cycleDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by the engine. They no-op if Register hasn't been called.

func IncCycle() {
	if regOK.Load() {
		cyclesTotal.Inc()
	}
}
func IncCycleFailure() {
	if regOK.Load() {
		cycleFailures.Inc()
	}
}
func AddArchived(n int) {
	if regOK.Load() {
		recordsArchived.Add(float64(n))
	}
}
func AddCreated(n int) {
	if regOK.Load() {
		recordsCreated.Add(float64(n))
	}
}
func AddUpdated(n int) {
	if regOK.Load() {
		recordsUpdated.Add(float64(n))
	}
}
func IncPipelineFailure(stage string) {
	if regOK.Load() {
		pipelineFailures.WithLabelValues(stage).Inc()
	}
}
func SetLiveProcesses(n int) {
	if regOK.Load() {
		liveProcesses.Set(float64(n))
	}
}
func ObserveCycleDuration(seconds float64) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
	}
}
