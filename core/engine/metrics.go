package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/clinicflow/core/model"
)

var (
	eventsTotal          *prometheus.CounterVec
	optimizationsTotal   *prometheus.CounterVec
	optimizationDuration prometheus.Histogram
	queueLength          *prometheus.GaugeVec
	batchErrors          prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Histogram, *prometheus.GaugeVec, prometheus.Counter) {
	ev := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_events_total",
			Help: "Scheduler events by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	opt := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_optimizations_total",
			Help: "Optimization passes by triggering event type",
		},
		[]string{"trigger"},
	)
	dur := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_optimization_duration_seconds",
			Help:    "Wall time of one optimization pass",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
	ql := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_length",
			Help: "Patients left in the scheduled queue after the last pass",
		},
		[]string{"doctor_id"},
	)
	errs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_batch_errors_total",
			Help: "Event batches that failed to produce a schedule",
		},
	)
	return ev, opt, dur, ql, errs
}

func init() {
	eventsTotal, optimizationsTotal, optimizationDuration, queueLength, batchErrors = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers engine metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(eventsTotal, optimizationsTotal, optimizationDuration, queueLength, batchErrors)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	eventsTotal, optimizationsTotal, optimizationDuration, queueLength, batchErrors = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

func triggerLabel(t model.EventType) string {
	if t == "" {
		return "forced"
	}
	return string(t)
}
