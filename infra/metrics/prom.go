package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/clinicflow/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exposes schedule quality and simulation summaries as Prometheus
// gauges labelled by doctor.
type PromSink struct {
	avgDelay    *prometheus.GaugeVec
	maxDelay    *prometheus.GaugeVec
	idle        *prometheus.GaugeVec
	overtime    *prometheus.GaugeVec
	cost        *prometheus.GaugeVec
	slaViolated *prometheus.CounterVec
	events      *prometheus.CounterVec
	simDelay    *prometheus.GaugeVec
	simOvertime *prometheus.GaugeVec
}

// NewPromSink registers the sink's collectors on the default registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already present on the registerer are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	doctor := []string{"doctor_id"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, doctor)
	}
	s := &PromSink{
		avgDelay: gauge("clinic_schedule_avg_delay_minutes", "Average predicted patient wait of the current schedule"),
		maxDelay: gauge("clinic_schedule_max_delay_minutes", "Largest predicted patient wait of the current schedule"),
		idle:     gauge("clinic_schedule_idle_minutes", "Predicted doctor idle time of the current schedule"),
		overtime: gauge("clinic_schedule_overtime_minutes", "Predicted overtime past clinic end"),
		cost:     gauge("clinic_schedule_cost", "Weighted cost of the current schedule"),
		slaViolated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_emergency_sla_violations_total",
			Help: "Emergencies planned past the SLA across optimization passes",
		}, doctor),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_events_total",
			Help: "Scheduler events by type and outcome",
		}, []string{"doctor_id", "type", "outcome"}),
		simDelay:    gauge("clinic_simulation_p95_delay_minutes", "P95 of the average delay across simulated scenarios"),
		simOvertime: gauge("clinic_simulation_overtime_probability", "Share of simulated scenarios running past clinic end"),
	}

	var err error
	for _, g := range []**prometheus.GaugeVec{&s.avgDelay, &s.maxDelay, &s.idle, &s.overtime, &s.cost, &s.simDelay, &s.simOvertime} {
		if *g, err = register(reg, *g); err != nil {
			return nil, err
		}
	}
	if s.slaViolated, err = register(reg, s.slaViolated); err != nil {
		return nil, err
	}
	if s.events, err = register(reg, s.events); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// RecordSchedule updates the schedule gauges for the record's doctor.
func (s *PromSink) RecordSchedule(rec coremetrics.ScheduleRecord) error {
	m := rec.Metrics
	s.avgDelay.WithLabelValues(rec.DoctorID).Set(m.AvgDelayMinutes)
	s.maxDelay.WithLabelValues(rec.DoctorID).Set(m.MaxDelayMinutes)
	s.idle.WithLabelValues(rec.DoctorID).Set(m.TotalIdleMinutes)
	s.overtime.WithLabelValues(rec.DoctorID).Set(m.OvertimeMinutes)
	s.cost.WithLabelValues(rec.DoctorID).Set(m.TotalCost)
	if m.EmergencySLAViolations > 0 {
		s.slaViolated.WithLabelValues(rec.DoctorID).Add(float64(m.EmergencySLAViolations))
	}
	return nil
}

// RecordEvent counts an event outcome.
func (s *PromSink) RecordEvent(ev coremetrics.EventRecord) error {
	s.events.WithLabelValues(ev.DoctorID, string(ev.Type), ev.Outcome).Inc()
	return nil
}

// RecordSimulation publishes the headline numbers of a Monte Carlo run.
func (s *PromSink) RecordSimulation(rec coremetrics.SimulationRecord) error {
	s.simDelay.WithLabelValues(rec.DoctorID).Set(rec.P95DelayMinutes)
	s.simOvertime.WithLabelValues(rec.DoctorID).Set(rec.OvertimeProbability)
	return nil
}
