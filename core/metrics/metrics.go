package metrics

import (
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// ScheduleRecord summarizes one optimization pass.
type ScheduleRecord struct {
	DoctorID string
	Trigger  string
	Patients int
	Metrics  model.ScheduleMetrics
	Changes  int
	Forced   bool
	Duration time.Duration
	Time     time.Time
}

// MetricsSink records optimization passes.
type MetricsSink interface {
	RecordSchedule(rec ScheduleRecord) error
}

// EventRecord describes the fate of an incoming scheduler event.
type EventRecord struct {
	DoctorID  string
	EventID   string
	Type      model.EventType
	PatientID string
	// Outcome is "accepted", "dropped" or "applied".
	Outcome string
	Time    time.Time
}

// EventRecorder records scheduler events.
type EventRecorder interface {
	RecordEvent(ev EventRecord) error
}

// SimulationRecord summarizes a Monte Carlo run.
type SimulationRecord struct {
	DoctorID            string
	Scenarios           int
	AvgDelayMinutes     float64
	P95DelayMinutes     float64
	AvgIdleMinutes      float64
	OvertimeProbability float64
	AvgSLAViolations    float64
	Time                time.Time
}

// SimulationRecorder records simulation summaries.
type SimulationRecorder interface {
	RecordSimulation(rec SimulationRecord) error
}

// QueueRecorder records the queue length after each pass.
type QueueRecorder interface {
	RecordQueueLength(doctorID string, n int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSchedule(ScheduleRecord) error     { return nil }
func (NopSink) RecordEvent(EventRecord) error           { return nil }
func (NopSink) RecordSimulation(SimulationRecord) error { return nil }
func (NopSink) RecordQueueLength(string, int) error     { return nil }
