package events

import (
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// Kind discriminates the notifications carried on the bus.
type Kind string

const (
	KindScheduleUpdated Kind = "schedule_updated"
	KindEventProcessed  Kind = "event_processed"
	KindEngineError     Kind = "engine_error"
)

// Notification is the envelope published by the engine. Exactly one of the
// pointers is set, matching Kind.
type Notification struct {
	Kind      Kind
	DoctorID  string
	Time      time.Time
	Schedule  *ScheduleUpdated
	Processed *EventProcessed
	Error     *EngineError
}

// ScheduleUpdated carries a freshly optimized schedule.
type ScheduleUpdated struct {
	Schedule *model.OptimizedSchedule
	// Events are the scheduler events folded into this pass.
	Events   []model.SchedulerEvent
	Duration time.Duration
	Forced   bool
}

// EventProcessed is published once per event applied to the state.
type EventProcessed struct {
	Event   model.SchedulerEvent
	Applied bool
}

// EngineError reports a failed batch.
type EngineError struct {
	Err    error
	Events []model.SchedulerEvent
}
