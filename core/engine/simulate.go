package engine

import (
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// ArrivalEvent builds an arrival event for patientID.
func ArrivalEvent(patientID string, arrivedAt time.Time) model.SchedulerEvent {
	ev := model.NewEvent(model.EventPatientArrival, patientID, arrivedAt)
	ev.ArrivalTime = arrivedAt
	return ev
}

// TrafficEvent builds a traffic update adding delayMinutes to the patient's
// expected arrival.
func TrafficEvent(patientID string, delayMinutes float64, at time.Time) model.SchedulerEvent {
	ev := model.NewEvent(model.EventTrafficUpdate, patientID, at)
	ev.DelayMinutes = delayMinutes
	return ev
}

// EmergencyEvent builds an emergency insertion for p.
func EmergencyEvent(p model.Patient, at time.Time) model.SchedulerEvent {
	p = p.Clone()
	p.Priority = model.PriorityEmergency
	if p.ScheduledTime.IsZero() {
		p.ScheduledTime = at
	}
	ev := model.NewEvent(model.EventEmergencyInsert, p.ID, at)
	ev.Patient = &p
	return ev
}

// ConsultationStartEvent builds a start event. A non-positive estimate lets
// the engine derive one from the patient's duration distribution.
func ConsultationStartEvent(patientID string, estimatedMinutes float64, at time.Time) model.SchedulerEvent {
	ev := model.NewEvent(model.EventConsultationStart, patientID, at)
	ev.EstimatedDurationMinutes = estimatedMinutes
	return ev
}

// ConsultationEndEvent builds an end event carrying the measured length.
func ConsultationEndEvent(patientID string, actualMinutes float64, at time.Time) model.SchedulerEvent {
	ev := model.NewEvent(model.EventConsultationEnd, patientID, at)
	ev.ActualDurationMinutes = actualMinutes
	return ev
}

// NoShowEvent builds a no-show event.
func NoShowEvent(patientID string, at time.Time) model.SchedulerEvent {
	return model.NewEvent(model.EventNoShow, patientID, at)
}

// SimulatePatientArrival queues an arrival stamped with the engine clock.
func (e *Engine) SimulatePatientArrival(patientID string) bool {
	return e.AddEvent(ArrivalEvent(patientID, e.now()))
}

// SimulateTrafficUpdate queues a traffic delay for patientID.
func (e *Engine) SimulateTrafficUpdate(patientID string, delayMinutes float64) bool {
	return e.AddEvent(TrafficEvent(patientID, delayMinutes, e.now()))
}

// SimulateEmergencyInsert queues an emergency for p.
func (e *Engine) SimulateEmergencyInsert(p model.Patient) bool {
	return e.AddEvent(EmergencyEvent(p, e.now()))
}

// SimulateConsultationStart queues the start of patientID's consultation.
func (e *Engine) SimulateConsultationStart(patientID string, estimatedMinutes float64) bool {
	return e.AddEvent(ConsultationStartEvent(patientID, estimatedMinutes, e.now()))
}

// SimulateConsultationEnd queues the end of patientID's consultation.
func (e *Engine) SimulateConsultationEnd(patientID string, actualMinutes float64) bool {
	return e.AddEvent(ConsultationEndEvent(patientID, actualMinutes, e.now()))
}

// SimulateNoShow queues a no-show for patientID.
func (e *Engine) SimulateNoShow(patientID string) bool {
	return e.AddEvent(NoShowEvent(patientID, e.now()))
}
