package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType tags the variant carried by a SchedulerEvent.
type EventType string

const (
	EventPatientArrival    EventType = "patient_arrival"
	EventTrafficUpdate     EventType = "traffic_update"
	EventEmergencyInsert   EventType = "emergency_insert"
	EventConsultationStart EventType = "consultation_start"
	EventConsultationEnd   EventType = "consultation_end"
	EventNoShow            EventType = "no_show"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPatientArrival, EventTrafficUpdate, EventEmergencyInsert,
		EventConsultationStart, EventConsultationEnd, EventNoShow:
		return true
	}
	return false
}

// SchedulerEvent is a state change reported by the clinic. Only the payload
// fields relevant to Type are populated.
type SchedulerEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	PatientID string    `json:"patient_id,omitempty"`

	// patient_arrival
	ArrivalTime time.Time `json:"arrival_time,omitempty"`
	// traffic_update
	DelayMinutes float64 `json:"delay_minutes,omitempty"`
	// emergency_insert
	Patient *Patient `json:"patient,omitempty"`
	// consultation_end
	ActualDurationMinutes float64 `json:"actual_duration_minutes,omitempty"`
	// consultation_start, optional
	EstimatedDurationMinutes float64 `json:"estimated_duration_minutes,omitempty"`
}

// NewEvent returns an event of type t stamped with a fresh identifier.
func NewEvent(t EventType, patientID string, at time.Time) SchedulerEvent {
	return SchedulerEvent{ID: uuid.NewString(), Type: t, PatientID: patientID, Timestamp: at}
}

// IsEmergency reports whether the event bypasses rate limiting.
func (e SchedulerEvent) IsEmergency() bool { return e.Type == EventEmergencyInsert }

// Validate checks the fields every ingress path requires.
func (e SchedulerEvent) Validate() error {
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", e.Type)}
	}
	if e.Type == EventEmergencyInsert {
		if e.Patient == nil || e.Patient.ID == "" {
			return &ValidationError{Field: "patient", Reason: "is required"}
		}
		return nil
	}
	if e.PatientID == "" {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	return nil
}
