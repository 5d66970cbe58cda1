package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// EventsTopic carries inbound scheduler events for a doctor.
func EventsTopic(prefix, doctorID string) string { return fmt.Sprintf("%s/%s/events", prefix, doctorID) }

// ScheduleTopic carries the latest optimized schedule, retained.
func ScheduleTopic(prefix, doctorID string) string {
	return fmt.Sprintf("%s/%s/schedule", prefix, doctorID)
}

// AlertsTopic carries engine failures.
func AlertsTopic(prefix, doctorID string) string { return fmt.Sprintf("%s/%s/alerts", prefix, doctorID) }

// DecodeEvent parses an inbound event payload.
func DecodeEvent(payload []byte) (model.SchedulerEvent, error) {
	var ev model.SchedulerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, ev.Validate()
}

// EncodeEvent validates ev and marshals it in the form DecodeEvent reads.
func EncodeEvent(ev model.SchedulerEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if _, err := DecodeEvent(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ScheduleMessage is the published form of an optimized schedule.
type ScheduleMessage struct {
	DoctorID    string                 `json:"doctor_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Trigger     string                 `json:"trigger"`
	Forced      bool                   `json:"forced"`
	Sequence    []string               `json:"sequence"`
	Timeline    []model.TimelineEntry  `json:"timeline"`
	Metrics     model.ScheduleMetrics  `json:"metrics"`
	Changes     []model.ScheduleChange `json:"changes,omitempty"`
}

// EncodeSchedule marshals s for publication.
func EncodeSchedule(s *model.OptimizedSchedule, forced bool) ([]byte, error) {
	msg := ScheduleMessage{
		DoctorID:    s.DoctorID,
		GeneratedAt: s.GeneratedAt,
		Trigger:     string(s.Trigger),
		Forced:      forced,
		Sequence:    s.IDs(),
		Timeline:    s.Timeline,
		Metrics:     s.Metrics,
		Changes:     s.ChangesFromPrevious,
	}
	return json.Marshal(msg)
}

// AlertMessage reports a failed optimization batch.
type AlertMessage struct {
	DoctorID string    `json:"doctor_id"`
	Time     time.Time `json:"time"`
	Error    string    `json:"error"`
	EventIDs []string  `json:"event_ids,omitempty"`
}
