package engine

import "github.com/kilianp07/clinicflow/core/model"

// DefaultConsultationMinutes estimates a consultation whose patient carries
// no duration distribution.
const DefaultConsultationMinutes = 20

// ApplyEventToState mutates state according to ev. It reports whether the
// event matched anything and, for a finished consultation with a measured
// length, the record to learn from.
func ApplyEventToState(state *model.SchedulerState, ev model.SchedulerEvent) (bool, *model.ConsultationRecord) {
	idx := state.IndexOf(ev.PatientID)
	switch ev.Type {
	case model.EventPatientArrival:
		if idx < 0 {
			return false, nil
		}
		p := &state.ScheduledQueue[idx]
		p.Arrived = true
		p.ArrivedAt = ev.ArrivalTime
		if p.ArrivedAt.IsZero() {
			p.ArrivedAt = ev.Timestamp
		}
		for _, id := range state.WaitingQueue {
			if id == p.ID {
				return true, nil
			}
		}
		state.WaitingQueue = append(state.WaitingQueue, p.ID)
		return true, nil

	case model.EventTrafficUpdate:
		if idx < 0 {
			return false, nil
		}
		p := &state.ScheduledQueue[idx]
		if p.TrafficEventID != ev.ID {
			p.TrafficDelayMinutes += ev.DelayMinutes
			p.TrafficEventID = ev.ID
		}
		return true, nil

	case model.EventEmergencyInsert:
		if ev.Patient == nil {
			return false, nil
		}
		p := ev.Patient.Clone()
		p.Priority = model.PriorityEmergency
		if p.ScheduledTime.IsZero() {
			p.ScheduledTime = ev.Timestamp
		}
		if p.DoctorID == "" {
			p.DoctorID = state.DoctorID
		}
		return state.InsertEmergency(p), nil

	case model.EventConsultationStart:
		p, ok := state.Remove(ev.PatientID)
		if !ok {
			return false, nil
		}
		minutes := ev.EstimatedDurationMinutes
		if minutes <= 0 && p.Duration != nil {
			minutes = p.Duration.P80
		}
		if minutes <= 0 {
			minutes = DefaultConsultationMinutes
		}
		state.CurrentConsultation = &model.Consultation{
			PatientID:    p.ID,
			ReasonCode:   p.ReasonCode,
			StartedAt:    ev.Timestamp,
			EstimatedEnd: ev.Timestamp.Add(model.Minutes(minutes)),
		}
		return true, nil

	case model.EventConsultationEnd:
		p, removed := state.Remove(ev.PatientID)
		reason := p.ReasonCode
		current := state.CurrentConsultation != nil && state.CurrentConsultation.PatientID == ev.PatientID
		if current {
			if reason == "" {
				reason = state.CurrentConsultation.ReasonCode
			}
			state.CurrentConsultation = nil
		}
		if !removed && !current {
			return false, nil
		}
		if ev.ActualDurationMinutes <= 0 {
			return true, nil
		}
		doctor := p.DoctorID
		if doctor == "" {
			doctor = state.DoctorID
		}
		return true, &model.ConsultationRecord{ReasonCode: reason, DoctorID: doctor, DurationMinutes: ev.ActualDurationMinutes}

	case model.EventNoShow:
		_, ok := state.Remove(ev.PatientID)
		return ok, nil
	}
	return false, nil
}
