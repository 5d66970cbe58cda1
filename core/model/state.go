package model

import (
	"sort"
	"time"
)

// BreakInterval is a period during which the doctor does not consult.
type BreakInterval struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// DoctorConfig describes the working day. It is read-only during an
// optimization pass.
type DoctorConfig struct {
	ClinicStart            time.Time       `json:"clinic_start" yaml:"clinic_start"`
	ClinicEnd              time.Time       `json:"clinic_end" yaml:"clinic_end"`
	Breaks                 []BreakInterval `json:"breaks,omitempty" yaml:"breaks,omitempty"`
	EmergencyBufferMinutes float64         `json:"emergency_buffer_minutes" yaml:"emergency_buffer_minutes"`
	MaxOvertimeMinutes     float64         `json:"max_overtime_minutes" yaml:"max_overtime_minutes"`
}

// SortedBreaks returns the breaks ordered by start time.
func (c DoctorConfig) SortedBreaks() []BreakInterval {
	out := append([]BreakInterval(nil), c.Breaks...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// DefaultDoctorConfig returns an 08:00-17:00 day with a 12:00-13:00 lunch
// break on the date of day, in day's location.
func DefaultDoctorConfig(day time.Time) *DoctorConfig {
	at := func(h int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
	}
	return &DoctorConfig{
		ClinicStart:            at(8),
		ClinicEnd:              at(17),
		Breaks:                 []BreakInterval{{Start: at(12), End: at(13)}},
		EmergencyBufferMinutes: 30,
		MaxOvertimeMinutes:     60,
	}
}

// Consultation is the patient currently with the doctor.
type Consultation struct {
	PatientID    string    `json:"patient_id"`
	ReasonCode   string    `json:"reason_code,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EstimatedEnd time.Time `json:"estimated_end"`
}

// SchedulerState is the authoritative view of one doctor session.
type SchedulerState struct {
	CurrentTime         time.Time     `json:"current_time"`
	DoctorID            string        `json:"doctor_id"`
	ScheduledQueue      []Patient     `json:"scheduled_queue"`
	WaitingQueue        []string      `json:"waiting_queue"`
	CurrentConsultation *Consultation `json:"current_consultation,omitempty"`
	DoctorConfig        *DoctorConfig `json:"doctor_config"`
}

// Clone returns a deep copy safe to hand to readers.
func (s *SchedulerState) Clone() *SchedulerState {
	if s == nil {
		return nil
	}
	out := *s
	out.ScheduledQueue = make([]Patient, len(s.ScheduledQueue))
	for i, p := range s.ScheduledQueue {
		out.ScheduledQueue[i] = p.Clone()
	}
	out.WaitingQueue = append([]string(nil), s.WaitingQueue...)
	if s.CurrentConsultation != nil {
		c := *s.CurrentConsultation
		out.CurrentConsultation = &c
	}
	if s.DoctorConfig != nil {
		dc := *s.DoctorConfig
		dc.Breaks = append([]BreakInterval(nil), s.DoctorConfig.Breaks...)
		out.DoctorConfig = &dc
	}
	return &out
}

// IndexOf returns the queue position of the patient or -1.
func (s *SchedulerState) IndexOf(patientID string) int {
	for i := range s.ScheduledQueue {
		if s.ScheduledQueue[i].ID == patientID {
			return i
		}
	}
	return -1
}

// Remove drops the patient from both queues and returns the removed record.
func (s *SchedulerState) Remove(patientID string) (Patient, bool) {
	s.WaitingQueue = removeString(s.WaitingQueue, patientID)
	i := s.IndexOf(patientID)
	if i < 0 {
		return Patient{}, false
	}
	p := s.ScheduledQueue[i]
	s.ScheduledQueue = append(s.ScheduledQueue[:i], s.ScheduledQueue[i+1:]...)
	return p, true
}

// InsertEmergency places p after the emergencies already at the head of the
// queue. A patient already queued with a lower priority is promoted and moved
// there instead, keeping its arrival and taking the distributions p carries.
// It is a no-op when the patient is already queued as an emergency.
func (s *SchedulerState) InsertEmergency(p Patient) bool {
	if i := s.IndexOf(p.ID); i >= 0 {
		q := s.ScheduledQueue[i]
		if q.Priority.IsEmergency() {
			return false
		}
		s.ScheduledQueue = append(s.ScheduledQueue[:i], s.ScheduledQueue[i+1:]...)
		p = q.Promote(p)
	}
	pos := 0
	for pos < len(s.ScheduledQueue) && s.ScheduledQueue[pos].Priority.IsEmergency() {
		pos++
	}
	s.ScheduledQueue = append(s.ScheduledQueue, Patient{})
	copy(s.ScheduledQueue[pos+1:], s.ScheduledQueue[pos:])
	s.ScheduledQueue[pos] = p
	return true
}

func removeString(in []string, v string) []string {
	out := in[:0]
	for _, s := range in {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
