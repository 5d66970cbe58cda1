package model

import "time"

// TimelineEntry is the plan for one patient.
type TimelineEntry struct {
	PatientID        string    `json:"patient_id"`
	Position         int       `json:"position"`
	Priority         Priority  `json:"priority"`
	PredictedArrival time.Time `json:"predicted_arrival"`
	PlannedStart     time.Time `json:"planned_start"`
	PlannedEnd       time.Time `json:"planned_end"`
	DurationMinutes  float64   `json:"duration_minutes"`
	BufferMinutes    float64   `json:"buffer_minutes"`
	WaitMinutes      float64   `json:"wait_minutes"`
	IdleBeforeMins   float64   `json:"idle_before_minutes"`
	// Confidence in [0,1]; narrower distributions score higher.
	Confidence       float64 `json:"confidence"`
}

// ScheduleMetrics aggregates a timeline.
type ScheduleMetrics struct {
	TotalDelayMinutes        float64   `json:"total_delay_minutes"`
	AvgDelayMinutes          float64   `json:"avg_delay_minutes"`
	MaxDelayMinutes          float64   `json:"max_delay_minutes"`
	TotalIdleMinutes         float64   `json:"total_idle_minutes"`
	OvertimeMinutes          float64   `json:"overtime_minutes"`
	EmergencyCount           int       `json:"emergency_count"`
	EmergencySLAViolations   int       `json:"emergency_sla_violations"`
	EmergencySLACompliance   float64   `json:"emergency_sla_compliance"`
	TotalCost                float64   `json:"total_cost"`
	ProjectedEnd             time.Time `json:"projected_end"`
	AvgConfidence            float64   `json:"avg_confidence"`
	ExceedsOvertimeAllowance bool      `json:"exceeds_overtime_allowance"`
}

// ChangeKind classifies a ScheduleChange.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeMoved   ChangeKind = "moved"
)

// ScheduleChange describes how a patient moved relative to the previous
// queue order. From and To are zero-based positions, -1 when absent.
type ScheduleChange struct {
	PatientID string     `json:"patient_id"`
	Kind      ChangeKind `json:"kind"`
	From      int        `json:"from"`
	To        int        `json:"to"`
	Note      string     `json:"note"`
}

// OptimizedSchedule is the result of one optimization pass.
type OptimizedSchedule struct {
	DoctorID            string           `json:"doctor_id"`
	GeneratedAt         time.Time        `json:"generated_at"`
	Sequence            []Patient        `json:"sequence"`
	Timeline            []TimelineEntry  `json:"timeline"`
	Metrics             ScheduleMetrics  `json:"metrics"`
	ChangesFromPrevious []ScheduleChange `json:"changes_from_previous"`
	Trigger             EventType        `json:"trigger,omitempty"`
}

// IDs returns the patient IDs in sequence order.
func (s *OptimizedSchedule) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Sequence))
	for i, p := range s.Sequence {
		out[i] = p.ID
	}
	return out
}
