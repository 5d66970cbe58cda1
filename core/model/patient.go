package model

import "time"

// Patient is an appointment admitted to a doctor's queue.
//
// ETA is an offset from ScheduledTime and Duration is the consultation
// length. A nil distribution is predicted on every optimization pass while a
// non-nil one is treated as authoritative and never mutated.
type Patient struct {
	ID                string                `json:"id" yaml:"id"`
	Name              string                `json:"name,omitempty" yaml:"name,omitempty"`
	Priority          Priority              `json:"priority" yaml:"priority"`
	ReasonCode        string                `json:"reason_code" yaml:"reason_code"`
	DoctorID          string                `json:"doctor_id" yaml:"doctor_id"`
	ScheduledTime     time.Time             `json:"scheduled_time" yaml:"scheduled_time"`
	DistanceKM        float64               `json:"distance_km" yaml:"distance_km"`
	ETA               *QuantileDistribution `json:"eta,omitempty" yaml:"eta,omitempty"`
	Duration          *QuantileDistribution `json:"duration,omitempty" yaml:"duration,omitempty"`
	NoShowProbability float64               `json:"no_show_probability" yaml:"no_show_probability"`
	PunctualityScore  float64               `json:"punctuality_score" yaml:"punctuality_score"`
	RescheduleCount   int                   `json:"reschedule_count" yaml:"reschedule_count"`

	Arrived   bool      `json:"arrived" yaml:"arrived"`
	ArrivedAt time.Time `json:"arrived_at,omitempty" yaml:"arrived_at,omitempty"`
	// TrafficDelayMinutes accumulates traffic deltas reported for the patient.
	TrafficDelayMinutes float64 `json:"traffic_delay_minutes" yaml:"traffic_delay_minutes"`
	// TrafficEventID is the last traffic event folded into TrafficDelayMinutes.
	TrafficEventID string `json:"traffic_event_id,omitempty" yaml:"-"`
}

// PredictedArrival returns the arrival time at quantile q. Arrived patients
// resolve to their actual arrival time.
func (p Patient) PredictedArrival(q float64) time.Time {
	if p.Arrived {
		if p.ArrivedAt.IsZero() {
			return p.ScheduledTime
		}
		return p.ArrivedAt
	}
	if p.ETA == nil {
		return p.ScheduledTime
	}
	return p.ScheduledTime.Add(Minutes(p.ETA.At(q)))
}

// Clone returns a copy whose distributions do not alias p's.
func (p Patient) Clone() Patient {
	if p.ETA != nil {
		eta := *p.ETA
		p.ETA = &eta
	}
	if p.Duration != nil {
		dur := *p.Duration
		p.Duration = &dur
	}
	return p
}

// Promote returns p escalated to an emergency. Distributions and the reason
// code of update replace p's when set; booking, arrival and traffic state are
// kept.
func (p Patient) Promote(update Patient) Patient {
	p = p.Clone()
	p.Priority = PriorityEmergency
	if update.ReasonCode != "" {
		p.ReasonCode = update.ReasonCode
	}
	if update.ETA != nil {
		eta := *update.ETA
		p.ETA = &eta
	}
	if update.Duration != nil {
		dur := *update.Duration
		p.Duration = &dur
	}
	return p
}

// Minutes converts fractional minutes to a time.Duration.
func Minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// MinutesBetween returns b-a in fractional minutes.
func MinutesBetween(a, b time.Time) float64 {
	return b.Sub(a).Minutes()
}
