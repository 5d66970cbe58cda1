package model

import "time"

// ArrivalRecord is one observed arrival.
type ArrivalRecord struct {
	DistanceKM    float64   `json:"distance_km" yaml:"distance_km"`
	ScheduledTime time.Time `json:"scheduled_time" yaml:"scheduled_time"`
	ActualTime    time.Time `json:"actual_time" yaml:"actual_time"`
}

// OffsetMinutes is how late (positive) or early the patient arrived.
func (r ArrivalRecord) OffsetMinutes() float64 {
	return MinutesBetween(r.ScheduledTime, r.ActualTime)
}

// ConsultationRecord is one observed consultation length.
type ConsultationRecord struct {
	ReasonCode      string  `json:"reason_code" yaml:"reason_code"`
	DoctorID        string  `json:"doctor_id" yaml:"doctor_id"`
	DurationMinutes float64 `json:"duration_minutes" yaml:"duration_minutes"`
}

// HistoricalData calibrates the predictors.
type HistoricalData struct {
	Arrivals      []ArrivalRecord      `json:"arrivals" yaml:"arrivals"`
	Consultations []ConsultationRecord `json:"consultations" yaml:"consultations"`
}
