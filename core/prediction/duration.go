package prediction

import (
	"strings"
	"sync"

	"github.com/kilianp07/clinicflow/core/model"
)

const durationMinSamples = 3

var defaultDurations = map[string]model.QuantileDistribution{
	"consultation": {P50: 15, P80: 20, P95: 30},
	"follow_up":    {P50: 10, P80: 15, P95: 20},
	"checkup":      {P50: 20, P80: 25, P95: 35},
	"vaccination":  {P50: 5, P80: 8, P95: 12},
	"procedure":    {P50: 30, P80: 40, P95: 55},
	"emergency":    {P50: 25, P80: 35, P95: 50},
}

var genericDuration = model.QuantileDistribution{P50: 15, P80: 20, P95: 30}

// DurationPredictor estimates consultation lengths by reason code.
type DurationPredictor struct {
	mu            sync.RWMutex
	consultations []model.ConsultationRecord
}

// NewDurationPredictor copies the provided records.
func NewDurationPredictor(recs []model.ConsultationRecord) *DurationPredictor {
	return &DurationPredictor{consultations: append([]model.ConsultationRecord(nil), recs...)}
}

// PredictDurationDistribution falls back from (reason, doctor) samples to
// same-reason samples and finally to a fixed per-reason table.
func (d *DurationPredictor) PredictDurationDistribution(p model.Patient) model.QuantileDistribution {
	reason := normalizeReason(p.ReasonCode)
	d.mu.RLock()
	var exact, sameReason []float64
	for _, c := range d.consultations {
		if normalizeReason(c.ReasonCode) != reason || c.DurationMinutes <= 0 {
			continue
		}
		sameReason = append(sameReason, c.DurationMinutes)
		if c.DoctorID == p.DoctorID {
			exact = append(exact, c.DurationMinutes)
		}
	}
	d.mu.RUnlock()

	switch {
	case len(exact) >= durationMinSamples:
		return Distribution(exact)
	case len(sameReason) >= durationMinSamples:
		return Distribution(sameReason)
	default:
		return DefaultDuration(reason)
	}
}

// Observe records a completed consultation so later predictions use it.
func (d *DurationPredictor) Observe(reasonCode, doctorID string, minutes float64) {
	if minutes <= 0 {
		return
	}
	d.mu.Lock()
	d.consultations = append(d.consultations, model.ConsultationRecord{
		ReasonCode:      reasonCode,
		DoctorID:        doctorID,
		DurationMinutes: minutes,
	})
	d.mu.Unlock()
}

// Samples returns the number of records held.
func (d *DurationPredictor) Samples() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.consultations)
}

// DefaultDuration returns the table entry for a reason code.
func DefaultDuration(reason string) model.QuantileDistribution {
	if v, ok := defaultDurations[normalizeReason(reason)]; ok {
		return v
	}
	return genericDuration
}

func normalizeReason(r string) string {
	r = strings.ToLower(strings.TrimSpace(r))
	return strings.NewReplacer("-", "_", " ", "_").Replace(r)
}
