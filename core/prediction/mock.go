package prediction

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// SyntheticSeed is the default seed of SyntheticHistory.
const SyntheticSeed = 42

// MockPredictor returns fixed distributions. Per-patient overrides take
// precedence over the defaults.
type MockPredictor struct {
	Arrival      model.QuantileDistribution
	Duration     model.QuantileDistribution
	ArrivalByID  map[string]model.QuantileDistribution
	DurationByID map[string]model.QuantileDistribution
}

func (m MockPredictor) PredictArrivalDistribution(p model.Patient, trafficMultiplier float64) model.QuantileDistribution {
	if trafficMultiplier <= 0 {
		trafficMultiplier = 1
	}
	if d, ok := m.ArrivalByID[p.ID]; ok {
		return d.Scale(trafficMultiplier)
	}
	return m.Arrival.Scale(trafficMultiplier)
}

func (m MockPredictor) PredictDurationDistribution(p model.Patient) model.QuantileDistribution {
	if d, ok := m.DurationByID[p.ID]; ok {
		return d
	}
	return m.Duration
}

// SyntheticHistory generates a reproducible historical data set used when
// no real history is supplied.
func SyntheticHistory(seed int64, day time.Time) *model.HistoricalData {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(day.Year(), day.Month(), day.Day(), 8, 0, 0, 0, day.Location())
	h := &model.HistoricalData{}

	for i := 0; i < 300; i++ {
		km := rng.Float64() * 30
		base := defaultArrival(km)
		offset := base.P50 + rng.NormFloat64()*(base.P80-base.P50)
		offset = math.Max(-10, offset)
		scheduled := start.AddDate(0, 0, -1-rng.Intn(60)).Add(time.Duration(rng.Intn(36)) * 15 * time.Minute)
		h.Arrivals = append(h.Arrivals, model.ArrivalRecord{
			DistanceKM:    km,
			ScheduledTime: scheduled,
			ActualTime:    scheduled.Add(model.Minutes(offset)),
		})
	}

	doctors := []string{"dr-1", "dr-2"}
	reasons := make([]string, 0, len(defaultDurations))
	for r := range defaultDurations {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		d := defaultDurations[reason]
		for i := 0; i < 40; i++ {
			minutes := d.P50 * math.Exp(0.3*rng.NormFloat64())
			h.Consultations = append(h.Consultations, model.ConsultationRecord{
				ReasonCode:      reason,
				DoctorID:        doctors[rng.Intn(len(doctors))],
				DurationMinutes: math.Max(1, minutes),
			})
		}
	}
	return h
}
