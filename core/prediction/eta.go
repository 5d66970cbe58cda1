package prediction

import (
	"math"
	"sync"

	"github.com/kilianp07/clinicflow/core/model"
)

const (
	etaDistanceWindowKM = 2.0
	etaMinSamples       = 5
)

// ETAPredictor estimates arrival offsets from arrivals of patients living at
// a similar distance.
type ETAPredictor struct {
	mu       sync.RWMutex
	arrivals []model.ArrivalRecord
}

// NewETAPredictor copies the provided records.
func NewETAPredictor(arrivals []model.ArrivalRecord) *ETAPredictor {
	return &ETAPredictor{arrivals: append([]model.ArrivalRecord(nil), arrivals...)}
}

// PredictArrivalDistribution uses arrivals within ±2 km of the patient's
// distance. With fewer than five matches a distance-linear model is used.
// A non-positive multiplier is treated as 1.
func (e *ETAPredictor) PredictArrivalDistribution(p model.Patient, trafficMultiplier float64) model.QuantileDistribution {
	if trafficMultiplier <= 0 || math.IsNaN(trafficMultiplier) {
		trafficMultiplier = 1
	}
	e.mu.RLock()
	var offsets []float64
	for _, a := range e.arrivals {
		if math.Abs(a.DistanceKM-p.DistanceKM) <= etaDistanceWindowKM {
			offsets = append(offsets, a.OffsetMinutes())
		}
	}
	e.mu.RUnlock()

	if len(offsets) < etaMinSamples {
		return defaultArrival(p.DistanceKM).Scale(trafficMultiplier).Normalize()
	}
	return Distribution(offsets).Scale(trafficMultiplier).Normalize()
}

// Add records a new observed arrival.
func (e *ETAPredictor) Add(r model.ArrivalRecord) {
	e.mu.Lock()
	e.arrivals = append(e.arrivals, r)
	e.mu.Unlock()
}

// defaultArrival assumes patients further away run later and less
// predictably. 0.84 and 1.645 are the standard normal z-scores of p80/p95.
func defaultArrival(km float64) model.QuantileDistribution {
	if km < 0 {
		km = 0
	}
	base := math.Max(0, 2*km-5)
	variability := math.Max(5, 1.5*km)
	return model.QuantileDistribution{
		P50: base,
		P80: base + 0.84*variability,
		P95: base + 1.645*variability,
	}
}
