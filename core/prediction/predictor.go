package prediction

import "github.com/kilianp07/clinicflow/core/model"

// Predictor forecasts the arrival offset and consultation length of a
// patient.
type Predictor interface {
	// PredictArrivalDistribution returns the arrival offset from the
	// scheduled time in minutes, scaled by trafficMultiplier.
	PredictArrivalDistribution(p model.Patient, trafficMultiplier float64) model.QuantileDistribution
	// PredictDurationDistribution returns the consultation length in minutes.
	PredictDurationDistribution(p model.Patient) model.QuantileDistribution
}

// CompletionObserver learns from finished consultations.
type CompletionObserver interface {
	Observe(reasonCode, doctorID string, minutes float64)
}

// HistoricalPredictor combines the ETA and duration predictors built from the
// same historical data set.
type HistoricalPredictor struct {
	ETA      *ETAPredictor
	Duration *DurationPredictor
}

// NewHistoricalPredictor calibrates both predictors. A nil data set yields
// pure heuristic predictions.
func NewHistoricalPredictor(h *model.HistoricalData) *HistoricalPredictor {
	if h == nil {
		h = &model.HistoricalData{}
	}
	return &HistoricalPredictor{
		ETA:      NewETAPredictor(h.Arrivals),
		Duration: NewDurationPredictor(h.Consultations),
	}
}

func (h *HistoricalPredictor) PredictArrivalDistribution(p model.Patient, trafficMultiplier float64) model.QuantileDistribution {
	return h.ETA.PredictArrivalDistribution(p, trafficMultiplier)
}

func (h *HistoricalPredictor) PredictDurationDistribution(p model.Patient) model.QuantileDistribution {
	return h.Duration.PredictDurationDistribution(p)
}

// Observe forwards a completed consultation to the duration predictor.
func (h *HistoricalPredictor) Observe(reasonCode, doctorID string, minutes float64) {
	h.Duration.Observe(reasonCode, doctorID, minutes)
}
