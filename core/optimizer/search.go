package optimizer

import (
	"math"
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// evaluator scores candidate sequences by replaying them end to end.
type evaluator struct {
	from   time.Time
	cfg    *model.DoctorConfig
	params model.SchedulerParams
}

// SlotFor resolves a patient's arrival, duration and buffer at the
// configured quantile.
func SlotFor(p model.Patient, params model.SchedulerParams) Slot {
	var dur model.QuantileDistribution
	if p.Duration != nil {
		dur = *p.Duration
	}
	return Slot{
		Patient:  p,
		Arrival:  p.PredictedArrival(params.Quantile),
		Duration: math.Max(0, dur.At(params.Quantile)),
		Buffer:   BufferMinutes(dur, params),
	}
}

func (e evaluator) slots(seq []model.Patient) []Slot {
	out := make([]Slot, len(seq))
	for i, p := range seq {
		out[i] = SlotFor(p, e.params)
	}
	return out
}

func (e evaluator) cost(seq []model.Patient) float64 {
	return Walk(e.slots(seq), e.from, e.cfg, e.params).Cost(e.params)
}

// bestInsertion places c at the cheapest position after the first fixed
// entries. Appending is the baseline; an earlier position must be strictly
// cheaper to win.
func (e evaluator) bestInsertion(seq []model.Patient, fixed int, c model.Patient) []model.Patient {
	best := len(seq)
	bestCost := e.cost(insertAt(seq, best, c))
	for pos := len(seq) - 1; pos >= fixed; pos-- {
		if cost := e.cost(insertAt(seq, pos, c)); cost < bestCost-costEpsilon {
			best, bestCost = pos, cost
		}
	}
	return insertAt(seq, best, c)
}

// refine performs adjacent-pair swaps after the fixed prefix, accepting only
// strict improvements and restarting the scan after each accepted swap.
func (e evaluator) refine(seq []model.Patient, fixed int) []model.Patient {
	seq = append([]model.Patient(nil), seq...)
	current := e.cost(seq)
	for iter := 0; iter < maxRefinementIterations; iter++ {
		improved := false
		for i := fixed; i+1 < len(seq); i++ {
			seq[i], seq[i+1] = seq[i+1], seq[i]
			if c := e.cost(seq); c < current-costEpsilon {
				current = c
				improved = true
				break
			}
			seq[i], seq[i+1] = seq[i+1], seq[i]
		}
		if !improved {
			break
		}
	}
	return seq
}

func insertAt(seq []model.Patient, pos int, p model.Patient) []model.Patient {
	out := make([]model.Patient, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, p)
	return append(out, seq[pos:]...)
}
