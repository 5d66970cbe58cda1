package simulator

import (
	"fmt"
	"math/rand"

	"github.com/kilianp07/clinicflow/core/model"
)

// Score weights a simulation the way parameter tuning ranks candidates.
func Score(r *SimulationResult) float64 {
	return r.AvgDelayMinutes + 0.5*r.AvgIdleMinutes + 60*r.OvertimeProbability
}

// Candidate is a named parameter set.
type Candidate struct {
	Name   string
	Params model.SchedulerParams
}

// ParameterGrid returns base followed by its fixed variants.
func ParameterGrid(base model.SchedulerParams) []Candidate {
	grid := []Candidate{{Name: "base", Params: base.Clone()}}
	for _, q := range []float64{0.5, 0.95} {
		p := base.Clone()
		p.Quantile = q
		grid = append(grid, Candidate{Name: fmt.Sprintf("quantile_%.2f", q), Params: p})
	}
	for _, m := range []float64{0.3, 0.8, 1.2} {
		p := base.Clone()
		p.BufferMultiplier = m
		grid = append(grid, Candidate{Name: fmt.Sprintf("buffer_%.1f", m), Params: p})
	}
	return grid
}

// Trial is the outcome of one candidate.
type Trial struct {
	Name     string                   `json:"name"`
	Params   model.SchedulerParams    `json:"params"`
	Score    float64                  `json:"score"`
	Result   *SimulationResult        `json:"result"`
	Schedule *model.OptimizedSchedule `json:"-"`
}

// TuningResult ranks the grid. Ties go to the earlier candidate.
type TuningResult struct {
	BestName   string                `json:"best_name"`
	BestParams model.SchedulerParams `json:"best_params"`
	BestScore  float64               `json:"best_score"`
	Results    []Trial               `json:"results"`
}

// OptimizeParameters reoptimizes sampleState under each grid candidate and
// simulates the result. Every candidate sees the same random draws.
func (s *Simulator) OptimizeParameters(sampleState *model.SchedulerState, scenarios int) (*TuningResult, error) {
	if sampleState == nil || sampleState.DoctorConfig == nil {
		return nil, &model.ValidationError{Field: "state", Reason: "doctor config is required"}
	}
	if scenarios < 1 {
		return nil, &model.ValidationError{Field: "scenarios", Reason: "must be at least 1"}
	}

	s.mu.Lock()
	seed := s.rng.Int63()
	s.mu.Unlock()
	base := s.optimizer

	out := &TuningResult{}
	for i, c := range ParameterGrid(base.Params()) {
		opt, err := base.WithParams(c.Params)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Name, err)
		}
		sched, err := opt.Reoptimize(sampleState.Clone(), nil)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Name, err)
		}
		res := run(sched, sampleState, opt.Params(), scenarios, rand.New(rand.NewSource(seed)))
		trial := Trial{Name: c.Name, Params: opt.Params(), Score: Score(res), Result: res, Schedule: sched}
		out.Results = append(out.Results, trial)
		if i == 0 || trial.Score < out.BestScore {
			out.BestName, out.BestParams, out.BestScore = trial.Name, trial.Params, trial.Score
		}
	}
	s.log.Infow("parameter search finished", map[string]any{
		"doctor_id":  sampleState.DoctorID,
		"candidates": len(out.Results),
		"best":       out.BestName,
		"best_score": out.BestScore,
	})
	return out, nil
}
