package simulator

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/clinicflow/core/logger"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/optimizer"
	"github.com/kilianp07/clinicflow/core/prediction"
)

// DefaultScenarios is used by callers that do not pick a scenario count.
const DefaultScenarios = 100

// SimulationResult aggregates the replays of one schedule. Delay figures are
// computed over the per-scenario average delay.
type SimulationResult struct {
	Scenarios           int     `json:"scenarios"`
	AvgDelayMinutes     float64 `json:"avg_delay_minutes"`
	P50DelayMinutes     float64 `json:"p50_delay_minutes"`
	P95DelayMinutes     float64 `json:"p95_delay_minutes"`
	DelayStdDevMinutes  float64 `json:"delay_std_dev_minutes"`
	MaxDelayMinutes     float64 `json:"max_delay_minutes"`
	AvgIdleMinutes      float64 `json:"avg_idle_minutes"`
	OvertimeProbability float64 `json:"overtime_probability"`
	AvgOvertimeMinutes  float64 `json:"avg_overtime_minutes"`
	AvgSLAViolations    float64 `json:"avg_sla_violations"`
	AvgNoShows          float64 `json:"avg_no_shows"`
	// DelaySamples holds the average delay of each scenario.
	DelaySamples []float64 `json:"delay_samples"`
	// PatientAvgDelay is each patient's mean delay over the scenarios in
	// which they showed up.
	PatientAvgDelay map[string]float64 `json:"patient_avg_delay"`
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithSeed seeds the simulator's generator.
func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithRand uses rng for sampling. The simulator serializes access to it.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// Simulator runs Monte Carlo replays. It only reads the schedules and states
// it is given.
type Simulator struct {
	optimizer *optimizer.Optimizer
	log       logger.Logger

	// mu guards rng.
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Simulator. Without a seed option the generator is seeded
// with prediction.SyntheticSeed so that runs are reproducible.
func New(opt *optimizer.Optimizer, log logger.Logger, opts ...Option) (*Simulator, error) {
	if opt == nil {
		return nil, &model.ConfigurationError{Component: "simulator", Missing: "optimizer"}
	}
	if log == nil {
		return nil, &model.ConfigurationError{Component: "simulator", Missing: "logger"}
	}
	s := &Simulator{optimizer: opt, log: log, rng: rand.New(rand.NewSource(prediction.SyntheticSeed))}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// RunMonteCarloSimulation replays schedule scenarios times from state's
// current clock.
func (s *Simulator) RunMonteCarloSimulation(schedule *model.OptimizedSchedule, state *model.SchedulerState, scenarios int) (*SimulationResult, error) {
	if err := validate(schedule, state, scenarios); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res := run(schedule, state, s.optimizer.Params(), scenarios, s.rng)
	s.log.Debugw("simulation finished", map[string]any{
		"doctor_id":   schedule.DoctorID,
		"scenarios":   scenarios,
		"avg_delay":   res.AvgDelayMinutes,
		"p95_delay":   res.P95DelayMinutes,
		"p_overtime":  res.OvertimeProbability,
		"avg_no_show": res.AvgNoShows,
	})
	return res, nil
}

func validate(schedule *model.OptimizedSchedule, state *model.SchedulerState, scenarios int) error {
	if schedule == nil {
		return &model.ValidationError{Field: "schedule", Reason: "is nil"}
	}
	if state == nil || state.DoctorConfig == nil {
		return &model.ValidationError{Field: "state", Reason: "doctor config is required"}
	}
	if scenarios < 1 {
		return &model.ValidationError{Field: "scenarios", Reason: "must be at least 1"}
	}
	return nil
}

func run(schedule *model.OptimizedSchedule, state *model.SchedulerState, params model.SchedulerParams, scenarios int, rng *rand.Rand) *SimulationResult {
	from := optimizer.StartTime(state)
	res := &SimulationResult{
		Scenarios:       scenarios,
		DelaySamples:    make([]float64, 0, scenarios),
		PatientAvgDelay: make(map[string]float64, len(schedule.Sequence)),
	}
	idle := make([]float64, 0, scenarios)
	overtime := make([]float64, 0, scenarios)
	var overtimeRuns, violations, noShows float64
	seen := make(map[string]int, len(schedule.Sequence))

	// Draws are made in patient ID order so that two orderings of the same
	// patients see the same noise.
	ids := schedule.IDs()
	sort.Strings(ids)
	noise := make(map[string]draw, len(ids))
	slots := make([]optimizer.Slot, len(schedule.Sequence))
	for i := 0; i < scenarios; i++ {
		for _, id := range ids {
			noise[id] = draw{eta: rng.Float64(), duration: rng.Float64(), show: rng.Float64()}
		}
		for j, p := range schedule.Sequence {
			slots[j] = sample(p, params, noise[p.ID])
		}
		r := optimizer.Walk(slots, from, state.DoctorConfig, params)

		res.DelaySamples = append(res.DelaySamples, r.AvgDelay())
		idle = append(idle, r.TotalIdle)
		overtime = append(overtime, r.Overtime)
		if r.Overtime > 0 {
			overtimeRuns++
		}
		violations += float64(r.SLAViolations)
		noShows += float64(r.NoShows)
		for _, v := range r.Visits {
			if v.Skip {
				continue
			}
			res.PatientAvgDelay[v.Patient.ID] += v.Delay
			seen[v.Patient.ID]++
		}
	}
	for id, n := range seen {
		res.PatientAvgDelay[id] /= float64(n)
	}

	n := float64(scenarios)
	res.AvgDelayMinutes = stat.Mean(res.DelaySamples, nil)
	if scenarios > 1 {
		res.DelayStdDevMinutes = stat.StdDev(res.DelaySamples, nil)
	}
	sorted := append([]float64(nil), res.DelaySamples...)
	sort.Float64s(sorted)
	res.P50DelayMinutes = prediction.Quantile(sorted, 0.5)
	res.P95DelayMinutes = prediction.Quantile(sorted, 0.95)
	res.MaxDelayMinutes = floats.Max(sorted)
	res.AvgIdleMinutes = floats.Sum(idle) / n
	res.AvgOvertimeMinutes = floats.Sum(overtime) / n
	res.OvertimeProbability = overtimeRuns / n
	res.AvgSLAViolations = violations / n
	res.AvgNoShows = noShows / n
	return res
}

// draw holds the uniforms consumed by one patient in one scenario.
type draw struct {
	eta, duration, show float64
}

// sample realizes p from the uniforms in u. Arrived patients keep their
// actual arrival time.
func sample(p model.Patient, params model.SchedulerParams, u draw) optimizer.Slot {
	var dur model.QuantileDistribution
	if p.Duration != nil {
		dur = *p.Duration
	}
	slot := optimizer.Slot{
		Patient: p,
		Buffer:  optimizer.BufferMinutes(dur, params),
	}
	switch {
	case p.Arrived:
		slot.Arrival = p.PredictedArrival(params.Quantile)
	case p.ETA != nil:
		slot.Arrival = p.ScheduledTime.Add(model.Minutes(p.ETA.At(u.eta)))
	default:
		slot.Arrival = p.ScheduledTime
	}
	slot.Duration = math.Max(0, dur.At(u.duration))
	if !p.Arrived && p.NoShowProbability > 0 && u.show < p.NoShowProbability {
		slot.Skip = true
	}
	return slot
}
