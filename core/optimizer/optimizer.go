package optimizer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/clinicflow/core/logger"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/prediction"
)

const (
	maxRefinementIterations = 10
	costEpsilon             = 1e-9
)

// Optimizer builds consultation orders for a single doctor. It never mutates
// the state it is given.
type Optimizer struct {
	predictor prediction.Predictor
	log       logger.Logger

	mu     sync.RWMutex
	params model.SchedulerParams
}

// New creates an Optimizer. Zero params fields take their defaults.
func New(p prediction.Predictor, params model.SchedulerParams, log logger.Logger) (*Optimizer, error) {
	if p == nil {
		return nil, &model.ConfigurationError{Component: "optimizer", Missing: "predictor"}
	}
	if log == nil {
		return nil, &model.ConfigurationError{Component: "optimizer", Missing: "logger"}
	}
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{predictor: p, log: log, params: params}, nil
}

// Params returns a copy of the current parameters.
func (o *Optimizer) Params() model.SchedulerParams {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.params.Clone()
}

// SetParams replaces the parameters after validation.
func (o *Optimizer) SetParams(p model.SchedulerParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.params = p.Clone()
	o.mu.Unlock()
	return nil
}

// WithParams returns an Optimizer sharing the predictor but using p.
func (o *Optimizer) WithParams(p model.SchedulerParams) (*Optimizer, error) {
	return New(o.predictor, p, o.log)
}

// Predictor exposes the predictor used to refresh distributions.
func (o *Optimizer) Predictor() prediction.Predictor { return o.predictor }

// Reoptimize computes a new schedule from a state snapshot and the event
// that triggered the pass, which may be nil. Changes are reported against
// the snapshot's queue.
func (o *Optimizer) Reoptimize(state *model.SchedulerState, trigger *model.SchedulerEvent) (*model.OptimizedSchedule, error) {
	var previous []model.Patient
	if state != nil {
		previous = state.ScheduledQueue
	}
	return o.ReoptimizeFrom(state, trigger, previous)
}

// ReoptimizeFrom is Reoptimize with changes reported against previous, the
// order last published. Callers that fold events into the state before the
// pass use it so that insertions and removals show up in the diff.
func (o *Optimizer) ReoptimizeFrom(state *model.SchedulerState, trigger *model.SchedulerEvent, previous []model.Patient) (*model.OptimizedSchedule, error) {
	if err := validateState(state); err != nil {
		return nil, err
	}
	params := o.Params()

	working := make([]model.Patient, 0, len(state.ScheduledQueue)+1)
	for _, p := range state.ScheduledQueue {
		working = append(working, o.refresh(p, state, params))
	}
	working = o.applyTrigger(working, trigger, state, params)

	var emergencies, others []model.Patient
	for _, p := range working {
		if p.Priority.IsEmergency() {
			emergencies = append(emergencies, p)
		} else {
			others = append(others, p)
		}
	}
	sortEmergencies(emergencies)
	sortCandidates(others)

	from := StartTime(state)
	e := evaluator{from: from, cfg: state.DoctorConfig, params: params}

	seq := append([]model.Patient(nil), emergencies...)
	fixed := len(emergencies)
	for _, c := range others {
		seq = e.bestInsertion(seq, fixed, c)
	}
	seq = e.refine(seq, fixed)

	replay := Walk(e.slots(seq), from, state.DoctorConfig, params)
	sched := &model.OptimizedSchedule{
		DoctorID:            state.DoctorID,
		GeneratedAt:         state.CurrentTime,
		Sequence:            seq,
		Timeline:            buildTimeline(replay),
		ChangesFromPrevious: Diff(previous, seq),
	}
	sched.Metrics = buildMetrics(replay, sched.Timeline, state.DoctorConfig, params)
	if trigger != nil {
		sched.Trigger = trigger.Type
	}

	o.log.Debugw("schedule optimized", map[string]any{
		"doctor_id":   state.DoctorID,
		"patients":    len(seq),
		"emergencies": fixed,
		"total_cost":  sched.Metrics.TotalCost,
		"changes":     len(sched.ChangesFromPrevious),
	})
	return sched, nil
}

// refresh resolves the ETA and duration distributions of a patient and
// escalates arrived patients who waited too long.
func (o *Optimizer) refresh(p model.Patient, state *model.SchedulerState, params model.SchedulerParams) model.Patient {
	p = p.Clone()
	var eta, dur model.QuantileDistribution
	if p.ETA != nil {
		eta = *p.ETA
	} else {
		eta = o.predictor.PredictArrivalDistribution(p, params.TrafficMultiplier)
	}
	if p.Duration != nil {
		dur = *p.Duration
	} else {
		dur = o.predictor.PredictDurationDistribution(p)
	}
	eta = eta.Shift(p.TrafficDelayMinutes).Normalize()
	dur = dur.Normalize()
	p.ETA, p.Duration = &eta, &dur

	if p.Arrived && !p.Priority.IsEmergency() && !p.ArrivedAt.IsZero() {
		p.Priority = prediction.ReclassifyPriority(p.Priority, model.MinutesBetween(p.ArrivedAt, state.CurrentTime))
	}
	return p
}

// applyTrigger folds the event into the working list. Effects already
// applied to the state by the engine are not applied twice.
func (o *Optimizer) applyTrigger(working []model.Patient, ev *model.SchedulerEvent, state *model.SchedulerState, params model.SchedulerParams) []model.Patient {
	if ev == nil {
		return working
	}
	idx := -1
	for i := range working {
		if working[i].ID == ev.PatientID {
			idx = i
			break
		}
	}
	switch ev.Type {
	case model.EventEmergencyInsert:
		if ev.Patient == nil {
			return working
		}
		for i := range working {
			if working[i].ID == ev.Patient.ID {
				if !working[i].Priority.IsEmergency() {
					working[i] = o.refresh(working[i].Promote(*ev.Patient), state, params)
				}
				return working
			}
		}
		p := ev.Patient.Clone()
		p.Priority = model.PriorityEmergency
		if p.ScheduledTime.IsZero() {
			p.ScheduledTime = ev.Timestamp
		}
		return append([]model.Patient{o.refresh(p, state, params)}, working...)
	case model.EventPatientArrival:
		if idx >= 0 && !working[idx].Arrived {
			working[idx].Arrived = true
			working[idx].ArrivedAt = arrivalTime(*ev)
		}
	case model.EventTrafficUpdate:
		if idx >= 0 && working[idx].TrafficEventID != ev.ID {
			eta := working[idx].ETA.Shift(ev.DelayMinutes).Normalize()
			working[idx].ETA = &eta
			working[idx].TrafficEventID = ev.ID
		}
	case model.EventNoShow, model.EventConsultationEnd, model.EventConsultationStart:
		if idx >= 0 {
			working = append(working[:idx:idx], working[idx+1:]...)
		}
	}
	return working
}

func arrivalTime(ev model.SchedulerEvent) time.Time {
	if !ev.ArrivalTime.IsZero() {
		return ev.ArrivalTime
	}
	return ev.Timestamp
}

func validateState(state *model.SchedulerState) error {
	if state == nil {
		return &model.ValidationError{Field: "state", Reason: "is nil"}
	}
	if state.DoctorConfig == nil {
		return &model.ValidationError{Field: "doctor_config", Reason: "is required"}
	}
	if !state.DoctorConfig.ClinicEnd.After(state.DoctorConfig.ClinicStart) {
		return &model.ValidationError{Field: "doctor_config", Reason: "clinic end must be after clinic start"}
	}
	seen := make(map[string]struct{}, len(state.ScheduledQueue))
	for i, p := range state.ScheduledQueue {
		if p.ID == "" {
			return &model.ValidationError{Field: "scheduled_queue", Reason: fmt.Sprintf("patient at position %d has no id", i)}
		}
		if _, dup := seen[p.ID]; dup {
			return &model.ValidationError{Field: "scheduled_queue", Reason: fmt.Sprintf("duplicate patient %s", p.ID)}
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// sortEmergencies puts arrived patients first, then the earliest expected.
func sortEmergencies(ps []model.Patient) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Arrived != ps[j].Arrived {
			return ps[i].Arrived
		}
		return ps[i].PredictedArrival(0.8).Before(ps[j].PredictedArrival(0.8))
	})
}

// sortCandidates orders insertion candidates by urgency then expected arrival.
func sortCandidates(ps []model.Patient) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if ta, tb := a.PredictedArrival(0.8), b.PredictedArrival(0.8); !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.ScheduledTime.Before(b.ScheduledTime)
	})
}
