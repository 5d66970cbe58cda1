package optimizer

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/prediction"
	"github.com/kilianp07/clinicflow/infra/logger"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func dist(p50, p80, p95 float64) *model.QuantileDistribution {
	return &model.QuantileDistribution{P50: p50, P80: p80, P95: p95}
}

func patient(id string, scheduled time.Time) model.Patient {
	return model.Patient{
		ID:            id,
		Priority:      model.PriorityNormal,
		ScheduledTime: scheduled,
		ETA:           dist(0, 0, 0),
		Duration:      dist(20, 25, 35),
	}
}

func newState(now time.Time, ps ...model.Patient) *model.SchedulerState {
	return &model.SchedulerState{
		CurrentTime:    now,
		DoctorID:       "dr-1",
		ScheduledQueue: ps,
		DoctorConfig:   &model.DoctorConfig{ClinicStart: at(8, 0), ClinicEnd: at(17, 0)},
	}
}

func newOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	o, err := New(prediction.MockPredictor{Duration: *dist(20, 25, 35)}, model.DefaultSchedulerParams(), logger.NopLogger{})
	require.NoError(t, err)
	return o
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, model.SchedulerParams{}, logger.NopLogger{})
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	_, err = New(prediction.MockPredictor{}, model.SchedulerParams{}, nil)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestReoptimizeValidation(t *testing.T) {
	o := newOptimizer(t)
	_, err := o.Reoptimize(nil, nil)
	assert.True(t, errors.Is(err, model.ErrValidation))

	s := newState(at(8, 0))
	s.DoctorConfig = nil
	_, err = o.Reoptimize(s, nil)
	assert.True(t, errors.Is(err, model.ErrValidation))

	s = newState(at(8, 0), patient("a", at(9, 0)), patient("a", at(9, 10)))
	_, err = o.Reoptimize(s, nil)
	assert.True(t, errors.Is(err, model.ErrValidation))

	s = newState(at(8, 0))
	s.DoctorConfig.ClinicEnd = s.DoctorConfig.ClinicStart
	_, err = o.Reoptimize(s, nil)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestEmptyQueue(t *testing.T) {
	o := newOptimizer(t)
	sched, err := o.Reoptimize(newState(at(8, 0)), nil)
	require.NoError(t, err)
	assert.Empty(t, sched.Sequence)
	assert.Zero(t, sched.Metrics.OvertimeMinutes)
	assert.Equal(t, 1.0, sched.Metrics.EmergencySLACompliance)
}

// Three identical patients ten minutes apart: each consultation takes
// 25 minutes plus a 5 minute buffer, so starts cascade.
func TestDeterministicQueuePreservesOrder(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(8, 0), patient("p1", at(9, 0)), patient("p2", at(9, 10)), patient("p3", at(9, 20)))
	sched, err := o.Reoptimize(s, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2", "p3"}, sched.IDs())
	assert.Zero(t, sched.Metrics.OvertimeMinutes)
	prevEnd := time.Time{}
	for i, e := range sched.Timeline {
		want := s.ScheduledQueue[i].ScheduledTime
		if prevEnd.After(want) {
			want = prevEnd
		}
		assert.Equal(t, want, e.PlannedStart, "patient %s", e.PatientID)
		assert.Equal(t, 5.0, e.BufferMinutes)
		assert.Equal(t, e.PlannedStart.Add(30*time.Minute), e.PlannedEnd)
		prevEnd = e.PlannedEnd
	}
	assert.Empty(t, sched.ChangesFromPrevious)
}

func TestDeterministicQueueStartsOnTime(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(8, 0), patient("p1", at(9, 0)), patient("p2", at(10, 0)), patient("p3", at(11, 0)))
	sched, err := o.Reoptimize(s, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2", "p3"}, sched.IDs())
	for i, e := range sched.Timeline {
		assert.Equal(t, s.ScheduledQueue[i].ScheduledTime, e.PlannedStart)
		assert.Zero(t, e.WaitMinutes)
	}
	assert.Zero(t, sched.Metrics.OvertimeMinutes)
	assert.Zero(t, sched.Metrics.TotalDelayMinutes)
}

func TestEmergencyInsertTrigger(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(9, 0), patient("p1", at(9, 0)), patient("p2", at(9, 10)), patient("p3", at(9, 20)))
	before, err := o.Reoptimize(s, nil)
	require.NoError(t, err)

	em := model.Patient{ID: "em", ETA: dist(0, 0, 0), Duration: dist(20, 25, 35)}
	ev := model.NewEvent(model.EventEmergencyInsert, em.ID, at(9, 0))
	ev.Patient = &em
	after, err := o.Reoptimize(s, &ev)
	require.NoError(t, err)

	require.Len(t, after.Sequence, 4)
	assert.Equal(t, "em", after.Sequence[0].ID)
	assert.Equal(t, model.PriorityEmergency, after.Sequence[0].Priority)
	emSlot := after.Timeline[0].DurationMinutes + after.Timeline[0].BufferMinutes
	for i, e := range before.Timeline {
		shifted := after.Timeline[i+1]
		require.Equal(t, e.PatientID, shifted.PatientID)
		assert.GreaterOrEqual(t, shifted.PlannedStart.Sub(e.PlannedStart).Minutes(), emSlot)
	}
	assert.Equal(t, model.ChangeAdded, after.ChangesFromPrevious[0].Kind)
	assert.Contains(t, after.ChangesFromPrevious[0].Note, "emergency")
	assert.Len(t, s.ScheduledQueue, 3, "state must not be mutated")
}

func TestEmergencyInsertPromotesQueuedPatient(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(9, 0), patient("p1", at(9, 0)), patient("p2", at(9, 10)), patient("p3", at(9, 20)))

	update := model.Patient{ID: "p3", ReasonCode: "chest_pain", Duration: dist(30, 35, 40)}
	ev := model.NewEvent(model.EventEmergencyInsert, "p3", at(9, 0))
	ev.Patient = &update
	sched, err := o.Reoptimize(s, &ev)
	require.NoError(t, err)

	require.Len(t, sched.Sequence, 3, "queued patient is not duplicated")
	assert.Equal(t, "p3", sched.Sequence[0].ID)
	assert.Equal(t, model.PriorityEmergency, sched.Sequence[0].Priority)
	assert.Equal(t, "chest_pain", sched.Sequence[0].ReasonCode)
	assert.Equal(t, 35.0, sched.Timeline[0].DurationMinutes)
	assert.Equal(t, model.PriorityNormal, s.ScheduledQueue[2].Priority, "state must not be mutated")
}

func TestReoptimizeFromReportsAgainstPrevious(t *testing.T) {
	o := newOptimizer(t)
	em := patient("em", at(9, 0))
	em.Priority = model.PriorityEmergency
	previous := []model.Patient{patient("p1", at(9, 0)), patient("p2", at(9, 10)), patient("gone", at(9, 20))}
	s := newState(at(9, 0), em, patient("p1", at(9, 0)), patient("p2", at(9, 10)))

	sched, err := o.ReoptimizeFrom(s, nil, previous)
	require.NoError(t, err)
	kinds := map[string]model.ChangeKind{}
	for _, c := range sched.ChangesFromPrevious {
		kinds[c.PatientID] = c.Kind
	}
	assert.Equal(t, map[string]model.ChangeKind{
		"em":   model.ChangeAdded,
		"p1":   model.ChangeMoved,
		"p2":   model.ChangeMoved,
		"gone": model.ChangeRemoved,
	}, kinds)

	same, err := o.Reoptimize(s, nil)
	require.NoError(t, err)
	assert.Empty(t, same.ChangesFromPrevious)
}

func TestEmergenciesOrderedArrivedFirst(t *testing.T) {
	o := newOptimizer(t)
	e1 := patient("e1", at(9, 0))
	e1.Priority = model.PriorityEmergency
	e2 := patient("e2", at(9, 30))
	e2.Priority = model.PriorityEmergency
	e2.Arrived = true
	e2.ArrivedAt = at(9, 25)
	n := patient("n", at(8, 30))
	sched, err := o.Reoptimize(newState(at(9, 0), n, e1, e2), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e1", "n"}, sched.IDs())
	assert.Equal(t, 2, sched.Metrics.EmergencyCount)
}

func TestTriggerEffects(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(8, 0), patient("p1", at(9, 0)), patient("p2", at(10, 0)))

	noShow := model.NewEvent(model.EventNoShow, "p1", at(9, 5))
	sched, err := o.Reoptimize(s, &noShow)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, sched.IDs())
	require.Len(t, sched.ChangesFromPrevious, 2)

	traffic := model.NewEvent(model.EventTrafficUpdate, "p2", at(9, 0))
	traffic.DelayMinutes = 15
	sched, err = o.Reoptimize(s, &traffic)
	require.NoError(t, err)
	assert.Equal(t, at(10, 15), sched.Timeline[1].PlannedStart)

	// already folded into the state by the engine
	s.ScheduledQueue[1].TrafficDelayMinutes = 15
	s.ScheduledQueue[1].TrafficEventID = traffic.ID
	sched, err = o.Reoptimize(s, &traffic)
	require.NoError(t, err)
	assert.Equal(t, at(10, 15), sched.Timeline[1].PlannedStart)

	arrival := model.NewEvent(model.EventPatientArrival, "p1", at(8, 40))
	sched, err = o.Reoptimize(s, &arrival)
	require.NoError(t, err)
	assert.Equal(t, at(8, 40), sched.Timeline[0].PlannedStart)
	assert.True(t, sched.Sequence[0].Arrived)
}

func TestLongWaitEscalatesPriority(t *testing.T) {
	o := newOptimizer(t)
	p := patient("p1", at(9, 0))
	p.Priority = model.PriorityLow
	p.Arrived = true
	p.ArrivedAt = at(9, 0)
	sched, err := o.Reoptimize(newState(at(10, 30), p), nil)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityNormal, sched.Sequence[0].Priority)
}

func TestBreakPushesConsultation(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(11, 0), patient("p1", at(11, 50)))
	s.DoctorConfig.Breaks = []model.BreakInterval{{Start: at(12, 0), End: at(13, 0)}}
	sched, err := o.Reoptimize(s, nil)
	require.NoError(t, err)
	assert.Equal(t, at(13, 0), sched.Timeline[0].PlannedStart)
	assert.Equal(t, 70.0, sched.Timeline[0].WaitMinutes)
}

func TestCurrentConsultationDelaysStart(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(9, 0), patient("p1", at(9, 0)))
	s.CurrentConsultation = &model.Consultation{PatientID: "x", StartedAt: at(8, 50), EstimatedEnd: at(9, 20)}
	sched, err := o.Reoptimize(s, nil)
	require.NoError(t, err)
	assert.Equal(t, at(9, 20), sched.Timeline[0].PlannedStart)
}

func TestOvertimeReported(t *testing.T) {
	o := newOptimizer(t)
	s := newState(at(16, 0), patient("p1", at(16, 0)), patient("p2", at(16, 0)), patient("p3", at(16, 0)))
	sched, err := o.Reoptimize(s, nil)
	require.NoError(t, err)
	assert.InDelta(t, 30, sched.Metrics.OvertimeMinutes, 1e-9)
	assert.Equal(t, at(17, 30), sched.Metrics.ProjectedEnd)
}

func TestPredictorFillsMissingDistributions(t *testing.T) {
	pred := prediction.MockPredictor{Arrival: model.Point(10), Duration: model.Point(15)}
	o, err := New(pred, model.DefaultSchedulerParams(), logger.NopLogger{})
	require.NoError(t, err)
	p := model.Patient{ID: "p1", ScheduledTime: at(9, 0)}
	s := newState(at(8, 0), p)
	sched, err := o.Reoptimize(s, nil)
	require.NoError(t, err)
	assert.Equal(t, at(9, 10), sched.Timeline[0].PlannedStart)
	assert.Equal(t, 15.0, sched.Timeline[0].DurationMinutes)
	assert.Nil(t, s.ScheduledQueue[0].ETA, "state patient must keep nil distributions")
}

func TestRefineSwapsAdjacentPair(t *testing.T) {
	params := model.DefaultSchedulerParams()
	e := evaluator{from: at(9, 0), cfg: &model.DoctorConfig{ClinicStart: at(8, 0), ClinicEnd: at(17, 0)}, params: params}
	late := patient("late", at(10, 0))
	early := patient("early", at(9, 0))
	out := e.refine([]model.Patient{late, early}, 0)
	assert.Equal(t, "early", out[0].ID)

	// the fixed prefix is never touched
	out = e.refine([]model.Patient{late, early}, 1)
	assert.Equal(t, "late", out[0].ID)
}

func TestSequenceInvariantsRandomized(t *testing.T) {
	o := newOptimizer(t)
	params := o.Params()
	rng := rand.New(rand.NewSource(3))
	prios := []model.Priority{model.PriorityEmergency, model.PriorityHigh, model.PriorityNormal, model.PriorityLow}
	for round := 0; round < 25; round++ {
		var ps []model.Patient
		n := 1 + rng.Intn(12)
		for i := 0; i < n; i++ {
			p50 := 5 + rng.Float64()*30
			p := model.Patient{
				ID:            fmt.Sprintf("r%d-%d", round, i),
				Priority:      prios[rng.Intn(len(prios))],
				ScheduledTime: at(8, 0).Add(time.Duration(rng.Intn(480)) * time.Minute),
				DistanceKM:    rng.Float64() * 20,
				Duration:      dist(p50, p50+rng.Float64()*10, p50+10+rng.Float64()*40),
			}
			ps = append(ps, p)
		}
		s := newState(at(8, 0), ps...)
		sched, err := o.Reoptimize(s, nil)
		require.NoError(t, err)

		require.Len(t, sched.Sequence, n)
		seen := map[string]bool{}
		for _, p := range sched.Sequence {
			require.False(t, seen[p.ID], "duplicate %s", p.ID)
			seen[p.ID] = true
		}
		for _, p := range ps {
			require.True(t, seen[p.ID], "missing %s", p.ID)
		}
		nonEmergencySeen := false
		for _, p := range sched.Sequence {
			if !p.Priority.IsEmergency() {
				nonEmergencySeen = true
			} else {
				require.False(t, nonEmergencySeen, "emergency %s after a non-emergency", p.ID)
			}
		}
		for _, e := range sched.Timeline {
			require.GreaterOrEqual(t, e.BufferMinutes, params.MinBufferMinutes)
			require.LessOrEqual(t, e.BufferMinutes, params.MaxBufferMinutes)
		}
	}
}

func TestDiffNotes(t *testing.T) {
	a, b, c := patient("a", at(9, 0)), patient("b", at(9, 0)), patient("c", at(9, 0))
	b.Name = "Bea"
	changes := Diff([]model.Patient{a, b}, []model.Patient{b, c})
	require.Len(t, changes, 3)
	assert.Equal(t, model.ChangeMoved, changes[0].Kind)
	assert.Equal(t, "Bea (b) moved up from position 2 to 1", changes[0].Note)
	assert.Equal(t, model.ChangeAdded, changes[1].Kind)
	assert.Equal(t, model.ChangeRemoved, changes[2].Kind)
	assert.Equal(t, "a", changes[2].PatientID)
}

func TestSetParamsValidates(t *testing.T) {
	o := newOptimizer(t)
	p := o.Params()
	p.Quantile = 0
	assert.Error(t, o.SetParams(p))
	p.Quantile = 0.95
	require.NoError(t, o.SetParams(p))
	assert.Equal(t, 0.95, o.Params().Quantile)
}
