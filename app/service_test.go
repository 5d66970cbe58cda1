package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/clinicflow/config"
	"github.com/kilianp07/clinicflow/core/engine"
	coremetrics "github.com/kilianp07/clinicflow/core/metrics"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/prediction"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type completion struct {
	reason, doctor string
	minutes        float64
}

type recordingObserver struct {
	mu  sync.Mutex
	got []completion
}

func (r *recordingObserver) Observe(reason, doctor string, minutes float64) {
	r.mu.Lock()
	r.got = append(r.got, completion{reason, doctor, minutes})
	r.mu.Unlock()
}

func (r *recordingObserver) all() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.got...)
}

type recordingSink struct {
	coremetrics.NopSink
	mu          sync.Mutex
	schedules   []coremetrics.ScheduleRecord
	simulations []coremetrics.SimulationRecord
}

func (r *recordingSink) RecordSchedule(rec coremetrics.ScheduleRecord) error {
	r.mu.Lock()
	r.schedules = append(r.schedules, rec)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) RecordSimulation(rec coremetrics.SimulationRecord) error {
	r.mu.Lock()
	r.simulations = append(r.simulations, rec)
	r.mu.Unlock()
	return nil
}

func fixed(p50, p80, p95 float64) *model.QuantileDistribution {
	return &model.QuantileDistribution{P50: p50, P80: p80, P95: p95}
}

func patient(id string, scheduled time.Time) model.Patient {
	return model.Patient{
		ID:            id,
		Priority:      model.PriorityNormal,
		ScheduledTime: scheduled,
		ReasonCode:    "follow_up",
		ETA:           fixed(0, 0, 0),
		Duration:      fixed(20, 25, 35),
	}
}

func scenarioA() []model.Patient {
	return []model.Patient{patient("a", at(9, 0)), patient("b", at(9, 10)), patient("c", at(9, 20))}
}

func newService(t *testing.T, clock *fakeClock, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithClock(clock.Now),
		WithPredictor(prediction.MockPredictor{Duration: *fixed(20, 25, 35)}),
		WithClinicHours(config.ClinicConfig{Timezone: "UTC", Breaks: []config.BreakConfig{}}),
		WithEngineConfig(engine.Config{TickInterval: 10 * time.Millisecond}),
		WithSeed(7),
	}
	svc := NewService(append(base, opts...)...)
	require.NoError(t, svc.Initialize(context.Background(), nil))
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func startOf(t *testing.T, s *model.OptimizedSchedule, id string) time.Time {
	t.Helper()
	for _, e := range s.Timeline {
		if e.PatientID == id {
			return e.PlannedStart
		}
	}
	t.Fatalf("patient %s not in timeline", id)
	return time.Time{}
}

func ids(ps []model.Patient) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestMethodsRequireInitialize(t *testing.T) {
	svc := NewService()
	svc.SetCallbacks(engine.Callbacks{})

	notInit := func(err error) {
		t.Helper()
		assert.True(t, errors.Is(err, model.ErrNotInitialized), "got %v", err)
		var nie *model.NotInitializedError
		assert.True(t, errors.As(err, &nie))
	}
	_, err := svc.OptimizeSchedule("dr-1", scenarioA(), at(8, 0))
	notInit(err)
	_, err = svc.OptimizeScheduleWithConfig("dr-1", nil, at(8, 0), model.DefaultDoctorConfig(day))
	notInit(err)
	_, err = svc.HandlePatientArrival("a", time.Time{})
	notInit(err)
	_, err = svc.HandleTrafficUpdate("a", 5)
	notInit(err)
	_, err = svc.HandleEmergencyInsert(model.Patient{ID: "e"})
	notInit(err)
	_, err = svc.HandleConsultationStart("a", 10)
	notInit(err)
	_, err = svc.HandleConsultationEnd("a", 10)
	notInit(err)
	_, err = svc.HandleNoShow("a")
	notInit(err)
	_, err = svc.SubmitEvent(model.SchedulerEvent{})
	notInit(err)
	_, err = svc.ForceReoptimization()
	notInit(err)
	_, err = svc.RunSimulation(nil, nil, 0)
	notInit(err)
	_, err = svc.AnalyzeRisk(nil, nil, 0)
	notInit(err)
	_, err = svc.OptimizeParameters(nil, 0)
	notInit(err)
	_, err = svc.UpdateParameters(model.ParamsPatch{})
	notInit(err)
	_, err = svc.GetSystemStats()
	notInit(err)
	_, err = svc.ClassifyPriority(nil, 30, nil)
	notInit(err)
	_, err = svc.State()
	notInit(err)
	_, err = svc.Schedule()
	notInit(err)
	notInit(svc.Stop())
}

func TestStopMakesServiceUnusable(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := newService(t, clock)
	require.NoError(t, svc.Stop())
	_, err := svc.GetSystemStats()
	assert.True(t, errors.Is(err, model.ErrNotInitialized))

	require.NoError(t, svc.Initialize(context.Background(), nil))
	_, err = svc.GetSystemStats()
	assert.NoError(t, err)
}

func TestInitializeWithSyntheticHistory(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := NewService(WithClock(clock.Now))
	require.NoError(t, svc.Initialize(context.Background(), nil))
	defer func() { _ = svc.Stop() }()
	require.NoError(t, svc.Initialize(context.Background(), nil), "second initialize is a no-op")

	stats, err := svc.GetSystemStats()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDoctorID, stats.DoctorID)
	assert.True(t, stats.Running)
	assert.Equal(t, model.DefaultSchedulerParams().Quantile, stats.Params.Quantile)

	p := model.Patient{ID: "x", ScheduledTime: at(10, 0), ReasonCode: "checkup", DistanceKM: 5}
	sched, err := svc.OptimizeSchedule("", []model.Patient{p}, at(8, 0))
	require.NoError(t, err)
	require.Len(t, sched.Timeline, 1)
	assert.Greater(t, sched.Timeline[0].DurationMinutes, 0.0)
}

func TestOptimizeScheduleDeterministicQueue(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	sink := &recordingSink{}
	svc := newService(t, clock, WithMetricsSink(sink))

	sched, err := svc.OptimizeSchedule("dr-1", scenarioA(), at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(sched.Sequence))
	assert.True(t, startOf(t, sched, "a").Equal(at(9, 0)))
	assert.Zero(t, sched.Metrics.OvertimeMinutes)

	state, err := svc.State()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(state.ScheduledQueue))
	current, err := svc.Schedule()
	require.NoError(t, err)
	assert.Same(t, sched, current)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.schedules, 1)
	assert.Equal(t, "initial", sink.schedules[0].Trigger)
}

func TestOptimizeScheduleWithConfigValidates(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := newService(t, clock)
	_, err := svc.OptimizeScheduleWithConfig("dr-1", scenarioA(), at(8, 0), nil)
	assert.True(t, errors.Is(err, model.ErrValidation))

	dc := &model.DoctorConfig{ClinicStart: at(8, 0), ClinicEnd: at(9, 30)}
	sched, err := svc.OptimizeScheduleWithConfig("dr-1", scenarioA(), at(8, 0), dc)
	require.NoError(t, err)
	assert.Greater(t, sched.Metrics.OvertimeMinutes, 0.0)
}

func TestEmergencyPreemptsQueue(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := newService(t, clock, WithEngineConfig(engine.Config{TickInterval: time.Hour}))
	before, err := svc.OptimizeSchedule("dr-1", scenarioA(), at(8, 0))
	require.NoError(t, err)

	updates := make(chan *model.OptimizedSchedule, 4)
	svc.SetCallbacks(engine.Callbacks{OnScheduleUpdated: func(s *model.OptimizedSchedule) { updates <- s }})

	clock.Advance(time.Hour)
	id, err := svc.HandleEmergencyInsert(model.Patient{Name: "walk-in", Duration: fixed(20, 25, 35), ETA: fixed(0, 0, 0)})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var after *model.OptimizedSchedule
	select {
	case after = <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("emergency did not trigger a pass")
	}
	require.NotEmpty(t, after.Sequence)
	assert.Equal(t, id, after.Sequence[0].ID)
	for _, pid := range []string{"a", "b", "c"} {
		shift := startOf(t, after, pid).Sub(startOf(t, before, pid))
		assert.GreaterOrEqual(t, shift, 30*time.Minute, "patient %s", pid)
	}
}

func TestEventsReachTheWorker(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	obs := &recordingObserver{}
	svc := newService(t, clock, WithCompletionObserver(obs))
	_, err := svc.OptimizeSchedule("dr-1", scenarioA(), at(8, 0))
	require.NoError(t, err)

	processed := make(chan model.SchedulerEvent, 8)
	svc.SetCallbacks(engine.Callbacks{OnEventProcessed: func(ev model.SchedulerEvent) { processed <- ev }})

	waitFor := func(typ model.EventType) {
		t.Helper()
		for {
			select {
			case ev := <-processed:
				if ev.Type == typ {
					return
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("%s not processed", typ)
			}
		}
	}

	clock.Advance(55 * time.Minute)
	ok, err := svc.HandlePatientArrival("a", at(8, 55))
	require.NoError(t, err)
	require.True(t, ok)
	waitFor(model.EventPatientArrival)

	clock.Advance(5 * time.Minute)
	ok, err = svc.HandleConsultationStart("a", 0)
	require.NoError(t, err)
	require.True(t, ok)
	waitFor(model.EventConsultationStart)

	clock.Advance(18 * time.Minute)
	ok, err = svc.HandleConsultationEnd("a", 18)
	require.NoError(t, err)
	require.True(t, ok)
	waitFor(model.EventConsultationEnd)

	clock.Advance(5 * time.Minute)
	ok, err = svc.HandleNoShow("b")
	require.NoError(t, err)
	require.True(t, ok)
	waitFor(model.EventNoShow)

	state, err := svc.State()
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(state.ScheduledQueue))
	assert.Nil(t, state.CurrentConsultation)
	assert.Equal(t, []completion{{"follow_up", "dr-1", 18}}, obs.all())

	require.Eventually(t, func() bool {
		stats, err := svc.GetSystemStats()
		return err == nil && stats.EventsProcessed == 4 && stats.Optimizations == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimitedEventIsDropped(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := newService(t, clock)
	_, err := svc.OptimizeSchedule("dr-1", scenarioA(), at(8, 0))
	require.NoError(t, err)
	_, err = svc.ForceReoptimization()
	require.NoError(t, err)

	ok, err := svc.HandleTrafficUpdate("a", 10)
	require.NoError(t, err)
	assert.False(t, ok, "within the reoptimize threshold of the last pass")

	stats, err := svc.GetSystemStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EventsDropped)
	assert.Equal(t, 1, stats.Optimizations)
}

func TestUpdateParameters(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := newService(t, clock)

	q := 0.95
	params, err := svc.UpdateParameters(model.ParamsPatch{Quantile: &q})
	require.NoError(t, err)
	assert.Equal(t, 0.95, params.Quantile)

	bad := 2.0
	_, err = svc.UpdateParameters(model.ParamsPatch{Quantile: &bad})
	assert.True(t, errors.Is(err, model.ErrValidation))

	stats, err := svc.GetSystemStats()
	require.NoError(t, err)
	assert.Equal(t, 0.95, stats.Params.Quantile)
}

func TestRunSimulationAndTuning(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	sink := &recordingSink{}
	svc := newService(t, clock, WithMetricsSink(sink), WithScenarios(30))
	_, err := svc.OptimizeSchedule("dr-1", scenarioA(), at(8, 0))
	require.NoError(t, err)

	res, err := svc.RunSimulation(nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Scenarios)
	sink.mu.Lock()
	require.Len(t, sink.simulations, 1)
	assert.Equal(t, "dr-1", sink.simulations[0].DoctorID)
	sink.mu.Unlock()

	_, err = svc.RunSimulation(nil, nil, -1)
	require.NoError(t, err)

	risk, err := svc.AnalyzeRisk(nil, nil, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, risk.Recommendations)

	tuning, err := svc.OptimizeParameters(nil, 10)
	require.NoError(t, err)
	assert.Len(t, tuning.Results, 6)
	assert.NotEmpty(t, tuning.BestName)
}

func TestClassifyPriority(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := newService(t, clock)
	c, err := svc.ClassifyPriority([]string{"Chest pain since this morning"}, 54, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityEmergency, c.Priority)
}

func TestSubmitEvent(t *testing.T) {
	clock := &fakeClock{t: at(8, 0)}
	svc := newService(t, clock)
	_, err := svc.OptimizeSchedule("dr-1", scenarioA(), at(8, 0))
	require.NoError(t, err)

	ok, err := svc.SubmitEvent(model.SchedulerEvent{Type: "unknown"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.SubmitEvent(engine.NoShowEvent("c", clock.Now()))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Eventually(t, func() bool {
		st, err := svc.State()
		return err == nil && len(st.ScheduledQueue) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
