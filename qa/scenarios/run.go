package scenarios

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/clinicflow/core/engine"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/optimizer"
	"github.com/kilianp07/clinicflow/core/prediction"
	"github.com/kilianp07/clinicflow/infra/logger"
	"github.com/kilianp07/clinicflow/infra/metrics"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type completions struct {
	mu sync.Mutex
	n  int
}

func (c *completions) Observe(string, string, float64) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// RunScenario plans the roster, replays every step synchronously and checks
// the expectations.
func RunScenario(t *testing.T, sc *Scenario) {
	day := sc.Day()
	reg := prometheus.NewRegistry()
	engine.ResetMetrics(reg)
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	params := model.DefaultSchedulerParams()
	if sc.Params != nil {
		params = sc.Params.WithDefaults()
	}
	pred := prediction.MockPredictor{Arrival: sc.Predictor.Arrival, Duration: sc.Predictor.Duration}
	opt, err := optimizer.New(pred, params, logger.NopLogger{})
	if err != nil {
		t.Fatalf("optimizer: %v", err)
	}

	now, err := day.CurrentTime()
	if err != nil {
		t.Fatalf("current time: %v", err)
	}
	dc, err := day.DoctorConfig()
	if err != nil {
		t.Fatalf("doctor config: %v", err)
	}
	state := &model.SchedulerState{
		DoctorID:       day.DoctorID,
		CurrentTime:    now,
		ScheduledQueue: day.Patients(),
		DoctorConfig:   dc,
	}
	clk := &clock{t: now}
	done := &completions{}
	eng, err := engine.New(opt, state, engine.Config{TickInterval: time.Hour}, logger.NopLogger{},
		engine.WithClock(clk.Now),
		engine.WithMetricsSink(sink),
		engine.WithCompletionObserver(done),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	initial, err := eng.Replan(state)
	if err != nil {
		t.Fatalf("initial schedule: %v", err)
	}

	for i, step := range sc.Steps {
		ev, err := step.ToModel(day)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		clk.Set(ev.Timestamp)
		if accepted := eng.AddEvent(ev); accepted == step.Rejected {
			t.Errorf("step %d (%s %s): accepted=%v", i, step.Event, step.Patient, accepted)
		}
		eng.DrainAll()
	}

	checkExpected(t, sc, initial, eng, done)
}

func checkExpected(t *testing.T, sc *Scenario, initial *model.OptimizedSchedule, eng *engine.Engine, done *completions) {
	exp := sc.Expected
	final := eng.Schedule()
	if final == nil {
		t.Fatalf("no schedule")
	}
	seq := final.IDs()

	if exp.Sequence != nil && !equal(seq, exp.Sequence) {
		t.Errorf("sequence: expected %v, got %v", exp.Sequence, seq)
	}
	if exp.First != "" && (len(seq) == 0 || seq[0] != exp.First) {
		t.Errorf("first: expected %s, got %v", exp.First, seq)
	}
	if exp.FirstStart != "" {
		want, err := sc.Day().At(exp.FirstStart)
		if err != nil {
			t.Fatalf("first_start: %v", err)
		}
		if len(final.Timeline) == 0 || !final.Timeline[0].PlannedStart.Equal(want) {
			t.Errorf("first start: expected %s, got %v", exp.FirstStart, final.Timeline)
		}
	}
	if exp.Queue != nil {
		var queue []string
		for _, p := range eng.State().ScheduledQueue {
			queue = append(queue, p.ID)
		}
		if !equal(queue, exp.Queue) {
			t.Errorf("queue: expected %v, got %v", exp.Queue, queue)
		}
	}
	for id, minutes := range exp.MinShift {
		before, ok1 := plannedStart(initial, id)
		after, ok2 := plannedStart(final, id)
		if !ok1 || !ok2 {
			t.Errorf("shift %s: patient missing from a timeline", id)
			continue
		}
		if shift := after.Sub(before); shift < model.Minutes(minutes) {
			t.Errorf("shift %s: expected at least %.0f min, got %v", id, minutes, shift)
		}
	}
	if exp.ZeroOvertime && final.Metrics.OvertimeMinutes != 0 {
		t.Errorf("expected no overtime, got %.1f min", final.Metrics.OvertimeMinutes)
	}
	if got := eng.Stats().Optimizations; got != exp.Optimizations {
		t.Errorf("expected %d optimizations, got %d", exp.Optimizations, got)
	}
	done.mu.Lock()
	defer done.mu.Unlock()
	if done.n != exp.Completions {
		t.Errorf("expected %d completions, got %d", exp.Completions, done.n)
	}
}

func plannedStart(s *model.OptimizedSchedule, id string) (time.Time, bool) {
	for _, e := range s.Timeline {
		if e.PatientID == id {
			return e.PlannedStart, true
		}
	}
	return time.Time{}, false
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
