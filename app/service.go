package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/clinicflow/config"
	"github.com/kilianp07/clinicflow/core/engine"
	"github.com/kilianp07/clinicflow/core/events"
	coremetrics "github.com/kilianp07/clinicflow/core/metrics"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/monitoring"
	"github.com/kilianp07/clinicflow/core/optimizer"
	"github.com/kilianp07/clinicflow/core/prediction"
	"github.com/kilianp07/clinicflow/core/simulator"
	"github.com/kilianp07/clinicflow/infra/logger"
	"github.com/kilianp07/clinicflow/internal/eventbus"
)

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the base logger. Components log through it.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithParams sets the initial scheduler parameters. Zero fields take the
// defaults.
func WithParams(p model.SchedulerParams) Option {
	return func(s *Service) { s.params = p.WithDefaults() }
}

// WithClinicHours replaces the default 08:00-17:00 day used by
// OptimizeSchedule and by the initial engine state.
func WithClinicHours(c config.ClinicConfig) Option {
	return func(s *Service) {
		c.SetDefaults()
		s.clinic = c
	}
}

// WithEngineConfig tunes the event engine worker.
func WithEngineConfig(c engine.Config) Option {
	return func(s *Service) { s.engineCfg = c }
}

// WithSeed seeds synthetic history and the Monte Carlo generator.
func WithSeed(seed int64) Option {
	return func(s *Service) { s.seed = seed }
}

// WithScenarios sets the default number of simulated scenarios.
func WithScenarios(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.scenarios = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPredictor bypasses history calibration and uses p directly.
func WithPredictor(p prediction.Predictor) Option {
	return func(s *Service) { s.predictor = p }
}

// WithMetricsSink records passes, events and simulations on sink.
func WithMetricsSink(sink coremetrics.MetricsSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithMonitor reports asynchronous failures to m.
func WithMonitor(m monitoring.Monitor) Option {
	return func(s *Service) { s.monitor = monitoring.OrNop(m) }
}

// WithCompletionObserver adds a listener for finished consultations next to
// the duration predictor.
func WithCompletionObserver(obs prediction.CompletionObserver) Option {
	return func(s *Service) {
		if obs != nil {
			s.observers = append(s.observers, obs)
		}
	}
}

// components is everything Initialize builds. A nil pointer means the
// service is not usable.
type components struct {
	predictor prediction.Predictor
	optimizer *optimizer.Optimizer
	simulator *simulator.Simulator
	engine    *engine.Engine
	cancel    context.CancelFunc
}

// Service is the entry point for collaborators: it owns one doctor's
// predictors, optimizer, simulator and event engine.
type Service struct {
	log       logger.Logger
	params    model.SchedulerParams
	clinic    config.ClinicConfig
	engineCfg engine.Config
	seed      int64
	scenarios int
	now       func() time.Time
	predictor prediction.Predictor
	sink      coremetrics.MetricsSink
	monitor   monitoring.Monitor
	observers []prediction.CompletionObserver
	bus       *eventbus.TypedBus[events.Notification]

	mu        sync.RWMutex
	core      *components
	callbacks engine.Callbacks
}

// SystemStats is returned by GetSystemStats.
type SystemStats struct {
	engine.Stats
	DoctorID             string                `json:"doctor_id"`
	Params               model.SchedulerParams `json:"params"`
	NotificationsDropped uint64                `json:"notifications_dropped"`
}

// NewService creates an uninitialized Service.
func NewService(opts ...Option) *Service {
	s := &Service{
		log:       logger.NopLogger{},
		params:    model.DefaultSchedulerParams(),
		seed:      prediction.SyntheticSeed,
		scenarios: simulator.DefaultScenarios,
		now:       time.Now,
		sink:      coremetrics.NopSink{},
		monitor:   monitoring.NopMonitor{},
		bus:       eventbus.NewTyped[events.Notification](),
	}
	s.clinic.SetDefaults()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bus carries engine notifications. It outlives Stop so subscribers can be
// attached before Initialize.
func (s *Service) Bus() *eventbus.TypedBus[events.Notification] { return s.bus }

// Initialize calibrates the predictors from h, or from seeded synthetic
// history when h is nil, builds the optimizer, simulator and engine and
// starts the engine worker. The worker stops on Stop or when ctx is done.
func (s *Service) Initialize(ctx context.Context, h *model.HistoricalData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.core != nil {
		s.log.Warnf("service already initialized")
		return nil
	}
	now := s.now()

	pred := s.predictor
	observers := append([]prediction.CompletionObserver(nil), s.observers...)
	if pred == nil {
		if h == nil {
			s.log.Infof("no historical data supplied, using synthetic history (seed %d)", s.seed)
			h = prediction.SyntheticHistory(s.seed, now)
		}
		hp := prediction.NewHistoricalPredictor(h)
		s.log.Infow("predictors calibrated", map[string]any{
			"arrivals":      len(h.Arrivals),
			"consultations": hp.Duration.Samples(),
		})
		pred = hp
	}
	if obs, ok := pred.(prediction.CompletionObserver); ok {
		observers = append([]prediction.CompletionObserver{obs}, observers...)
	}

	opt, err := optimizer.New(pred, s.params, s.log)
	if err != nil {
		return err
	}
	sim, err := simulator.New(opt, s.log, simulator.WithSeed(s.seed))
	if err != nil {
		return err
	}
	dc, err := s.clinic.DoctorConfig(now)
	if err != nil {
		return &model.ValidationError{Field: "clinic", Reason: err.Error()}
	}
	state := &model.SchedulerState{
		CurrentTime:  now,
		DoctorID:     s.clinic.DoctorID,
		DoctorConfig: dc,
	}
	eng, err := engine.New(opt, state, s.engineCfg, s.log,
		engine.WithClock(s.now),
		engine.WithMetricsSink(s.sink),
		engine.WithMonitor(s.monitor),
		engine.WithCompletionObserver(fanOut(observers)),
		engine.WithBus(s.bus),
	)
	if err != nil {
		return err
	}
	eng.SetCallbacks(engine.Callbacks{
		OnScheduleUpdated: func(sched *model.OptimizedSchedule) {
			if cb := s.currentCallbacks().OnScheduleUpdated; cb != nil {
				cb(sched)
			}
		},
		OnEventProcessed: func(ev model.SchedulerEvent) {
			if cb := s.currentCallbacks().OnEventProcessed; cb != nil {
				cb(ev)
			}
		},
		OnError: func(err error) {
			if cb := s.currentCallbacks().OnError; cb != nil {
				cb(err)
			}
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	eng.Start(runCtx)
	s.core = &components{predictor: pred, optimizer: opt, simulator: sim, engine: eng, cancel: cancel}
	s.log.Infof("service initialized for doctor %s", state.DoctorID)
	return nil
}

// SetCallbacks replaces the facade callbacks. It may be called at any time.
func (s *Service) SetCallbacks(cb engine.Callbacks) {
	s.mu.Lock()
	s.callbacks = cb
	s.mu.Unlock()
}

func (s *Service) currentCallbacks() engine.Callbacks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callbacks
}

func (s *Service) ready(op string) (*components, error) {
	s.mu.RLock()
	c := s.core
	s.mu.RUnlock()
	if c == nil {
		return nil, &model.NotInitializedError{Operation: op}
	}
	return c, nil
}

// OptimizeSchedule computes a schedule for patients on currentTime's date
// using the configured clinic day, bypassing the event queue. The resulting
// state becomes the engine's state. A zero currentTime means now.
func (s *Service) OptimizeSchedule(doctorID string, patients []model.Patient, currentTime time.Time) (*model.OptimizedSchedule, error) {
	if _, err := s.ready("OptimizeSchedule"); err != nil {
		return nil, err
	}
	if currentTime.IsZero() {
		currentTime = s.now()
	}
	dc, err := s.clinic.DoctorConfig(currentTime)
	if err != nil {
		return nil, &model.ValidationError{Field: "clinic", Reason: err.Error()}
	}
	return s.OptimizeScheduleWithConfig(doctorID, patients, currentTime, dc)
}

// OptimizeScheduleWithConfig is OptimizeSchedule with an explicit working day.
func (s *Service) OptimizeScheduleWithConfig(doctorID string, patients []model.Patient, currentTime time.Time, dc *model.DoctorConfig) (*model.OptimizedSchedule, error) {
	c, err := s.ready("OptimizeScheduleWithConfig")
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, &model.ValidationError{Field: "doctor_config", Reason: "is required"}
	}
	if doctorID == "" {
		doctorID = s.clinic.DoctorID
	}
	if currentTime.IsZero() {
		currentTime = s.now()
	}
	state := &model.SchedulerState{
		CurrentTime:    currentTime,
		DoctorID:       doctorID,
		ScheduledQueue: make([]model.Patient, len(patients)),
		DoctorConfig:   dc,
	}
	for i, p := range patients {
		state.ScheduledQueue[i] = p.Clone()
		if state.ScheduledQueue[i].DoctorID == "" {
			state.ScheduledQueue[i].DoctorID = doctorID
		}
	}
	start := time.Now()
	sched, err := c.engine.Replan(state)
	if err != nil {
		return nil, err
	}
	if err := s.sink.RecordSchedule(coremetrics.ScheduleRecord{
		DoctorID: doctorID,
		Trigger:  "initial",
		Patients: len(sched.Sequence),
		Metrics:  sched.Metrics,
		Changes:  len(sched.ChangesFromPrevious),
		Duration: time.Since(start),
		Time:     s.now(),
	}); err != nil {
		s.log.Warnf("failed to record schedule: %v", err)
	}
	return sched, nil
}

// HandlePatientArrival queues an arrival. A zero arrivalTime means now.
func (s *Service) HandlePatientArrival(patientID string, arrivalTime time.Time) (bool, error) {
	c, err := s.ready("HandlePatientArrival")
	if err != nil {
		return false, err
	}
	if arrivalTime.IsZero() {
		return c.engine.SimulatePatientArrival(patientID), nil
	}
	return c.engine.AddEvent(engine.ArrivalEvent(patientID, arrivalTime)), nil
}

// HandleTrafficUpdate queues an expected arrival delay for a patient.
func (s *Service) HandleTrafficUpdate(patientID string, delayMinutes float64) (bool, error) {
	c, err := s.ready("HandleTrafficUpdate")
	if err != nil {
		return false, err
	}
	return c.engine.SimulateTrafficUpdate(patientID, delayMinutes), nil
}

// HandleEmergencyInsert queues an emergency and returns its patient id,
// generating one when p has none.
func (s *Service) HandleEmergencyInsert(p model.Patient) (string, error) {
	c, err := s.ready("HandleEmergencyInsert")
	if err != nil {
		return "", err
	}
	if p.ID == "" {
		p.ID = "emergency-" + uuid.NewString()
	}
	if !c.engine.SimulateEmergencyInsert(p) {
		return "", &model.ValidationError{Field: "patient", Reason: "emergency rejected"}
	}
	return p.ID, nil
}

// HandleConsultationStart queues the start of a consultation.
func (s *Service) HandleConsultationStart(patientID string, estimatedMinutes float64) (bool, error) {
	c, err := s.ready("HandleConsultationStart")
	if err != nil {
		return false, err
	}
	return c.engine.SimulateConsultationStart(patientID, estimatedMinutes), nil
}

// HandleConsultationEnd queues the end of a consultation with its measured
// length.
func (s *Service) HandleConsultationEnd(patientID string, actualMinutes float64) (bool, error) {
	c, err := s.ready("HandleConsultationEnd")
	if err != nil {
		return false, err
	}
	return c.engine.SimulateConsultationEnd(patientID, actualMinutes), nil
}

// HandleNoShow queues a no-show.
func (s *Service) HandleNoShow(patientID string) (bool, error) {
	c, err := s.ready("HandleNoShow")
	if err != nil {
		return false, err
	}
	return c.engine.SimulateNoShow(patientID), nil
}

// SubmitEvent queues an event received from a transport.
func (s *Service) SubmitEvent(ev model.SchedulerEvent) (bool, error) {
	c, err := s.ready("SubmitEvent")
	if err != nil {
		return false, err
	}
	return c.engine.AddEvent(ev), nil
}

// ForceReoptimization runs a pass immediately.
func (s *Service) ForceReoptimization() (*model.OptimizedSchedule, error) {
	c, err := s.ready("ForceReoptimization")
	if err != nil {
		return nil, err
	}
	return c.engine.ForceReoptimization()
}

// RunSimulation runs a Monte Carlo simulation. A nil schedule or state uses
// the engine's current ones; scenarios <= 0 uses the configured default.
func (s *Service) RunSimulation(schedule *model.OptimizedSchedule, state *model.SchedulerState, scenarios int) (*simulator.SimulationResult, error) {
	c, err := s.ready("RunSimulation")
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = c.engine.State()
	}
	if schedule == nil {
		schedule = c.engine.Schedule()
	}
	if scenarios <= 0 {
		scenarios = s.scenarios
	}
	res, err := c.simulator.RunMonteCarloSimulation(schedule, state, scenarios)
	if err != nil {
		return nil, err
	}
	if rec, ok := s.sink.(coremetrics.SimulationRecorder); ok {
		if err := rec.RecordSimulation(coremetrics.SimulationRecord{
			DoctorID:            state.DoctorID,
			Scenarios:           res.Scenarios,
			AvgDelayMinutes:     res.AvgDelayMinutes,
			P95DelayMinutes:     res.P95DelayMinutes,
			AvgIdleMinutes:      res.AvgIdleMinutes,
			OvertimeProbability: res.OvertimeProbability,
			AvgSLAViolations:    res.AvgSLAViolations,
			Time:                s.now(),
		}); err != nil {
			s.log.Warnf("failed to record simulation: %v", err)
		}
	}
	return res, nil
}

// AnalyzeRisk simulates schedule and summarizes its weak spots.
func (s *Service) AnalyzeRisk(schedule *model.OptimizedSchedule, state *model.SchedulerState, scenarios int) (*simulator.RiskAnalysis, error) {
	c, err := s.ready("AnalyzeRisk")
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		schedule = c.engine.Schedule()
	}
	res, err := s.RunSimulation(schedule, state, scenarios)
	if err != nil {
		return nil, err
	}
	ra := simulator.AnalyzeRisk(schedule, res)
	return &ra, nil
}

// OptimizeParameters grid-searches parameter variants on sampleState, or on
// the engine state when nil. It does not apply the winner.
func (s *Service) OptimizeParameters(sampleState *model.SchedulerState, scenarios int) (*simulator.TuningResult, error) {
	c, err := s.ready("OptimizeParameters")
	if err != nil {
		return nil, err
	}
	if sampleState == nil {
		sampleState = c.engine.State()
	}
	if scenarios <= 0 {
		scenarios = s.scenarios
	}
	return c.simulator.OptimizeParameters(sampleState, scenarios)
}

// UpdateParameters applies patch to the live parameters and returns the
// result. Invalid combinations are rejected and nothing changes.
func (s *Service) UpdateParameters(patch model.ParamsPatch) (model.SchedulerParams, error) {
	c, err := s.ready("UpdateParameters")
	if err != nil {
		return model.SchedulerParams{}, err
	}
	next := patch.Apply(c.optimizer.Params())
	if err := c.engine.SetParams(next); err != nil {
		return model.SchedulerParams{}, err
	}
	s.log.Infow("scheduler parameters updated", map[string]any{
		"quantile":          next.Quantile,
		"buffer_multiplier": next.BufferMultiplier,
		"max_per_hour":      next.MaxReoptimizationsPerHour,
	})
	return next, nil
}

// GetSystemStats reports engine counters and the live parameters.
func (s *Service) GetSystemStats() (SystemStats, error) {
	c, err := s.ready("GetSystemStats")
	if err != nil {
		return SystemStats{}, err
	}
	st := c.engine.State()
	return SystemStats{
		Stats:                c.engine.Stats(),
		DoctorID:             st.DoctorID,
		Params:               c.optimizer.Params(),
		NotificationsDropped: s.bus.Dropped(),
	}, nil
}

// ClassifyPriority triages a patient from symptoms, age and vitals.
func (s *Service) ClassifyPriority(symptoms []string, age int, vitals *prediction.VitalSigns) (prediction.Classification, error) {
	if _, err := s.ready("ClassifyPriority"); err != nil {
		return prediction.Classification{}, err
	}
	return prediction.ClassifyPriority(symptoms, age, vitals), nil
}

// State returns a copy of the engine state.
func (s *Service) State() (*model.SchedulerState, error) {
	c, err := s.ready("State")
	if err != nil {
		return nil, err
	}
	return c.engine.State(), nil
}

// Schedule returns the latest schedule, or nil before the first pass.
func (s *Service) Schedule() (*model.OptimizedSchedule, error) {
	c, err := s.ready("Schedule")
	if err != nil {
		return nil, err
	}
	return c.engine.Schedule(), nil
}

// Stop halts the engine worker. The service must be initialized again
// before further use.
func (s *Service) Stop() error {
	s.mu.Lock()
	c := s.core
	s.core = nil
	s.mu.Unlock()
	if c == nil {
		return &model.NotInitializedError{Operation: "Stop"}
	}
	c.engine.Stop()
	c.cancel()
	s.log.Infof("service stopped")
	return nil
}

// fanOut forwards completions to every observer in order.
type fanOut []prediction.CompletionObserver

func (f fanOut) Observe(reasonCode, doctorID string, minutes float64) {
	for _, o := range f {
		o.Observe(reasonCode, doctorID, minutes)
	}
}
