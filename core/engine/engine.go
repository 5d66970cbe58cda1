package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/clinicflow/core/events"
	"github.com/kilianp07/clinicflow/core/logger"
	"github.com/kilianp07/clinicflow/core/metrics"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/monitoring"
	"github.com/kilianp07/clinicflow/core/optimizer"
	"github.com/kilianp07/clinicflow/core/prediction"
	"github.com/kilianp07/clinicflow/internal/eventbus"
)

const (
	DefaultTickInterval  = 5 * time.Second
	DefaultBatchSize     = 5
	DefaultQueueCapacity = 1024
)

// Config tunes the worker loop. Zero values take the defaults.
type Config struct {
	TickInterval  time.Duration `json:"tick_interval"`
	BatchSize     int           `json:"batch_size"`
	QueueCapacity int           `json:"queue_capacity"`
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	return c
}

// Callbacks are invoked from the goroutine that processed the batch, outside
// the state lock. They must not call ForceReoptimization, Reset or DrainAll.
type Callbacks struct {
	OnScheduleUpdated func(*model.OptimizedSchedule)
	OnEventProcessed  func(model.SchedulerEvent)
	OnError           func(error)
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	QueueLength           int       `json:"queue_length"`
	Processing            bool      `json:"processing"`
	Running               bool      `json:"running"`
	EventsReceived        int       `json:"events_received"`
	EventsAccepted        int       `json:"events_accepted"`
	EventsDropped         int       `json:"events_dropped"`
	EventsProcessed       int       `json:"events_processed"`
	Optimizations         int       `json:"optimizations"`
	OptimizationsLastHour int       `json:"optimizations_last_hour"`
	BatchesSkipped        int       `json:"batches_skipped"`
	LastOptimization      time.Time `json:"last_optimization"`
	LastError             string    `json:"last_error,omitempty"`
	ScheduledPatients     int       `json:"scheduled_patients"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetricsSink records each pass and event outcome on sink. The sink may
// also implement metrics.EventRecorder and metrics.QueueRecorder.
func WithMetricsSink(sink metrics.MetricsSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithMonitor reports batch failures to m.
func WithMonitor(m monitoring.Monitor) Option {
	return func(e *Engine) { e.monitor = monitoring.OrNop(m) }
}

// WithCompletionObserver feeds measured consultation lengths to obs.
func WithCompletionObserver(obs prediction.CompletionObserver) Option {
	return func(e *Engine) { e.observer = obs }
}

// WithBus publishes notifications on bus instead of a private one.
func WithBus(bus *eventbus.TypedBus[events.Notification]) Option {
	return func(e *Engine) {
		if bus != nil {
			e.bus = bus
		}
	}
}

// Engine serializes scheduler events into batched optimization passes for a
// single doctor. One worker goroutine drains the queue on a ticker and when
// an emergency arrives.
type Engine struct {
	cfg      Config
	opt      atomic.Pointer[optimizer.Optimizer]
	log      logger.Logger
	sink     metrics.MetricsSink
	monitor  monitoring.Monitor
	observer prediction.CompletionObserver
	bus      *eventbus.TypedBus[events.Notification]
	now      func() time.Time

	queue eventQueue
	wake  chan struct{}

	// runMu is held for the whole of a pass so that at most one runs.
	runMu      sync.Mutex
	processing atomic.Bool

	mu        sync.RWMutex
	state     *model.SchedulerState
	schedule  *model.OptimizedSchedule
	limiter   rateLimiter
	callbacks Callbacks
	stats     Stats

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates an Engine owning a copy of state.
func New(opt *optimizer.Optimizer, state *model.SchedulerState, cfg Config, log logger.Logger, opts ...Option) (*Engine, error) {
	if opt == nil {
		return nil, &model.ConfigurationError{Component: "engine", Missing: "optimizer"}
	}
	if log == nil {
		return nil, &model.ConfigurationError{Component: "engine", Missing: "logger"}
	}
	if state == nil {
		return nil, &model.ConfigurationError{Component: "engine", Missing: "state"}
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		log:     log,
		sink:    metrics.NopSink{},
		monitor: monitoring.NopMonitor{},
		bus:     eventbus.NewTyped[events.Notification](),
		now:     time.Now,
		queue:   eventQueue{capacity: cfg.QueueCapacity},
		wake:    make(chan struct{}, 1),
		state:   state.Clone(),
	}
	e.opt.Store(opt)
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Bus returns the notification bus.
func (e *Engine) Bus() *eventbus.TypedBus[events.Notification] { return e.bus }

// Optimizer returns the optimizer used for every pass.
func (e *Engine) Optimizer() *optimizer.Optimizer { return e.opt.Load() }

// SetCallbacks replaces the registered callbacks.
func (e *Engine) SetCallbacks(cb Callbacks) {
	e.mu.Lock()
	e.callbacks = cb
	e.mu.Unlock()
}

// SetOptimizer swaps the optimizer used by later passes, waiting for the
// pass in flight.
func (e *Engine) SetOptimizer(opt *optimizer.Optimizer) error {
	if opt == nil {
		return &model.ConfigurationError{Component: "engine", Missing: "optimizer"}
	}
	e.runMu.Lock()
	e.opt.Store(opt)
	e.runMu.Unlock()
	return nil
}

// SetParams validates p and hands it to the optimizer. Rate limiting reads
// the same parameters.
func (e *Engine) SetParams(p model.SchedulerParams) error {
	return e.Optimizer().SetParams(p)
}

// Start launches the worker. It is a no-op when already running.
func (e *Engine) Start(ctx context.Context) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.run(ctx, e.done)
	e.log.Infof("event engine started for %s (tick %s, batch %d)", e.doctorID(), e.cfg.TickInterval, e.cfg.BatchSize)
}

// Stop halts the worker and waits for the pass in flight, if any.
// Queued events are kept.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if !e.running {
		e.lifeMu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.lifeMu.Unlock()

	cancel()
	<-done
	e.log.Infof("event engine stopped for %s", e.doctorID())
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Drain()
		case <-e.wake:
			e.Drain()
		}
	}
}

// AddEvent validates ev, applies the admission policy and queues it.
// Emergencies go ahead of other queued events and wake the worker.
func (e *Engine) AddEvent(ev model.SchedulerEvent) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}

	e.mu.Lock()
	e.stats.EventsReceived++
	e.mu.Unlock()

	if !ev.Type.Valid() {
		e.log.Warnf("rejecting event %s: unknown type %q", ev.ID, ev.Type)
		e.recordEvent(ev, "invalid")
		return false
	}
	if ev.Type == model.EventEmergencyInsert && (ev.Patient == nil || ev.Patient.ID == "") {
		e.log.Warnf("rejecting emergency %s without patient", ev.ID)
		e.recordEvent(ev, "invalid")
		return false
	}
	if !e.ShouldProcessEvent(ev) {
		e.log.Debugf("dropping %s event %s: rate limited", ev.Type, ev.ID)
		e.recordEvent(ev, "dropped")
		return false
	}
	if !e.queue.push(ev) {
		e.log.Warnf("dropping %s event %s: queue full", ev.Type, ev.ID)
		e.recordEvent(ev, "overflow")
		return false
	}
	e.recordEvent(ev, "accepted")
	if ev.IsEmergency() {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// ShouldProcessEvent reports whether ev may trigger a pass now. Emergencies
// always pass; other events need the minimum interval since the last pass
// and room under the hourly cap.
func (e *Engine) ShouldProcessEvent(ev model.SchedulerEvent) bool {
	if ev.IsEmergency() {
		return true
	}
	p := e.Optimizer().Params()
	threshold := model.Minutes(p.ReoptimizeThresholdMinutes)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiter.allow(e.now(), threshold, p.MaxReoptimizationsPerHour)
}

// Drain processes one batch synchronously. The flag is false when nothing
// was consumed, either because the queue is empty or because another pass
// is running.
func (e *Engine) Drain() (*model.OptimizedSchedule, bool) {
	if !e.runMu.TryLock() {
		return nil, false
	}
	defer e.runMu.Unlock()
	batch := e.queue.pop(e.cfg.BatchSize)
	if len(batch) == 0 {
		return nil, false
	}
	e.processing.Store(true)
	defer e.processing.Store(false)
	return e.process(batch)
}

// DrainAll processes batches until the queue is empty, waiting for any pass
// in flight, and returns the last schedule produced.
func (e *Engine) DrainAll() *model.OptimizedSchedule {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.processing.Store(true)
	defer e.processing.Store(false)
	var last *model.OptimizedSchedule
	for {
		batch := e.queue.pop(e.cfg.BatchSize)
		if len(batch) == 0 {
			return last
		}
		if s, _ := e.process(batch); s != nil {
			last = s
		}
	}
}

// process applies batch and optimizes once. The caller holds runMu.
func (e *Engine) process(batch []model.SchedulerEvent) (sched *model.OptimizedSchedule, consumed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("optimization panicked: %v", r), batch)
			sched, consumed = nil, true
		}
	}()

	now := e.now()
	params := e.Optimizer().Params()

	e.mu.Lock()
	previous := e.committed()
	if now.After(e.state.CurrentTime) {
		e.state.CurrentTime = now
	}
	emergency := false
	applied := make([]bool, len(batch))
	var completed []model.ConsultationRecord
	for i, ev := range batch {
		if ev.IsEmergency() {
			emergency = true
		}
		var rec *model.ConsultationRecord
		applied[i], rec = ApplyEventToState(e.state, ev)
		if ev.Timestamp.After(e.state.CurrentTime) {
			e.state.CurrentTime = ev.Timestamp
		}
		if rec != nil {
			completed = append(completed, *rec)
		}
	}
	e.stats.EventsProcessed += len(batch)
	cb := e.callbacks
	skip := !emergency && e.limiter.saturated(now, params.MaxReoptimizationsPerHour)
	if skip {
		e.stats.BatchesSkipped++
	}
	snapshot := e.state.Clone()
	e.mu.Unlock()

	for _, rec := range completed {
		if e.observer != nil {
			e.observer.Observe(rec.ReasonCode, rec.DoctorID, rec.DurationMinutes)
		}
	}
	for i, ev := range batch {
		e.recordEvent(ev, "applied")
		e.bus.Publish(events.Notification{
			Kind:      events.KindEventProcessed,
			DoctorID:  snapshot.DoctorID,
			Time:      now,
			Processed: &events.EventProcessed{Event: ev, Applied: applied[i]},
		})
		if cb.OnEventProcessed != nil {
			cb.OnEventProcessed(ev)
		}
	}
	if skip {
		e.log.Warnf("skipping optimization for %d events: hourly limit of %d reached", len(batch), params.MaxReoptimizationsPerHour)
		return nil, true
	}

	last := batch[len(batch)-1]
	sched, _ = e.optimize(snapshot, previous, &last, batch, false)
	return sched, true
}

// committed returns the order last published, or the queue when nothing has
// been published yet. The caller holds mu.
func (e *Engine) committed() []model.Patient {
	if e.schedule != nil {
		return append([]model.Patient(nil), e.schedule.Sequence...)
	}
	return append([]model.Patient(nil), e.state.ScheduledQueue...)
}

// optimize runs the optimizer on snapshot and commits the result. Changes
// are reported against previous. The caller holds runMu.
func (e *Engine) optimize(snapshot *model.SchedulerState, previous []model.Patient, trigger *model.SchedulerEvent, batch []model.SchedulerEvent, forced bool) (*model.OptimizedSchedule, error) {
	started := time.Now()
	sched, err := e.Optimizer().ReoptimizeFrom(snapshot, trigger, previous)
	elapsed := time.Since(started)
	if err != nil {
		e.fail(err, batch)
		return nil, err
	}

	now := e.now()
	e.mu.Lock()
	e.state.ScheduledQueue = reorder(e.state.ScheduledQueue, sched.Sequence)
	e.schedule = sched
	e.limiter.record(now)
	e.stats.Optimizations++
	e.stats.LastOptimization = now
	e.stats.LastError = ""
	queued := len(e.state.ScheduledQueue)
	cb := e.callbacks
	e.mu.Unlock()

	optimizationsTotal.WithLabelValues(triggerLabel(sched.Trigger)).Inc()
	optimizationDuration.Observe(elapsed.Seconds())
	queueLength.WithLabelValues(sched.DoctorID).Set(float64(queued))

	rec := metrics.ScheduleRecord{
		DoctorID: sched.DoctorID,
		Trigger:  triggerLabel(sched.Trigger),
		Patients: len(sched.Sequence),
		Metrics:  sched.Metrics,
		Changes:  len(sched.ChangesFromPrevious),
		Forced:   forced,
		Duration: elapsed,
		Time:     now,
	}
	if err := e.sink.RecordSchedule(rec); err != nil {
		e.log.Warnf("failed to record schedule: %v", err)
	}
	if qr, ok := e.sink.(metrics.QueueRecorder); ok {
		if err := qr.RecordQueueLength(sched.DoctorID, queued); err != nil {
			e.log.Warnf("failed to record queue length: %v", err)
		}
	}

	e.log.Infow("schedule updated", map[string]any{
		"doctor_id":  sched.DoctorID,
		"trigger":    triggerLabel(sched.Trigger),
		"events":     len(batch),
		"patients":   len(sched.Sequence),
		"avg_delay":  sched.Metrics.AvgDelayMinutes,
		"overtime":   sched.Metrics.OvertimeMinutes,
		"changes":    len(sched.ChangesFromPrevious),
		"elapsed_ms": elapsed.Milliseconds(),
	})

	e.bus.Publish(events.Notification{
		Kind:     events.KindScheduleUpdated,
		DoctorID: sched.DoctorID,
		Time:     now,
		Schedule: &events.ScheduleUpdated{Schedule: sched, Events: batch, Duration: elapsed, Forced: forced},
	})
	if cb.OnScheduleUpdated != nil {
		cb.OnScheduleUpdated(sched)
	}
	return sched, nil
}

func (e *Engine) fail(err error, batch []model.SchedulerEvent) {
	batchErrors.Inc()
	e.mu.Lock()
	e.stats.LastError = err.Error()
	doctor := e.state.DoctorID
	cb := e.callbacks
	e.mu.Unlock()

	e.log.Errorf("optimization failed for %s: %v", doctor, err)
	tags := map[string]string{"component": "engine", "doctor_id": doctor}
	if len(batch) > 0 {
		tags["trigger"] = string(batch[len(batch)-1].Type)
	}
	e.monitor.CaptureException(err, tags)
	e.bus.Publish(events.Notification{
		Kind:     events.KindEngineError,
		DoctorID: doctor,
		Time:     e.now(),
		Error:    &events.EngineError{Err: err, Events: batch},
	})
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// ForceReoptimization runs a pass on the current state immediately, waiting
// for any pass in flight. It bypasses rate limiting but still counts toward
// the hourly total.
func (e *Engine) ForceReoptimization() (*model.OptimizedSchedule, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.processing.Store(true)
	defer e.processing.Store(false)

	e.mu.Lock()
	if now := e.now(); now.After(e.state.CurrentTime) {
		e.state.CurrentTime = now
	}
	previous := e.committed()
	snapshot := e.state.Clone()
	e.mu.Unlock()
	return e.optimize(snapshot, previous, nil, nil, true)
}

// Reset replaces the state and current schedule and discards queued events.
// It does not count as an optimization for rate limiting.
func (e *Engine) Reset(state *model.SchedulerState, sched *model.OptimizedSchedule) error {
	if state == nil {
		return &model.ValidationError{Field: "state", Reason: "is nil"}
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.install(state, sched)
	return nil
}

// Replan optimizes state from scratch and installs it like Reset. The run
// lock is held for the whole pass, so it never overlaps a worker batch.
func (e *Engine) Replan(state *model.SchedulerState) (*model.OptimizedSchedule, error) {
	if state == nil {
		return nil, &model.ValidationError{Field: "state", Reason: "is nil"}
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()
	sched, err := e.Optimizer().Reoptimize(state, nil)
	if err != nil {
		return nil, err
	}
	e.install(state, sched)
	return sched, nil
}

// install replaces the state and schedule. The caller holds runMu.
func (e *Engine) install(state *model.SchedulerState, sched *model.OptimizedSchedule) {
	e.queue.clear()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state.Clone()
	if sched != nil {
		e.state.ScheduledQueue = reorder(e.state.ScheduledQueue, sched.Sequence)
	}
	e.schedule = sched
}

// State returns a copy of the current state.
func (e *Engine) State() *model.SchedulerState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Schedule returns the last schedule produced, or nil.
func (e *Engine) Schedule() *model.OptimizedSchedule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schedule
}

// Stats returns counters and the current queue length.
func (e *Engine) Stats() Stats {
	now := e.now()
	e.mu.Lock()
	s := e.stats
	s.OptimizationsLastHour = e.limiter.count(now)
	s.ScheduledPatients = len(e.state.ScheduledQueue)
	e.mu.Unlock()

	s.QueueLength = e.queue.len()
	s.Processing = e.processing.Load()
	e.lifeMu.Lock()
	s.Running = e.running
	e.lifeMu.Unlock()
	return s
}

func (e *Engine) doctorID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.DoctorID
}

func (e *Engine) recordEvent(ev model.SchedulerEvent, outcome string) {
	eventsTotal.WithLabelValues(string(ev.Type), outcome).Inc()
	e.mu.Lock()
	switch outcome {
	case "accepted":
		e.stats.EventsAccepted++
	case "dropped", "overflow", "invalid":
		e.stats.EventsDropped++
	}
	doctor := e.state.DoctorID
	e.mu.Unlock()

	rec, ok := e.sink.(metrics.EventRecorder)
	if !ok {
		return
	}
	if err := rec.RecordEvent(metrics.EventRecord{
		DoctorID:  doctor,
		EventID:   ev.ID,
		Type:      ev.Type,
		PatientID: ev.PatientID,
		Outcome:   outcome,
		Time:      e.now(),
	}); err != nil {
		e.log.Warnf("failed to record event %s: %v", ev.ID, err)
	}
}

// reorder arranges queue in the order of seq. Patients missing from seq keep
// their relative order at the end.
func reorder(queue, seq []model.Patient) []model.Patient {
	byID := make(map[string]model.Patient, len(queue))
	for _, p := range queue {
		byID[p.ID] = p
	}
	out := make([]model.Patient, 0, len(queue))
	for _, p := range seq {
		if q, ok := byID[p.ID]; ok {
			out = append(out, q)
			delete(byID, p.ID)
		}
	}
	for _, p := range queue {
		if _, ok := byID[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}
