package metrics

// MultiSink fans records out to several sinks. Optional recorders are only
// forwarded to sinks that implement them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSchedule forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordSchedule(rec ScheduleRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordSchedule(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordEvent(ev EventRecord) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(EventRecorder); ok {
			if err := rec.RecordEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MultiSink) RecordSimulation(sim SimulationRecord) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SimulationRecorder); ok {
			if err := rec.RecordSimulation(sim); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MultiSink) RecordQueueLength(doctorID string, n int) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(QueueRecorder); ok {
			if err := rec.RecordQueueLength(doctorID, n); err != nil {
				return err
			}
		}
	}
	return nil
}
