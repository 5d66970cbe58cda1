package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/pkg/roster"
)

// PredictorDef configures the fixed predictor used by a scenario.
type PredictorDef struct {
	Arrival  model.QuantileDistribution `yaml:"arrival"`
	Duration model.QuantileDistribution `yaml:"duration"`
}

// StepDef advances the clock to At and submits one event.
type StepDef struct {
	At        string        `yaml:"at"`
	Event     string        `yaml:"event"`
	Patient   string        `yaml:"patient"`
	Delay     float64       `yaml:"delay_minutes"`
	Minutes   float64       `yaml:"minutes"`
	Emergency *roster.Entry `yaml:"emergency,omitempty"`
	// Rejected marks events the engine must refuse.
	Rejected bool `yaml:"rejected,omitempty"`
}

// ToModel builds the event at the step time.
func (s StepDef) ToModel(r *roster.Roster) (model.SchedulerEvent, error) {
	at, err := r.At(s.At)
	if err != nil {
		return model.SchedulerEvent{}, err
	}
	ev := model.NewEvent(model.EventType(s.Event), s.Patient, at)
	switch ev.Type {
	case model.EventPatientArrival:
		ev.ArrivalTime = at
	case model.EventTrafficUpdate:
		ev.DelayMinutes = s.Delay
	case model.EventConsultationStart:
		ev.EstimatedDurationMinutes = s.Minutes
	case model.EventConsultationEnd:
		ev.ActualDurationMinutes = s.Minutes
	case model.EventEmergencyInsert:
		if s.Emergency == nil {
			return ev, fmt.Errorf("step at %s: emergency patient missing", s.At)
		}
		e := s.Emergency
		ev.PatientID = e.ID
		ev.Patient = &model.Patient{
			ID:            e.ID,
			Name:          e.Name,
			Priority:      model.PriorityEmergency,
			ReasonCode:    e.Reason,
			DoctorID:      r.DoctorID,
			ScheduledTime: at,
			ETA:           e.ETA,
			Duration:      e.Duration,
		}
	}
	return ev, nil
}

// Expected is checked once every step ran.
type Expected struct {
	Sequence      []string           `yaml:"sequence,omitempty"`
	First         string             `yaml:"first,omitempty"`
	FirstStart    string             `yaml:"first_start,omitempty"`
	Queue         []string           `yaml:"queue,omitempty"`
	MinShift      map[string]float64 `yaml:"min_shift_minutes,omitempty"`
	ZeroOvertime  bool               `yaml:"zero_overtime,omitempty"`
	Optimizations int                `yaml:"optimizations"`
	Completions   int                `yaml:"completions"`
}

type Scenario struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Roster      yaml.Node              `yaml:"roster"`
	Predictor   PredictorDef           `yaml:"predictor"`
	Params      *model.SchedulerParams `yaml:"params,omitempty"`
	Steps       []StepDef              `yaml:"steps"`
	Expected    Expected               `yaml:"expected"`

	day *roster.Roster
}

// Day returns the parsed roster.
func (s *Scenario) Day() *roster.Roster { return s.day }

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Roster.Kind == 0 {
		return nil, fmt.Errorf("%s: roster missing", path)
	}
	raw, err := yaml.Marshal(&sc.Roster)
	if err != nil {
		return nil, err
	}
	if sc.day, err = roster.Parse(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", sc.Name, err)
	}
	return &sc, nil
}
