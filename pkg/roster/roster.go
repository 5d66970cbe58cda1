// Package roster loads a doctor's day of appointments from a YAML file.
package roster

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/clinicflow/config"
	"github.com/kilianp07/clinicflow/core/model"
)

const dateLayout = "2006-01-02"

// Entry is one booked appointment.
type Entry struct {
	ID                string                      `yaml:"id"`
	Name              string                      `yaml:"name"`
	Time              string                      `yaml:"time"`
	Reason            string                      `yaml:"reason"`
	Priority          string                      `yaml:"priority"`
	DistanceKM        float64                     `yaml:"distance_km"`
	NoShowProbability float64                     `yaml:"no_show_probability"`
	ETA               *model.QuantileDistribution `yaml:"eta"`
	Duration          *model.QuantileDistribution `yaml:"duration"`
}

// Roster is a single day for a single doctor.
type Roster struct {
	DoctorID     string               `yaml:"doctor_id"`
	Date         string               `yaml:"date"`
	PlanningTime string               `yaml:"current_time"`
	Hours        *config.ClinicConfig `yaml:"clinic"`
	Entries      []Entry              `yaml:"patients"`

	day    time.Time
	clinic config.ClinicConfig
}

// Load reads and validates a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a roster document.
func Parse(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	if r.Hours != nil {
		r.clinic = *r.Hours
	}
	if r.DoctorID != "" {
		r.clinic.DoctorID = r.DoctorID
	}
	r.clinic.SetDefaults()
	r.DoctorID = r.clinic.DoctorID
	if err := r.clinic.Validate(); err != nil {
		return nil, fmt.Errorf("roster clinic: %w", err)
	}
	loc, err := r.clinic.Location()
	if err != nil {
		return nil, err
	}
	if r.day, err = time.ParseInLocation(dateLayout, r.Date, loc); err != nil {
		return nil, fmt.Errorf("roster date %q: %w", r.Date, err)
	}
	seen := make(map[string]bool, len(r.Entries))
	for i, e := range r.Entries {
		if e.ID == "" {
			return nil, fmt.Errorf("roster patient %d: missing id", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("roster patient %s: duplicate id", e.ID)
		}
		seen[e.ID] = true
		if _, err := r.At(e.Time); err != nil {
			return nil, fmt.Errorf("roster patient %s: %w", e.ID, err)
		}
		if _, err := model.ParsePriority(e.Priority); err != nil {
			return nil, fmt.Errorf("roster patient %s: %w", e.ID, err)
		}
	}
	return &r, nil
}

// At resolves an HH:MM clock on the roster date.
func (r *Roster) At(clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", clock)
	}
	return time.Date(r.day.Year(), r.day.Month(), r.day.Day(), t.Hour(), t.Minute(), 0, 0, r.day.Location()), nil
}

// Patients converts the entries into scheduler patients. Missing ETA and
// duration distributions are left nil so the predictor fills them in.
func (r *Roster) Patients() []model.Patient {
	out := make([]model.Patient, 0, len(r.Entries))
	for _, e := range r.Entries {
		scheduled, _ := r.At(e.Time)
		prio, _ := model.ParsePriority(e.Priority)
		p := model.Patient{
			ID:                e.ID,
			Name:              e.Name,
			Priority:          prio,
			ReasonCode:        e.Reason,
			DoctorID:          r.DoctorID,
			ScheduledTime:     scheduled,
			DistanceKM:        e.DistanceKM,
			NoShowProbability: e.NoShowProbability,
		}
		if e.ETA != nil {
			d := e.ETA.Normalize()
			p.ETA = &d
		}
		if e.Duration != nil {
			d := e.Duration.Normalize()
			p.Duration = &d
		}
		out = append(out, p)
	}
	return out
}

// Clinic returns the clinic hours with defaults applied.
func (r *Roster) Clinic() config.ClinicConfig { return r.clinic }

// DoctorConfig returns the working day on the roster date.
func (r *Roster) DoctorConfig() (*model.DoctorConfig, error) {
	return r.clinic.DoctorConfig(r.day)
}

// CurrentTime returns the planning instant. It defaults to clinic opening.
func (r *Roster) CurrentTime() (time.Time, error) {
	clock := r.PlanningTime
	if clock == "" {
		clock = r.clinic.Open
	}
	return r.At(clock)
}
