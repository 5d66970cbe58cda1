package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// DefaultDoctorID is used when neither the configuration nor the caller
// names a doctor.
const DefaultDoctorID = "dr-1"

// BreakConfig is a daily break in HH:MM form.
type BreakConfig struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// ClinicConfig describes the doctor's working day independently of a date.
type ClinicConfig struct {
	DoctorID string `json:"doctor_id" yaml:"doctor_id"`
	// Open and Close are HH:MM wall-clock times in Timezone.
	Open                   string        `json:"open" yaml:"open"`
	Close                  string        `json:"close" yaml:"close"`
	Breaks                 []BreakConfig `json:"breaks" yaml:"breaks"`
	EmergencyBufferMinutes float64       `json:"emergency_buffer_minutes" yaml:"emergency_buffer_minutes"`
	MaxOvertimeMinutes     float64       `json:"max_overtime_minutes" yaml:"max_overtime_minutes"`
	// Timezone is an IANA name. Empty means the local zone.
	Timezone string `json:"timezone" yaml:"timezone"`
}

// SetDefaults applies the 08:00-17:00 day with a 12:00-13:00 lunch break.
func (c *ClinicConfig) SetDefaults() {
	if c.DoctorID == "" {
		c.DoctorID = DefaultDoctorID
	}
	if c.Open == "" {
		c.Open = "08:00"
	}
	if c.Close == "" {
		c.Close = "17:00"
	}
	if c.Breaks == nil {
		c.Breaks = []BreakConfig{{Start: "12:00", End: "13:00"}}
	}
	if c.EmergencyBufferMinutes == 0 {
		c.EmergencyBufferMinutes = 30
	}
	if c.MaxOvertimeMinutes == 0 {
		c.MaxOvertimeMinutes = 60
	}
}

// Validate checks the clock values parse and are ordered.
func (c ClinicConfig) Validate() error {
	open, err := parseClock(c.Open)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	closing, err := parseClock(c.Close)
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if closing <= open {
		return fmt.Errorf("close %s must be after open %s", c.Close, c.Open)
	}
	for i, b := range c.Breaks {
		s, err := parseClock(b.Start)
		if err != nil {
			return fmt.Errorf("break %d start: %w", i, err)
		}
		e, err := parseClock(b.End)
		if err != nil {
			return fmt.Errorf("break %d end: %w", i, err)
		}
		if e <= s {
			return fmt.Errorf("break %d ends before it starts", i)
		}
	}
	if c.EmergencyBufferMinutes < 0 || c.MaxOvertimeMinutes < 0 {
		return fmt.Errorf("buffers must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c ClinicConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DoctorConfig materialises the working day on day's calendar date.
func (c ClinicConfig) DoctorConfig(day time.Time) (*model.DoctorConfig, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	day = day.In(loc)
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	at := func(s string) (time.Time, error) {
		d, err := parseClock(s)
		if err != nil {
			return time.Time{}, err
		}
		return midnight.Add(d), nil
	}
	out := &model.DoctorConfig{
		EmergencyBufferMinutes: c.EmergencyBufferMinutes,
		MaxOvertimeMinutes:     c.MaxOvertimeMinutes,
	}
	if out.ClinicStart, err = at(c.Open); err != nil {
		return nil, err
	}
	if out.ClinicEnd, err = at(c.Close); err != nil {
		return nil, err
	}
	for _, b := range c.Breaks {
		var bi model.BreakInterval
		if bi.Start, err = at(b.Start); err != nil {
			return nil, err
		}
		if bi.End, err = at(b.End); err != nil {
			return nil, err
		}
		out.Breaks = append(out.Breaks, bi)
	}
	return out, nil
}

// parseClock converts "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
