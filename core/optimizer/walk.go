package optimizer

import (
	"math"
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

// Slot is a patient prepared for a replay: an arrival time, a consultation
// length and a buffer, all already resolved.
type Slot struct {
	Patient  model.Patient
	Arrival  time.Time
	Duration float64
	Buffer   float64
	// Skip marks a no-show; the slot consumes no doctor time.
	Skip bool
}

// Visit is a replayed slot.
type Visit struct {
	Slot
	Start time.Time
	End   time.Time
	Delay float64
	Idle  float64
}

// Replay is the outcome of walking a sequence of slots.
type Replay struct {
	Visits         []Visit
	TotalDelay     float64
	WeightedDelay  float64
	MaxDelay       float64
	TotalIdle      float64
	Overtime       float64
	CostOvertime   float64
	End            time.Time
	Served         int
	NoShows        int
	EmergencyCount int
	SLAViolations  int
}

// Cost is the objective minimized by the optimizer.
func (r Replay) Cost(p model.SchedulerParams) float64 {
	return r.WeightedDelay + p.BetaIdle*r.TotalIdle + p.DeltaOvertime*r.CostOvertime
}

// AvgDelay is the mean delay over served patients.
func (r Replay) AvgDelay() float64 {
	if r.Served == 0 {
		return 0
	}
	return r.TotalDelay / float64(r.Served)
}

// StartTime is the earliest moment the doctor can see the next patient.
func StartTime(state *model.SchedulerState) time.Time {
	clock := state.CurrentTime
	if state.DoctorConfig != nil && clock.Before(state.DoctorConfig.ClinicStart) {
		clock = state.DoctorConfig.ClinicStart
	}
	if c := state.CurrentConsultation; c != nil && clock.Before(c.EstimatedEnd) {
		clock = c.EstimatedEnd
	}
	return clock
}

// BufferMinutes sizes the slack appended after a consultation from the
// spread of its upper quantiles.
func BufferMinutes(d model.QuantileDistribution, p model.SchedulerParams) float64 {
	b := (d.P95 - d.P80) * p.BufferMultiplier
	return math.Min(p.MaxBufferMinutes, math.Max(p.MinBufferMinutes, b))
}

// Walk replays slots in order starting at from. A consultation that would
// overlap a break starts when the break ends.
func Walk(slots []Slot, from time.Time, cfg *model.DoctorConfig, p model.SchedulerParams) Replay {
	breaks := cfg.SortedBreaks()
	r := Replay{Visits: make([]Visit, 0, len(slots)), End: from}
	clock := from
	for _, s := range slots {
		if s.Skip {
			r.NoShows++
			r.Visits = append(r.Visits, Visit{Slot: s, Start: clock, End: clock})
			continue
		}
		idle := math.Max(0, model.MinutesBetween(clock, s.Arrival))
		start := clock
		if s.Arrival.After(start) {
			start = s.Arrival
		}
		length := model.Minutes(s.Duration + s.Buffer)
		for _, b := range breaks {
			if start.Before(b.End) && start.Add(length).After(b.Start) {
				start = b.End
			}
		}
		end := start.Add(length)
		delay := math.Max(0, model.MinutesBetween(s.Arrival, start))

		r.Visits = append(r.Visits, Visit{Slot: s, Start: start, End: end, Delay: delay, Idle: idle})
		r.Served++
		r.TotalDelay += delay
		r.TotalIdle += idle
		r.WeightedDelay += p.Alpha(s.Patient.Priority) * (1 + p.RescheduleWeight*float64(s.Patient.RescheduleCount)) * delay
		if delay > r.MaxDelay {
			r.MaxDelay = delay
		}
		if s.Patient.Priority.IsEmergency() {
			r.EmergencyCount++
			if delay > p.EmergencySLAMinutes {
				r.SLAViolations++
			}
		}
		clock = end
	}
	r.End = clock
	if r.Served > 0 {
		r.Overtime = math.Max(0, model.MinutesBetween(cfg.ClinicEnd, clock))
		softEnd := cfg.ClinicEnd.Add(-model.Minutes(cfg.EmergencyBufferMinutes))
		r.CostOvertime = math.Max(0, model.MinutesBetween(softEnd, clock))
	}
	return r
}
