package optimizer

import (
	"fmt"

	"github.com/kilianp07/clinicflow/core/model"
)

func buildTimeline(r Replay) []model.TimelineEntry {
	out := make([]model.TimelineEntry, 0, len(r.Visits))
	for i, v := range r.Visits {
		out = append(out, model.TimelineEntry{
			PatientID:        v.Patient.ID,
			Position:         i,
			Priority:         v.Patient.Priority,
			PredictedArrival: v.Arrival,
			PlannedStart:     v.Start,
			PlannedEnd:       v.End,
			DurationMinutes:  v.Duration,
			BufferMinutes:    v.Buffer,
			WaitMinutes:      v.Delay,
			IdleBeforeMins:   v.Idle,
			Confidence:       confidence(v.Patient),
		})
	}
	return out
}

// confidence shrinks as the combined spread of arrival and duration grows.
// Arrived patients contribute no arrival uncertainty.
func confidence(p model.Patient) float64 {
	spread := 0.0
	if p.Duration != nil {
		spread += p.Duration.Spread()
	}
	if p.ETA != nil && !p.Arrived {
		spread += p.ETA.Spread()
	}
	if spread < 0 {
		spread = 0
	}
	return 1 / (1 + spread/30)
}

func buildMetrics(r Replay, timeline []model.TimelineEntry, cfg *model.DoctorConfig, p model.SchedulerParams) model.ScheduleMetrics {
	m := model.ScheduleMetrics{
		TotalDelayMinutes:      r.TotalDelay,
		AvgDelayMinutes:        r.AvgDelay(),
		MaxDelayMinutes:        r.MaxDelay,
		TotalIdleMinutes:       r.TotalIdle,
		OvertimeMinutes:        r.Overtime,
		EmergencyCount:         r.EmergencyCount,
		EmergencySLAViolations: r.SLAViolations,
		EmergencySLACompliance: 1,
		TotalCost:              r.Cost(p),
		ProjectedEnd:           r.End,
	}
	if r.EmergencyCount > 0 {
		m.EmergencySLACompliance = 1 - float64(r.SLAViolations)/float64(r.EmergencyCount)
	}
	if cfg.MaxOvertimeMinutes > 0 && r.Overtime > cfg.MaxOvertimeMinutes {
		m.ExceedsOvertimeAllowance = true
	}
	if len(timeline) > 0 {
		sum := 0.0
		for _, e := range timeline {
			sum += e.Confidence
		}
		m.AvgConfidence = sum / float64(len(timeline))
	}
	return m
}

// Diff compares the previous queue order with the new sequence by patient id.
func Diff(previous, next []model.Patient) []model.ScheduleChange {
	prevPos := make(map[string]int, len(previous))
	for i, p := range previous {
		prevPos[p.ID] = i
	}
	nextPos := make(map[string]int, len(next))
	var changes []model.ScheduleChange
	for i, p := range next {
		nextPos[p.ID] = i
		from, ok := prevPos[p.ID]
		switch {
		case !ok:
			note := fmt.Sprintf("%s added at position %d", label(p), i+1)
			if p.Priority.IsEmergency() {
				note = fmt.Sprintf("emergency %s inserted at position %d", label(p), i+1)
			}
			changes = append(changes, model.ScheduleChange{PatientID: p.ID, Kind: model.ChangeAdded, From: -1, To: i, Note: note})
		case from != i:
			dir := "down"
			if i < from {
				dir = "up"
			}
			changes = append(changes, model.ScheduleChange{
				PatientID: p.ID,
				Kind:      model.ChangeMoved,
				From:      from,
				To:        i,
				Note:      fmt.Sprintf("%s moved %s from position %d to %d", label(p), dir, from+1, i+1),
			})
		}
	}
	for i, p := range previous {
		if _, ok := nextPos[p.ID]; !ok {
			changes = append(changes, model.ScheduleChange{
				PatientID: p.ID,
				Kind:      model.ChangeRemoved,
				From:      i,
				To:        -1,
				Note:      fmt.Sprintf("%s removed from the queue", label(p)),
			})
		}
	}
	return changes
}

func label(p model.Patient) string {
	if p.Name != "" {
		return fmt.Sprintf("%s (%s)", p.Name, p.ID)
	}
	return p.ID
}
