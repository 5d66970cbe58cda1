package simulator

import (
	"fmt"
	"time"

	"github.com/kilianp07/clinicflow/core/model"
)

const (
	tightGapMinutes       = 5
	bottleneckSpread      = 20
	overtimeRiskThreshold = 0.3
	delayRiskMinutes      = 30
	idleRiskMinutes       = 60
)

// Risk levels reported by AnalyzeRisk.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskPeriod is a hand-over between two consultations with little slack.
type RiskPeriod struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	PatientID     string    `json:"patient_id"`
	NextPatientID string    `json:"next_patient_id"`
	GapMinutes    float64   `json:"gap_minutes"`
}

// Bottleneck is a consultation whose length is hard to predict.
type Bottleneck struct {
	PatientID     string  `json:"patient_id"`
	SpreadMinutes float64 `json:"spread_minutes"`
}

// RiskAnalysis summarizes where a schedule is fragile.
type RiskAnalysis struct {
	Level           string       `json:"level"`
	HighRiskPeriods []RiskPeriod `json:"high_risk_periods"`
	Bottlenecks     []Bottleneck `json:"bottlenecks"`
	Recommendations []string     `json:"recommendations"`
}

// AnalyzeRisk inspects the timeline of schedule and, when result is not nil,
// the simulated outcomes.
func AnalyzeRisk(schedule *model.OptimizedSchedule, result *SimulationResult) RiskAnalysis {
	var ra RiskAnalysis
	if schedule == nil {
		ra.Level = RiskLow
		return ra
	}
	for i := 0; i+1 < len(schedule.Timeline); i++ {
		cur, next := schedule.Timeline[i], schedule.Timeline[i+1]
		gap := model.MinutesBetween(cur.PlannedEnd, next.PlannedStart)
		if gap < tightGapMinutes {
			ra.HighRiskPeriods = append(ra.HighRiskPeriods, RiskPeriod{
				Start:         cur.PlannedEnd,
				End:           next.PlannedStart,
				PatientID:     cur.PatientID,
				NextPatientID: next.PatientID,
				GapMinutes:    gap,
			})
		}
	}
	for _, p := range schedule.Sequence {
		if p.Duration == nil {
			continue
		}
		if spread := p.Duration.Spread(); spread > bottleneckSpread {
			ra.Bottlenecks = append(ra.Bottlenecks, Bottleneck{PatientID: p.ID, SpreadMinutes: spread})
		}
	}

	high := false
	if result != nil {
		if result.OvertimeProbability > overtimeRiskThreshold {
			ra.Recommendations = append(ra.Recommendations, fmt.Sprintf(
				"overtime in %.0f%% of scenarios: move low-priority patients to another session or extend clinic hours",
				result.OvertimeProbability*100))
			high = high || result.OvertimeProbability > 0.5
		}
		if result.P95DelayMinutes > delayRiskMinutes {
			ra.Recommendations = append(ra.Recommendations, fmt.Sprintf(
				"p95 average delay is %.0f minutes: plan at a higher quantile or increase the buffer multiplier",
				result.P95DelayMinutes))
			high = high || result.P95DelayMinutes > 1.5*delayRiskMinutes
		}
		if result.AvgIdleMinutes > idleRiskMinutes {
			ra.Recommendations = append(ra.Recommendations, fmt.Sprintf(
				"doctor idles %.0f minutes on average: plan at a lower quantile or tighten bookings",
				result.AvgIdleMinutes))
		}
		if result.AvgSLAViolations > 0 {
			ra.Recommendations = append(ra.Recommendations,
				"emergencies wait beyond the SLA in some scenarios: keep the end-of-day emergency buffer free")
		}
	}
	if n := len(schedule.Timeline); n > 1 && len(ra.HighRiskPeriods)*2 > n-1 {
		ra.Recommendations = append(ra.Recommendations, fmt.Sprintf(
			"%d of %d hand-overs have under %d minutes of slack: spread appointments out",
			len(ra.HighRiskPeriods), n-1, tightGapMinutes))
	}
	if len(ra.Bottlenecks) > 0 {
		ra.Recommendations = append(ra.Recommendations, fmt.Sprintf(
			"%d consultations have highly variable length: book them at the end of a block",
			len(ra.Bottlenecks)))
	}

	switch {
	case high:
		ra.Level = RiskHigh
	case len(ra.Recommendations) > 0:
		ra.Level = RiskMedium
	default:
		ra.Level = RiskLow
		ra.Recommendations = []string{"schedule looks robust"}
	}
	return ra
}
