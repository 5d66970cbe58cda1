package prediction

import (
	"fmt"
	"strings"

	"github.com/kilianp07/clinicflow/core/model"
)

// EscalationWaitMinutes is the wait after which a patient moves up one level.
const EscalationWaitMinutes = 60

// VitalSigns are optional measurements taken at check-in. Zero means unknown.
type VitalSigns struct {
	HeartRate        float64 `json:"heart_rate,omitempty"`
	SystolicBP       float64 `json:"systolic_bp,omitempty"`
	RespiratoryRate  float64 `json:"respiratory_rate,omitempty"`
	TemperatureC     float64 `json:"temperature_c,omitempty"`
	OxygenSaturation float64 `json:"oxygen_saturation,omitempty"`
}

// Classification is the outcome of ClassifyPriority.
type Classification struct {
	Priority   model.Priority `json:"priority"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
}

var (
	emergencyKeywords = []string{
		"chest pain", "shortness of breath", "difficulty breathing", "unconscious",
		"seizure", "severe bleeding", "stroke", "anaphylaxis", "suicidal", "overdose",
	}
	highKeywords = []string{
		"high fever", "severe pain", "fracture", "head injury", "dehydration",
		"allergic reaction", "vomiting blood", "confusion",
	}
	lowKeywords = []string{
		"routine", "follow-up", "follow up", "prescription renewal", "vaccination",
		"checkup", "check-up", "certificate",
	}
)

// ClassifyPriority maps symptoms, age and vital signs to a priority. Vital
// sign thresholds take precedence over keywords.
func ClassifyPriority(symptoms []string, age int, vitals *VitalSigns) Classification {
	text := strings.ToLower(strings.Join(symptoms, " "))

	if reasons := criticalVitals(vitals); len(reasons) > 0 {
		return Classification{Priority: model.PriorityEmergency, Confidence: 0.95, Reasons: reasons}
	}
	if kw := matchAny(text, emergencyKeywords); len(kw) > 0 {
		return Classification{Priority: model.PriorityEmergency, Confidence: 0.9, Reasons: keywordReasons(kw)}
	}

	var reasons []string
	reasons = append(reasons, keywordReasons(matchAny(text, highKeywords))...)
	reasons = append(reasons, elevatedVitals(vitals)...)
	if len(reasons) > 0 {
		return Classification{Priority: model.PriorityHigh, Confidence: 0.8, Reasons: reasons}
	}

	if kw := matchAny(text, lowKeywords); len(kw) > 0 && !vulnerableAge(age) {
		return Classification{Priority: model.PriorityLow, Confidence: 0.7, Reasons: keywordReasons(kw)}
	}
	if vulnerableAge(age) {
		return Classification{Priority: model.PriorityHigh, Confidence: 0.6, Reasons: []string{fmt.Sprintf("age %d", age)}}
	}
	return Classification{Priority: model.PriorityNormal, Confidence: 0.6, Reasons: []string{"no risk indicators"}}
}

// ReclassifyPriority escalates one level when the patient waited longer than
// EscalationWaitMinutes. Emergency is never assigned automatically.
func ReclassifyPriority(p model.Priority, waitingMinutes float64) model.Priority {
	if waitingMinutes > EscalationWaitMinutes {
		return p.Escalate()
	}
	return p
}

func criticalVitals(v *VitalSigns) []string {
	if v == nil {
		return nil
	}
	var out []string
	if v.OxygenSaturation > 0 && v.OxygenSaturation < 90 {
		out = append(out, fmt.Sprintf("oxygen saturation %.0f%%", v.OxygenSaturation))
	}
	if v.SystolicBP > 0 && (v.SystolicBP < 90 || v.SystolicBP > 180) {
		out = append(out, fmt.Sprintf("systolic pressure %.0f", v.SystolicBP))
	}
	if v.HeartRate > 0 && (v.HeartRate < 40 || v.HeartRate > 130) {
		out = append(out, fmt.Sprintf("heart rate %.0f", v.HeartRate))
	}
	if v.RespiratoryRate > 30 {
		out = append(out, fmt.Sprintf("respiratory rate %.0f", v.RespiratoryRate))
	}
	if v.TemperatureC >= 40 {
		out = append(out, fmt.Sprintf("temperature %.1f", v.TemperatureC))
	}
	return out
}

func elevatedVitals(v *VitalSigns) []string {
	if v == nil {
		return nil
	}
	var out []string
	if v.OxygenSaturation > 0 && v.OxygenSaturation < 94 {
		out = append(out, fmt.Sprintf("oxygen saturation %.0f%%", v.OxygenSaturation))
	}
	if v.TemperatureC >= 39 {
		out = append(out, fmt.Sprintf("temperature %.1f", v.TemperatureC))
	}
	if v.HeartRate > 110 {
		out = append(out, fmt.Sprintf("heart rate %.0f", v.HeartRate))
	}
	if v.SystolicBP > 160 {
		out = append(out, fmt.Sprintf("systolic pressure %.0f", v.SystolicBP))
	}
	return out
}

func vulnerableAge(age int) bool { return age >= 75 || (age > 0 && age < 2) }

func matchAny(text string, keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			out = append(out, k)
		}
	}
	return out
}

func keywordReasons(kw []string) []string {
	out := make([]string, len(kw))
	for i, k := range kw {
		out[i] = "symptom: " + k
	}
	return out
}
