package triage

import "github.com/kvernekar/go-ems-dispatch/internal/models"

// Score computes the triage priority for an emergency, clamped to [0,100].
// Base 30, +40 critical / +25 high, +10 for age >65 or <5, +15 for
// traumaIndex >7. Age 0 means unknown and contributes nothing.
func Score(severity models.Severity, age int, traumaIndex float64) int {
	score := 30

	switch severity {
	case models.SeverityCritical:
		score += 40
	case models.SeverityHigh:
		score += 25
	}

	if age > 65 || (age > 0 && age < 5) {
		score += 10
	}
	if traumaIndex > 7 {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ScoreEmergency scores from the emergency's own fast data.
func ScoreEmergency(e *models.Emergency) int {
	return Score(e.Severity, e.Patient.Age, e.Patient.TraumaIndex)
}
