package triage

import (
	"testing"

	"github.com/kvernekar/go-ems-dispatch/internal/models"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		severity models.Severity
		age      int
		trauma   float64
		want     int
	}{
		{"low baseline", models.SeverityLow, 30, 0, 30},
		{"moderate baseline", models.SeverityModerate, 30, 0, 30},
		{"high", models.SeverityHigh, 30, 0, 55},
		{"critical", models.SeverityCritical, 30, 0, 70},
		{"critical elderly", models.SeverityCritical, 70, 0, 80},
		{"critical infant", models.SeverityCritical, 3, 0, 80},
		{"critical high trauma", models.SeverityCritical, 30, 8.5, 85},
		{"critical elderly high trauma", models.SeverityCritical, 80, 9, 95},
		{"trauma at threshold not counted", models.SeverityLow, 30, 7, 30},
		{"unknown age no bonus", models.SeverityCritical, 0, 0, 70},
		{"unknown severity baseline", models.Severity("bogus"), 30, 0, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.severity, tt.age, tt.trauma)
			if got != tt.want {
				t.Errorf("Score(%s, %d, %.1f) = %d, want %d", tt.severity, tt.age, tt.trauma, got, tt.want)
			}
		})
	}
}

func TestScore_Range(t *testing.T) {
	severities := []models.Severity{models.SeverityLow, models.SeverityModerate, models.SeverityHigh, models.SeverityCritical}
	for _, sev := range severities {
		for age := 0; age <= 100; age += 5 {
			for trauma := 0.0; trauma <= 10; trauma += 0.5 {
				got := Score(sev, age, trauma)
				if got < 0 || got > 100 {
					t.Fatalf("Score(%s, %d, %.1f) = %d out of range", sev, age, trauma, got)
				}
			}
		}
	}
}

func TestScore_MonotoneInSeverity(t *testing.T) {
	severities := []models.Severity{models.SeverityLow, models.SeverityModerate, models.SeverityHigh, models.SeverityCritical}
	for i := 1; i < len(severities); i++ {
		lower := Score(severities[i-1], 40, 5)
		higher := Score(severities[i], 40, 5)
		if higher < lower {
			t.Errorf("score decreased from %s (%d) to %s (%d)", severities[i-1], lower, severities[i], higher)
		}
	}
}

func TestScore_MonotoneInTrauma(t *testing.T) {
	prev := -1
	for trauma := 0.0; trauma <= 10; trauma += 0.25 {
		got := Score(models.SeverityHigh, 40, trauma)
		if got < prev {
			t.Errorf("score decreased at trauma %.2f: %d < %d", trauma, got, prev)
		}
		prev = got
	}
}

func TestScoreEmergency(t *testing.T) {
	e := &models.Emergency{
		Severity: models.SeverityCritical,
		Patient:  models.PatientFastData{Age: 68, TraumaIndex: 8},
	}
	if got := ScoreEmergency(e); got != 95 {
		t.Errorf("ScoreEmergency = %d, want 95", got)
	}
}
