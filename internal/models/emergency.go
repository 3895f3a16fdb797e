package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities from low (0) to critical (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityModerate:
		return 1
	default:
		return 0
	}
}

type Status string

const (
	StatusPending         Status = "pending"
	StatusAssigned        Status = "assigned"
	StatusAccepted        Status = "accepted"
	StatusArrivedAtScene  Status = "arrived_at_scene"
	StatusPickedPatient   Status = "picked_patient"
	StatusEnRouteHospital Status = "en_route_hospital"
	StatusReachedHospital Status = "reached_hospital"
	StatusCompleted       Status = "completed"
)

var statusOrder = []Status{
	StatusPending,
	StatusAssigned,
	StatusAccepted,
	StatusArrivedAtScene,
	StatusPickedPatient,
	StatusEnRouteHospital,
	StatusReachedHospital,
	StatusCompleted,
}

func (s Status) Valid() bool {
	for _, st := range statusOrder {
		if s == st {
			return true
		}
	}
	return false
}

// Next returns the immediate successor in the lifecycle sequence.
// ok is false for completed (terminal) and for unknown statuses.
func (s Status) Next() (Status, bool) {
	for i, st := range statusOrder {
		if s == st && i < len(statusOrder)-1 {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PatientFastData is the handoff sheet a hospital sees before arrival.
// Age 0 means unknown; TraumaIndex runs 0-10.
type PatientFastData struct {
	Age         int      `json:"age,omitempty"`
	BloodGroup  string   `json:"blood_group,omitempty"`
	Conditions  []string `json:"conditions,omitempty"`
	Allergies   []string `json:"allergies,omitempty"`
	TraumaIndex float64  `json:"trauma_index,omitempty"`
}

type Emergency struct {
	ID            string          `json:"id"`
	Description   string          `json:"description"`
	Location      Location        `json:"location"`
	Severity      Severity        `json:"severity"`
	Status        Status          `json:"status"`
	ResponderID   string          `json:"responder_id,omitempty"`
	HospitalID    string          `json:"hospital_id,omitempty"`
	ReservationID string          `json:"reservation_id,omitempty"`
	Patient       PatientFastData `json:"patient"`
	Score         int             `json:"score"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
