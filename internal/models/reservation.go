package models

import "time"

type ReservationState string

const (
	ReservationActive   ReservationState = "active"
	ReservationConsumed ReservationState = "consumed"
	ReservationReleased ReservationState = "released"
	ReservationExpired  ReservationState = "expired"
)

// Reservation is a time-bounded hold on one bed of a given unit type.
// Active is the only non-terminal state.
type Reservation struct {
	ID          string           `json:"id"`
	EmergencyID string           `json:"emergency_id"`
	HospitalID  string           `json:"hospital_id"`
	Unit        UnitType         `json:"unit"`
	State       ReservationState `json:"state"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

func (r *Reservation) Remaining(now time.Time) time.Duration {
	if r.State != ReservationActive {
		return 0
	}
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
