package models

// Event payloads published on the fan-out bus. new_emergency carries the
// full snapshot; status_update carries the assignment fields only.

type StatusUpdate struct {
	EmergencyID   string `json:"emergency_id"`
	Status        Status `json:"status"`
	ResponderID   string `json:"responder_id,omitempty"`
	HospitalID    string `json:"hospital_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

type LocationUpdate struct {
	ResponderID string   `json:"responder_id"`
	Location    Location `json:"location"`
}
