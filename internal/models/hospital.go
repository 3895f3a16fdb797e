package models

import "time"

type UnitType string

const (
	UnitICU     UnitType = "icu"
	UnitGeneral UnitType = "general"
)

type BedCapacity struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

type Hospital struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Location Location    `json:"location"`
	ICU      BedCapacity `json:"icu"`
	General  BedCapacity `json:"general"`
	// Load is the current occupancy percentage, 0-100.
	Load      float64        `json:"load"`
	SurgeMode bool           `json:"surge_mode"`
	BloodBank map[string]int `json:"blood_bank,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (h *Hospital) Capacity(unit UnitType) *BedCapacity {
	if unit == UnitICU {
		return &h.ICU
	}
	return &h.General
}

type ResponderAvailability string

const (
	ResponderAvailable ResponderAvailability = "available"
	ResponderBusy      ResponderAvailability = "busy"
)

type Responder struct {
	ID           string                `json:"id"`
	Location     Location              `json:"location"`
	Availability ResponderAvailability `json:"availability"`
	UpdatedAt    time.Time             `json:"updated_at"`
}
