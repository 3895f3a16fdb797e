package store

import (
	"context"

	"github.com/kvernekar/go-ems-dispatch/internal/models"
)

type EmergencyFilter struct {
	Limit       int
	Status      *models.Status
	Severity    *models.Severity
	ResponderID *string
	// Active keeps only non-completed emergencies.
	Active bool
}

type HospitalFilter struct {
	SurgeMode *bool
}

// Stores return (nil, nil) when the id is unknown.

type EmergencyStore interface {
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
	UpsertEmergency(ctx context.Context, e *models.Emergency) error
	FindEmergencies(ctx context.Context, f EmergencyFilter) ([]models.Emergency, error)
}

type HospitalStore interface {
	GetHospital(ctx context.Context, id string) (*models.Hospital, error)
	UpsertHospital(ctx context.Context, h *models.Hospital) error
	FindHospitals(ctx context.Context, f HospitalFilter) ([]models.Hospital, error)
}

type ResponderStore interface {
	GetResponder(ctx context.Context, id string) (*models.Responder, error)
	UpsertResponder(ctx context.Context, r *models.Responder) error
}

type Store interface {
	EmergencyStore
	HospitalStore
	ResponderStore
}
