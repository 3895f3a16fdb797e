package admission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kvernekar/go-ems-dispatch/internal/ledger"
	"github.com/kvernekar/go-ems-dispatch/internal/models"
	"github.com/kvernekar/go-ems-dispatch/internal/store"
	"github.com/kvernekar/go-ems-dispatch/internal/triage"
)

type RejectReason string

const (
	ReasonSurgeRestricted RejectReason = "surge-restricted"
	ReasonNoCapacity      RejectReason = "no-capacity"
	ReasonOverloaded      RejectReason = "overloaded"
)

type Decision struct {
	Accepted              bool                `json:"accepted"`
	Unit                  models.UnitType     `json:"unit,omitempty"`
	Reason                RejectReason        `json:"reason,omitempty"`
	AlternativeHospitalID string              `json:"alternative_hospital_id,omitempty"`
	Reservation           *models.Reservation `json:"reservation,omitempty"`
}

type Policy struct {
	// SurgeScoreThreshold is the minimum priority score a non-critical case
	// needs to get past a surging hospital.
	SurgeScoreThreshold int
	// OverloadThreshold is the load percentage above which nothing is admitted.
	OverloadThreshold float64
	ReservationTTL    time.Duration
}

// Evaluator decides whether a hospital may admit an emergency. Rules run in
// order, first match wins; an accept immediately holds a bed in the ledger.
type Evaluator struct {
	hospitals store.HospitalStore
	ledger    *ledger.Ledger
	policy    Policy
}

func New(hospitals store.HospitalStore, l *ledger.Ledger, policy Policy) *Evaluator {
	return &Evaluator{
		hospitals: hospitals,
		ledger:    l,
		policy:    policy,
	}
}

// RequiredUnit picks the bed type: ICU for heavy trauma or critical/high
// severity, general otherwise.
func RequiredUnit(e *models.Emergency) models.UnitType {
	if e.Patient.TraumaIndex > 7 || e.Severity == models.SeverityCritical || e.Severity == models.SeverityHigh {
		return models.UnitICU
	}
	return models.UnitGeneral
}

func (ev *Evaluator) Evaluate(ctx context.Context, e *models.Emergency, h *models.Hospital) (*Decision, error) {
	score := e.Score
	if score == 0 {
		score = triage.ScoreEmergency(e)
	}

	if h.SurgeMode && e.Severity != models.SeverityCritical && score < ev.policy.SurgeScoreThreshold {
		return ev.reject(ctx, ReasonSurgeRestricted, h.ID)
	}

	unit := RequiredUnit(e)
	if (e.Severity == models.SeverityCritical || e.Severity == models.SeverityHigh) && h.Capacity(unit).Available <= 0 {
		return ev.reject(ctx, ReasonNoCapacity, h.ID)
	}

	if h.Load > ev.policy.OverloadThreshold {
		return ev.reject(ctx, ReasonOverloaded, h.ID)
	}

	r, err := ev.ledger.Reserve(ctx, e.ID, h.ID, unit, ev.policy.ReservationTTL)
	if errors.Is(err, ledger.ErrCapacityUnavailable) {
		// Lost the bed to a concurrent admission between snapshot and reserve.
		return ev.reject(ctx, ReasonNoCapacity, h.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("error reserving bed: %w", err)
	}

	return &Decision{
		Accepted:    true,
		Unit:        unit,
		Reservation: r,
	}, nil
}

func (ev *Evaluator) reject(ctx context.Context, reason RejectReason, excludeHospitalID string) (*Decision, error) {
	alt, err := ev.alternative(ctx, excludeHospitalID)
	if err != nil {
		return nil, err
	}
	return &Decision{
		Accepted:              false,
		Reason:                reason,
		AlternativeHospitalID: alt,
	}, nil
}

// alternative is the best-ranked non-surging hospital by ascending load.
func (ev *Evaluator) alternative(ctx context.Context, excludeID string) (string, error) {
	surge := false
	hospitals, err := ev.hospitals.FindHospitals(ctx, store.HospitalFilter{SurgeMode: &surge})
	if err != nil {
		return "", fmt.Errorf("error finding alternative hospital: %w", err)
	}

	sort.Slice(hospitals, func(i, j int) bool {
		return hospitals[i].Load < hospitals[j].Load
	})
	for _, h := range hospitals {
		if h.ID != excludeID {
			return h.ID, nil
		}
	}
	return "", nil
}
