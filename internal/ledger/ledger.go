package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvernekar/go-ems-dispatch/internal/models"
	"github.com/kvernekar/go-ems-dispatch/internal/store"
)

var (
	ErrCapacityUnavailable = errors.New("no beds of the required type available")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrReservationClosed   = errors.New("reservation already consumed or released")
	ErrNotFound            = errors.New("reservation not found")
)

// Ledger tracks time-bounded bed holds. Hospital availability counters are
// only ever touched under that hospital's lock, so two concurrent reserves
// can never both see the last bed. Reservation state transitions happen
// under the ledger mutex exactly once; capacity restore follows the
// transition, never the other way around.
type Ledger struct {
	hospitals store.HospitalStore
	ttl       time.Duration

	mu           sync.Mutex
	reservations map[string]*models.Reservation

	hmu   sync.Mutex
	hlock map[string]*sync.Mutex
}

func New(hospitals store.HospitalStore, ttl time.Duration) *Ledger {
	return &Ledger{
		hospitals:    hospitals,
		ttl:          ttl,
		reservations: make(map[string]*models.Reservation),
		hlock:        make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) hospitalLock(id string) *sync.Mutex {
	l.hmu.Lock()
	defer l.hmu.Unlock()
	m, ok := l.hlock[id]
	if !ok {
		m = &sync.Mutex{}
		l.hlock[id] = m
	}
	return m
}

// Reserve holds one bed of the given unit type for an emergency. A zero ttl
// uses the ledger default. Fails with ErrCapacityUnavailable once the unit's
// availability is exhausted.
func (l *Ledger) Reserve(ctx context.Context, emergencyID, hospitalID string, unit models.UnitType, ttl time.Duration) (*models.Reservation, error) {
	if ttl <= 0 {
		ttl = l.ttl
	}

	hl := l.hospitalLock(hospitalID)
	hl.Lock()
	defer hl.Unlock()

	h, err := l.hospitals.GetHospital(ctx, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("error loading hospital %s: %w", hospitalID, err)
	}
	if h == nil {
		return nil, fmt.Errorf("hospital not found: %s", hospitalID)
	}

	cap := h.Capacity(unit)
	if cap.Available <= 0 {
		return nil, ErrCapacityUnavailable
	}
	cap.Available--
	if err := l.hospitals.UpsertHospital(ctx, h); err != nil {
		return nil, fmt.Errorf("error persisting hospital capacity: %w", err)
	}

	now := time.Now()
	r := &models.Reservation{
		ID:          uuid.NewString(),
		EmergencyID: emergencyID,
		HospitalID:  hospitalID,
		Unit:        unit,
		State:       models.ReservationActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	l.mu.Lock()
	l.reservations[r.ID] = r
	l.mu.Unlock()

	out := *r
	return &out, nil
}

// Release returns the bed to the pool and marks the reservation released.
func (l *Ledger) Release(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := l.transition(id, models.ReservationReleased)
	if err != nil {
		return nil, err
	}
	l.restore(ctx, r)
	return r, nil
}

// Consume marks the reservation consumed. The bed stays occupied.
func (l *Ledger) Consume(ctx context.Context, id string) (*models.Reservation, error) {
	return l.transition(id, models.ReservationConsumed)
}

// transition moves an active reservation to a terminal state exactly once.
func (l *Ledger) transition(id string, target models.ReservationState) (*models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch r.State {
	case models.ReservationActive:
	case models.ReservationExpired:
		return nil, ErrReservationExpired
	default:
		return nil, ErrReservationClosed
	}

	r.State = target
	out := *r
	return &out, nil
}

// Get returns a read-only snapshot. An active reservation past its deadline
// is reported as expired even before the sweep has run; nothing is mutated.
func (l *Ledger) Get(id string) (*models.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return nil, false
	}
	out := *r
	if out.State == models.ReservationActive && !time.Now().Before(out.ExpiresAt) {
		out.State = models.ReservationExpired
	}
	return &out, true
}

// Sweep expires every active reservation whose deadline has passed, restores
// the held beds, and returns the expired holds so their emergencies can be
// re-evaluated. Concurrent sweeps are safe: each hold expires exactly once.
func (l *Ledger) Sweep(ctx context.Context, now time.Time) []models.Reservation {
	l.mu.Lock()
	var expired []models.Reservation
	for _, r := range l.reservations {
		if r.State == models.ReservationActive && !now.Before(r.ExpiresAt) {
			r.State = models.ReservationExpired
			expired = append(expired, *r)
		}
	}
	l.mu.Unlock()

	for i := range expired {
		l.restore(ctx, &expired[i])
	}
	if len(expired) > 0 {
		slog.Info("expired reservations", "count", len(expired))
	}
	return expired
}

// restore hands the bed back, clamped so availability never exceeds total.
func (l *Ledger) restore(ctx context.Context, r *models.Reservation) {
	hl := l.hospitalLock(r.HospitalID)
	hl.Lock()
	defer hl.Unlock()

	h, err := l.hospitals.GetHospital(ctx, r.HospitalID)
	if err != nil || h == nil {
		slog.Error("error restoring capacity", "hospital_id", r.HospitalID, "reservation_id", r.ID, "error", err)
		return
	}

	cap := h.Capacity(r.Unit)
	if cap.Available < cap.Total {
		cap.Available++
	}
	if err := l.hospitals.UpsertHospital(ctx, h); err != nil {
		slog.Error("error persisting restored capacity", "hospital_id", r.HospitalID, "error", err)
	}
}
