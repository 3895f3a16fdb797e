package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvernekar/go-ems-dispatch/internal/admission"
	"github.com/kvernekar/go-ems-dispatch/internal/bus"
	"github.com/kvernekar/go-ems-dispatch/internal/ledger"
	"github.com/kvernekar/go-ems-dispatch/internal/models"
	"github.com/kvernekar/go-ems-dispatch/internal/store"
	"github.com/kvernekar/go-ems-dispatch/internal/triage"
	"github.com/kvernekar/go-ems-dispatch/internal/worker"
)

type Policy struct {
	// FallbackDelay is how long a new emergency may stay pending before the
	// default responder is dispatched. Zero disables auto-dispatch.
	FallbackDelay      time.Duration
	DefaultResponderID string
}

// Engine drives emergencies through the lifecycle state machine. All
// mutating operations on one emergency id are serialized through a
// per-id lock; bus publishes happen after the store write and never
// under any lock the allocation path needs.
type Engine struct {
	policy    Policy
	store     store.Store
	evaluator *admission.Evaluator
	ledger    *ledger.Ledger
	bus       *bus.Bus
	pool      *worker.Pool

	lmu   sync.Mutex
	locks map[string]*sync.Mutex

	tmu     sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewEngine(st store.Store, ev *admission.Evaluator, l *ledger.Ledger, b *bus.Bus, policy Policy, workers, bufferSize int) *Engine {
	return &Engine{
		policy:    policy,
		store:     st,
		evaluator: ev,
		ledger:    l,
		bus:       b,
		pool:      worker.NewPool(workers, bufferSize),
		locks:     make(map[string]*sync.Mutex),
		timers:    make(map[string]*time.Timer),
	}
}

func (e *Engine) Start(ctx context.Context) {
	e.pool.Start(ctx)
}

func (e *Engine) Stop() {
	e.tmu.Lock()
	e.stopped = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.tmu.Unlock()

	e.pool.Stop()
}

func (e *Engine) lockEmergency(id string) func() {
	e.lmu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	e.lmu.Unlock()

	m.Lock()
	return m.Unlock
}

type CreateInput struct {
	Description string
	Location    models.Location
	Severity    models.Severity
	Patient     models.PatientFastData
}

func validateCreate(in *CreateInput) error {
	if in.Severity == "" {
		in.Severity = models.SeverityCritical
	}
	if !in.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: "must be one of low, moderate, high, critical"}
	}
	if in.Location.Lat < -90 || in.Location.Lat > 90 {
		return &ValidationError{Field: "lat", Reason: "must be between -90 and 90"}
	}
	if in.Location.Lon < -180 || in.Location.Lon > 180 {
		return &ValidationError{Field: "lon", Reason: "must be between -180 and 180"}
	}
	if in.Patient.TraumaIndex < 0 || in.Patient.TraumaIndex > 10 {
		return &ValidationError{Field: "trauma_index", Reason: "must be between 0 and 10"}
	}
	if in.Patient.Age < 0 {
		return &ValidationError{Field: "age", Reason: "must not be negative"}
	}
	if in.Description == "" {
		in.Description = "emergency reported"
	}
	return nil
}

// Create registers a new emergency, publishes it and arms the fallback
// dispatch deadline.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Emergency, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	now := time.Now()
	emg := &models.Emergency{
		ID:          uuid.NewString(),
		Description: in.Description,
		Location:    in.Location,
		Severity:    in.Severity,
		Status:      models.StatusPending,
		Patient:     in.Patient,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	emg.Score = triage.ScoreEmergency(emg)

	if err := e.store.UpsertEmergency(ctx, emg); err != nil {
		return nil, fmt.Errorf("error persisting emergency: %w", err)
	}

	snapshot := *emg
	e.bus.Publish(bus.TopicNewEmergency, &snapshot)
	e.armFallback(emg.ID)

	slog.Info("emergency created", "id", emg.ID, "severity", emg.Severity, "score", emg.Score)
	return emg, nil
}

func (e *Engine) armFallback(emergencyID string) {
	if e.policy.FallbackDelay <= 0 {
		return
	}

	e.tmu.Lock()
	defer e.tmu.Unlock()
	if e.stopped {
		return
	}
	if t, ok := e.timers[emergencyID]; ok {
		t.Stop()
	}
	e.timers[emergencyID] = time.AfterFunc(e.policy.FallbackDelay, func() {
		e.autoAssign(emergencyID)
	})
}

func (e *Engine) cancelFallback(emergencyID string) {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	if t, ok := e.timers[emergencyID]; ok {
		t.Stop()
		delete(e.timers, emergencyID)
	}
}

// autoAssign fires at the fallback deadline. Checked under the emergency
// lock so a racing manual accept either wins cleanly or has already won;
// a no-longer-pending emergency makes this a no-op.
func (e *Engine) autoAssign(emergencyID string) {
	ctx := context.Background()

	unlock := e.lockEmergency(emergencyID)
	defer unlock()
	e.cancelFallback(emergencyID)

	emg, err := e.store.GetEmergency(ctx, emergencyID)
	if err != nil {
		slog.Error("fallback dispatch failed to load emergency", "id", emergencyID, "error", err)
		return
	}
	if emg == nil || emg.Status != models.StatusPending {
		return
	}

	emg.Status = models.StatusAssigned
	emg.ResponderID = e.policy.DefaultResponderID
	emg.UpdatedAt = time.Now()
	if err := e.store.UpsertEmergency(ctx, emg); err != nil {
		slog.Error("fallback dispatch failed to persist", "id", emergencyID, "error", err)
		return
	}

	e.markResponder(ctx, emg.ResponderID, models.ResponderBusy)
	e.publishStatus(emg)
	slog.Info("fallback dispatch", "id", emergencyID, "responder_id", emg.ResponderID)
}

// Accept assigns a responder to a pending emergency. When several
// responders race, exactly one succeeds; the rest get ErrAlreadyAssigned.
func (e *Engine) Accept(ctx context.Context, emergencyID, responderID string) (*models.Emergency, error) {
	if responderID == "" {
		return nil, &ValidationError{Field: "responder_id", Reason: "required"}
	}

	unlock := e.lockEmergency(emergencyID)
	defer unlock()

	emg, err := e.store.GetEmergency(ctx, emergencyID)
	if err != nil {
		return nil, fmt.Errorf("error loading emergency: %w", err)
	}
	if emg == nil {
		return nil, ErrNotFound
	}
	if emg.Status != models.StatusPending {
		return nil, ErrAlreadyAssigned
	}

	e.cancelFallback(emergencyID)

	emg.Status = models.StatusAssigned
	emg.ResponderID = responderID
	emg.UpdatedAt = time.Now()
	if err := e.store.UpsertEmergency(ctx, emg); err != nil {
		return nil, fmt.Errorf("error persisting assignment: %w", err)
	}

	e.markResponder(ctx, responderID, models.ResponderBusy)
	e.publishStatus(emg)
	return emg, nil
}

// Reject takes an accepted emergency back to pending, clears the responder
// and re-arms the fallback deadline so the case cannot starve.
func (e *Engine) Reject(ctx context.Context, emergencyID string) (*models.Emergency, error) {
	unlock := e.lockEmergency(emergencyID)
	defer unlock()

	emg, err := e.store.GetEmergency(ctx, emergencyID)
	if err != nil {
		return nil, fmt.Errorf("error loading emergency: %w", err)
	}
	if emg == nil {
		return nil, ErrNotFound
	}
	if emg.Status != models.StatusAccepted {
		return nil, ErrInvalidTransition
	}

	return e.rejectLocked(ctx, emg)
}

func (e *Engine) rejectLocked(ctx context.Context, emg *models.Emergency) (*models.Emergency, error) {
	prev := emg.ResponderID
	emg.Status = models.StatusPending
	emg.ResponderID = ""
	emg.UpdatedAt = time.Now()
	if err := e.store.UpsertEmergency(ctx, emg); err != nil {
		return nil, fmt.Errorf("error persisting rejection: %w", err)
	}

	if prev != "" {
		e.markResponder(ctx, prev, models.ResponderAvailable)
	}
	e.publishStatus(emg)
	e.armFallback(emg.ID)
	return emg, nil
}

// Advance moves an emergency to the next lifecycle status. Only the
// immediate successor and the accepted→pending reject edge are legal.
func (e *Engine) Advance(ctx context.Context, emergencyID string, next models.Status) (*models.Emergency, error) {
	if !next.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status"}
	}

	unlock := e.lockEmergency(emergencyID)
	defer unlock()

	emg, err := e.store.GetEmergency(ctx, emergencyID)
	if err != nil {
		return nil, fmt.Errorf("error loading emergency: %w", err)
	}
	if emg == nil {
		return nil, ErrNotFound
	}

	if emg.Status == models.StatusAccepted && next == models.StatusPending {
		return e.rejectLocked(ctx, emg)
	}

	succ, ok := emg.Status.Next()
	if !ok || next != succ {
		return nil, ErrInvalidTransition
	}
	if next == models.StatusAssigned {
		return nil, &ValidationError{Field: "status", Reason: "assignment requires a responder accept"}
	}

	emg.Status = next
	emg.UpdatedAt = time.Now()

	if next == models.StatusCompleted {
		e.completeLocked(ctx, emg)
	}

	if err := e.store.UpsertEmergency(ctx, emg); err != nil {
		return nil, fmt.Errorf("error persisting transition: %w", err)
	}

	e.publishStatus(emg)
	return emg, nil
}

// completeLocked consumes the bed hold (the bed stays occupied) and frees
// the responder.
func (e *Engine) completeLocked(ctx context.Context, emg *models.Emergency) {
	if emg.ReservationID != "" {
		if _, err := e.ledger.Consume(ctx, emg.ReservationID); err != nil {
			slog.Warn("could not consume reservation on completion", "id", emg.ID, "reservation_id", emg.ReservationID, "error", err)
		}
	}
	if emg.ResponderID != "" {
		e.markResponder(ctx, emg.ResponderID, models.ResponderAvailable)
	}
}

// EvaluateAdmission runs the capacity evaluator for an emergency against a
// hospital. An accept binds the reservation to the emergency.
func (e *Engine) EvaluateAdmission(ctx context.Context, emergencyID, hospitalID string) (*admission.Decision, error) {
	unlock := e.lockEmergency(emergencyID)
	defer unlock()

	emg, err := e.store.GetEmergency(ctx, emergencyID)
	if err != nil {
		return nil, fmt.Errorf("error loading emergency: %w", err)
	}
	if emg == nil {
		return nil, ErrNotFound
	}

	hosp, err := e.store.GetHospital(ctx, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("error loading hospital: %w", err)
	}
	if hosp == nil {
		return nil, ErrNotFound
	}

	if emg.ReservationID != "" {
		if r, ok := e.ledger.Get(emg.ReservationID); ok && r.State == models.ReservationActive {
			return nil, &ValidationError{Field: "reservation", Reason: "an active reservation already exists"}
		}
	}

	return e.evaluateLocked(ctx, emg, hosp)
}

func (e *Engine) evaluateLocked(ctx context.Context, emg *models.Emergency, hosp *models.Hospital) (*admission.Decision, error) {
	d, err := e.evaluator.Evaluate(ctx, emg, hosp)
	if err != nil {
		return nil, err
	}

	if d.Accepted {
		emg.HospitalID = hosp.ID
		emg.ReservationID = d.Reservation.ID
		emg.UpdatedAt = time.Now()
		if err := e.store.UpsertEmergency(ctx, emg); err != nil {
			return nil, fmt.Errorf("error persisting admission: %w", err)
		}
		e.publishStatus(emg)
		slog.Info("admission accepted", "id", emg.ID, "hospital_id", hosp.ID, "unit", d.Unit)
	} else {
		slog.Info("admission rejected", "id", emg.ID, "hospital_id", hosp.ID, "reason", d.Reason, "alternative", d.AlternativeHospitalID)
	}
	return d, nil
}

// ReleaseReservation frees a held bed and detaches it from its emergency.
func (e *Engine) ReleaseReservation(ctx context.Context, reservationID string) error {
	r, err := e.ledger.Release(ctx, reservationID)
	if err != nil {
		return err
	}

	unlock := e.lockEmergency(r.EmergencyID)
	defer unlock()

	emg, err := e.store.GetEmergency(ctx, r.EmergencyID)
	if err != nil {
		return fmt.Errorf("error loading emergency: %w", err)
	}
	if emg == nil || emg.ReservationID != reservationID {
		return nil
	}

	emg.ReservationID = ""
	emg.UpdatedAt = time.Now()
	if err := e.store.UpsertEmergency(ctx, emg); err != nil {
		return fmt.Errorf("error persisting release: %w", err)
	}
	e.publishStatus(emg)
	return nil
}

// SweepReservations expires overdue holds and queues each bound emergency
// for re-evaluation on the worker pool.
func (e *Engine) SweepReservations(ctx context.Context) {
	expired := e.ledger.Sweep(ctx, time.Now())
	for _, r := range expired {
		res := r
		e.pool.Submit(func(ctx context.Context) error {
			return e.reevaluate(ctx, res)
		})
	}
}

// reevaluate re-runs the admission decision after a hold expired. The same
// inputs may now decide differently because capacity or surge state moved.
func (e *Engine) reevaluate(ctx context.Context, r models.Reservation) error {
	unlock := e.lockEmergency(r.EmergencyID)
	defer unlock()

	emg, err := e.store.GetEmergency(ctx, r.EmergencyID)
	if err != nil {
		return fmt.Errorf("error loading emergency for re-evaluation: %w", err)
	}
	if emg == nil || emg.ReservationID != r.ID {
		return nil
	}

	emg.ReservationID = ""
	emg.UpdatedAt = time.Now()
	if err := e.store.UpsertEmergency(ctx, emg); err != nil {
		return fmt.Errorf("error clearing expired reservation: %w", err)
	}
	e.publishStatus(emg)

	hosp, err := e.store.GetHospital(ctx, r.HospitalID)
	if err != nil {
		return fmt.Errorf("error loading hospital for re-evaluation: %w", err)
	}
	if hosp == nil {
		return nil
	}

	slog.Info("re-evaluating admission after expiry", "id", emg.ID, "hospital_id", hosp.ID)
	_, err = e.evaluateLocked(ctx, emg, hosp)
	return err
}

// UpdateResponderLocation records a responder position and fans it out.
func (e *Engine) UpdateResponderLocation(ctx context.Context, responderID string, loc models.Location) error {
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		return &ValidationError{Field: "location", Reason: "coordinates out of range"}
	}

	r, err := e.store.GetResponder(ctx, responderID)
	if err != nil {
		return fmt.Errorf("error loading responder: %w", err)
	}
	if r == nil {
		r = &models.Responder{ID: responderID, Availability: models.ResponderAvailable}
	}
	r.Location = loc
	r.UpdatedAt = time.Now()
	if err := e.store.UpsertResponder(ctx, r); err != nil {
		return fmt.Errorf("error persisting responder: %w", err)
	}

	e.bus.Publish(bus.TopicLocationUpdate, models.LocationUpdate{ResponderID: responderID, Location: loc})
	return nil
}

// UpdateHospitalBeds applies a hospital console update to capacity, load
// and surge state. Availability is clamped to [0, total].
func (e *Engine) UpdateHospitalBeds(ctx context.Context, h *models.Hospital) error {
	if h.ICU.Total < 0 || h.General.Total < 0 {
		return &ValidationError{Field: "total", Reason: "must not be negative"}
	}
	clamp := func(c *models.BedCapacity) {
		if c.Available < 0 {
			c.Available = 0
		}
		if c.Available > c.Total {
			c.Available = c.Total
		}
	}
	clamp(&h.ICU)
	clamp(&h.General)
	if h.Load < 0 {
		h.Load = 0
	}
	if h.Load > 100 {
		h.Load = 100
	}

	h.UpdatedAt = time.Now()
	if err := e.store.UpsertHospital(ctx, h); err != nil {
		return fmt.Errorf("error persisting hospital: %w", err)
	}
	return nil
}

func (e *Engine) markResponder(ctx context.Context, id string, availability models.ResponderAvailability) {
	r, err := e.store.GetResponder(ctx, id)
	if err != nil {
		slog.Error("error loading responder", "id", id, "error", err)
		return
	}
	if r == nil {
		r = &models.Responder{ID: id}
	}
	r.Availability = availability
	r.UpdatedAt = time.Now()
	if err := e.store.UpsertResponder(ctx, r); err != nil {
		slog.Error("error persisting responder availability", "id", id, "error", err)
	}
}

func (e *Engine) publishStatus(emg *models.Emergency) {
	e.bus.Publish(bus.TopicStatusUpdate, models.StatusUpdate{
		EmergencyID:   emg.ID,
		Status:        emg.Status,
		ResponderID:   emg.ResponderID,
		HospitalID:    emg.HospitalID,
		ReservationID: emg.ReservationID,
	})
}

// IsNotFound reports whether err is any of the engine's not-found failures.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ledger.ErrNotFound)
}
