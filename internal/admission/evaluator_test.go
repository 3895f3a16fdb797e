package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kvernekar/go-ems-dispatch/internal/ledger"
	"github.com/kvernekar/go-ems-dispatch/internal/models"
	"github.com/kvernekar/go-ems-dispatch/internal/store"
)

// mockHospitalStore implements store.HospitalStore for testing
type mockHospitalStore struct {
	mu        sync.Mutex
	hospitals map[string]*models.Hospital
}

func newMockHospitals(hs ...*models.Hospital) *mockHospitalStore {
	m := &mockHospitalStore{hospitals: make(map[string]*models.Hospital)}
	for _, h := range hs {
		copy := *h
		m.hospitals[h.ID] = &copy
	}
	return m
}

func (m *mockHospitalStore) GetHospital(ctx context.Context, id string) (*models.Hospital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hospitals[id]
	if !ok {
		return nil, nil
	}
	copy := *h
	return &copy, nil
}

func (m *mockHospitalStore) UpsertHospital(ctx context.Context, h *models.Hospital) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *h
	m.hospitals[h.ID] = &copy
	return nil
}

func (m *mockHospitalStore) FindHospitals(ctx context.Context, f store.HospitalFilter) ([]models.Hospital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Hospital
	for _, h := range m.hospitals {
		if f.SurgeMode != nil && h.SurgeMode != *f.SurgeMode {
			continue
		}
		out = append(out, *h)
	}
	return out, nil
}

func defaultPolicy() Policy {
	return Policy{
		SurgeScoreThreshold: 80,
		OverloadThreshold:   95,
		ReservationTTL:      time.Minute,
	}
}

func setupEvaluator(hs *mockHospitalStore) *Evaluator {
	return New(hs, ledger.New(hs, time.Minute), defaultPolicy())
}

func TestRequiredUnit(t *testing.T) {
	tests := []struct {
		name     string
		severity models.Severity
		trauma   float64
		want     models.UnitType
	}{
		{"critical needs icu", models.SeverityCritical, 0, models.UnitICU},
		{"high needs icu", models.SeverityHigh, 0, models.UnitICU},
		{"heavy trauma needs icu", models.SeverityModerate, 8, models.UnitICU},
		{"moderate gets general", models.SeverityModerate, 3, models.UnitGeneral},
		{"low gets general", models.SeverityLow, 0, models.UnitGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &models.Emergency{Severity: tt.severity, Patient: models.PatientFastData{TraumaIndex: tt.trauma}}
			if got := RequiredUnit(e); got != tt.want {
				t.Errorf("RequiredUnit = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEvaluate_SurgeRestricted(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", SurgeMode: true, ICU: models.BedCapacity{Total: 5, Available: 5}, General: models.BedCapacity{Total: 5, Available: 5}, Load: 50},
		&models.Hospital{ID: "h2", Load: 70},
		&models.Hospital{ID: "h3", Load: 40},
	)
	ev := setupEvaluator(hs)

	e := &models.Emergency{ID: "emg_1", Severity: models.SeverityModerate, Score: 40}
	h, _ := hs.GetHospital(context.Background(), "h1")

	d, err := ev.Evaluate(context.Background(), e, h)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Accepted {
		t.Fatal("expected rejection under surge")
	}
	if d.Reason != ReasonSurgeRestricted {
		t.Errorf("expected surge-restricted, got %s", d.Reason)
	}
	if d.AlternativeHospitalID != "h3" {
		t.Errorf("expected lowest-load non-surging alternative h3, got %s", d.AlternativeHospitalID)
	}
}

func TestEvaluate_SurgeAdmitsCritical(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", SurgeMode: true, ICU: models.BedCapacity{Total: 5, Available: 2}, Load: 50},
	)
	ev := setupEvaluator(hs)

	e := &models.Emergency{ID: "emg_1", Severity: models.SeverityCritical, Score: 70}
	h, _ := hs.GetHospital(context.Background(), "h1")

	d, err := ev.Evaluate(context.Background(), e, h)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Accepted {
		t.Fatalf("critical must pass surge gate, got reject: %s", d.Reason)
	}
	if d.Unit != models.UnitICU {
		t.Errorf("expected icu unit, got %s", d.Unit)
	}
}

func TestEvaluate_SurgeAdmitsHighScore(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", SurgeMode: true, ICU: models.BedCapacity{Total: 5, Available: 2}, Load: 50},
	)
	ev := setupEvaluator(hs)

	// high severity + heavy trauma + elderly: score 80 >= threshold
	e := &models.Emergency{ID: "emg_1", Severity: models.SeverityHigh, Score: 80, Patient: models.PatientFastData{TraumaIndex: 8}}
	h, _ := hs.GetHospital(context.Background(), "h1")

	d, err := ev.Evaluate(context.Background(), e, h)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Accepted {
		t.Errorf("score at threshold must pass surge gate, got reject: %s", d.Reason)
	}
}

func TestEvaluate_NoCapacityForCritical(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", ICU: models.BedCapacity{Total: 5, Available: 0}, General: models.BedCapacity{Total: 5, Available: 5}, Load: 50},
		&models.Hospital{ID: "h2", Load: 60},
	)
	ev := setupEvaluator(hs)

	e := &models.Emergency{ID: "emg_1", Severity: models.SeverityCritical, Score: 70}
	h, _ := hs.GetHospital(context.Background(), "h1")

	d, err := ev.Evaluate(context.Background(), e, h)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Accepted {
		t.Fatal("expected no-capacity rejection")
	}
	if d.Reason != ReasonNoCapacity {
		t.Errorf("expected no-capacity, got %s", d.Reason)
	}
	if d.AlternativeHospitalID != "h2" {
		t.Errorf("expected alternative h2, got %s", d.AlternativeHospitalID)
	}
}

func TestEvaluate_Overloaded(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", ICU: models.BedCapacity{Total: 5, Available: 5}, General: models.BedCapacity{Total: 5, Available: 5}, Load: 96},
		&models.Hospital{ID: "h2", Load: 60},
	)
	ev := setupEvaluator(hs)

	e := &models.Emergency{ID: "emg_1", Severity: models.SeverityLow, Score: 30}
	h, _ := hs.GetHospital(context.Background(), "h1")

	d, err := ev.Evaluate(context.Background(), e, h)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Accepted || d.Reason != ReasonOverloaded {
		t.Errorf("expected overloaded rejection, got %+v", d)
	}
}

func TestEvaluate_AcceptReservesBed(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", ICU: models.BedCapacity{Total: 5, Available: 2}, General: models.BedCapacity{Total: 10, Available: 4}, Load: 50},
	)
	ev := setupEvaluator(hs)

	e := &models.Emergency{ID: "emg_1", Severity: models.SeverityModerate, Score: 40, Patient: models.PatientFastData{TraumaIndex: 3}}
	h, _ := hs.GetHospital(context.Background(), "h1")

	d, err := ev.Evaluate(context.Background(), e, h)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Accepted {
		t.Fatalf("expected accept, got %s", d.Reason)
	}
	if d.Unit != models.UnitGeneral {
		t.Errorf("expected general unit, got %s", d.Unit)
	}
	if d.Reservation == nil || d.Reservation.EmergencyID != "emg_1" {
		t.Fatalf("expected reservation bound to emergency, got %+v", d.Reservation)
	}

	got, _ := hs.GetHospital(context.Background(), "h1")
	if got.General.Available != 3 {
		t.Errorf("expected general availability 3, got %d", got.General.Available)
	}
	if got.ICU.Available != 2 {
		t.Error("ICU capacity should be untouched")
	}
}

func TestEvaluate_ConcurrentAdmissions_OneBed(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", ICU: models.BedCapacity{Total: 5, Available: 1}, Load: 50},
		&models.Hospital{ID: "h2", Load: 60},
	)
	ev := setupEvaluator(hs)
	ctx := context.Background()

	h, _ := hs.GetHospital(ctx, "h1")

	var wg sync.WaitGroup
	decisions := make([]*Decision, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e := &models.Emergency{ID: "emg_" + string(rune('a'+n)), Severity: models.SeverityCritical, Score: 70}
			d, err := ev.Evaluate(ctx, e, h)
			if err != nil {
				t.Errorf("Evaluate failed: %v", err)
				return
			}
			decisions[n] = d
		}(i)
	}
	wg.Wait()

	accepts := 0
	for _, d := range decisions {
		if d == nil {
			t.Fatal("missing decision")
		}
		if d.Accepted {
			accepts++
		} else {
			if d.Reason != ReasonNoCapacity {
				t.Errorf("loser should see no-capacity, got %s", d.Reason)
			}
			if d.AlternativeHospitalID != "h2" {
				t.Errorf("loser should get alternative h2, got %s", d.AlternativeHospitalID)
			}
		}
	}
	if accepts != 1 {
		t.Errorf("expected exactly 1 accept, got %d", accepts)
	}

	got, _ := hs.GetHospital(ctx, "h1")
	if got.ICU.Available != 0 {
		t.Errorf("expected 0 ICU beds after race, got %d", got.ICU.Available)
	}
}

func TestEvaluate_ScoreComputedWhenMissing(t *testing.T) {
	hs := newMockHospitals(
		&models.Hospital{ID: "h1", SurgeMode: true, ICU: models.BedCapacity{Total: 5, Available: 5}, Load: 50},
		&models.Hospital{ID: "h2", Load: 60},
	)
	ev := setupEvaluator(hs)

	// Unscored moderate case: computed score 30 < 80, surge gate applies.
	e := &models.Emergency{ID: "emg_1", Severity: models.SeverityModerate}
	h, _ := hs.GetHospital(context.Background(), "h1")

	d, err := ev.Evaluate(context.Background(), e, h)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Accepted || d.Reason != ReasonSurgeRestricted {
		t.Errorf("expected surge-restricted for unscored moderate case, got %+v", d)
	}
}
