package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/kvernekar/go-ems-dispatch/internal/admission"
	"github.com/kvernekar/go-ems-dispatch/internal/api"
	"github.com/kvernekar/go-ems-dispatch/internal/bus"
	"github.com/kvernekar/go-ems-dispatch/internal/config"
	"github.com/kvernekar/go-ems-dispatch/internal/dispatch"
	"github.com/kvernekar/go-ems-dispatch/internal/ledger"
	"github.com/kvernekar/go-ems-dispatch/internal/logging"
	"github.com/kvernekar/go-ems-dispatch/internal/models"
	"github.com/kvernekar/go-ems-dispatch/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := store.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedHospitals(ctx, db); err != nil {
		logging.Fatalf("Failed to seed hospitals: %v", err)
	}

	// Event bus for role-scoped SSE fan-out
	eventBus := bus.New()

	bedLedger := ledger.New(db, cfg.Reservation.TTL)
	evaluator := admission.New(db, bedLedger, admission.Policy{
		SurgeScoreThreshold: cfg.Admission.SurgeScoreThreshold,
		OverloadThreshold:   cfg.Admission.OverloadThreshold,
		ReservationTTL:      cfg.Reservation.TTL,
	})

	engine := dispatch.NewEngine(db, evaluator, bedLedger, eventBus, dispatch.Policy{
		FallbackDelay:      cfg.Dispatch.FallbackDelay,
		DefaultResponderID: cfg.Dispatch.DefaultResponderID,
	}, cfg.Worker.Count, cfg.Worker.BufferSize)
	engine.Start(ctx)

	// Periodic reservation sweep; expired holds are re-evaluated on the
	// engine's worker pool.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Reservation.SweepInterval), func() {
		engine.SweepReservations(ctx)
	})
	if err != nil {
		logging.Fatalf("Failed to schedule reservation sweep: %v", err)
	}
	scheduler.Start()

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS, cfg.Server.RateLimitRPS*2))

	handler := api.NewHandler(engine, db, eventBus)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	<-scheduler.Stop().Done()
	engine.Stop()
	eventBus.Close() // Close all streams gracefully

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

// seedHospitals loads a starter network on first boot so admission has
// somewhere to place patients before operators register real capacity.
func seedHospitals(ctx context.Context, db *store.SQLiteDB) error {
	existing, err := db.FindHospitals(ctx, store.HospitalFilter{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	seed := []*models.Hospital{
		{
			ID:      "hosp-safdarjung",
			Name:    "Safdarjung Hospital",
			ICU:     models.BedCapacity{Total: 12, Available: 12},
			General: models.BedCapacity{Total: 80, Available: 80},
			Load:    40,
			BloodBank: map[string]int{
				"O+": 24, "O-": 6, "A+": 18, "B+": 15, "AB+": 4,
			},
		},
		{
			ID:      "hosp-fortis",
			Name:    "Fortis Hospital",
			ICU:     models.BedCapacity{Total: 8, Available: 8},
			General: models.BedCapacity{Total: 50, Available: 50},
			Load:    55,
			BloodBank: map[string]int{
				"O+": 12, "A+": 10, "A-": 3, "B+": 8,
			},
		},
		{
			ID:      "hosp-max",
			Name:    "Max Super Speciality Hospital",
			ICU:     models.BedCapacity{Total: 10, Available: 10},
			General: models.BedCapacity{Total: 60, Available: 60},
			Load:    35,
			BloodBank: map[string]int{
				"O+": 20, "O-": 5, "B+": 14, "B-": 2, "AB+": 6,
			},
		},
		{
			ID:      "hosp-aiims-pune",
			Name:    "AIIMS Pune",
			ICU:     models.BedCapacity{Total: 16, Available: 16},
			General: models.BedCapacity{Total: 120, Available: 120},
			Load:    60,
			BloodBank: map[string]int{
				"O+": 30, "O-": 8, "A+": 22, "A-": 5, "B+": 18, "AB+": 7, "AB-": 2,
			},
		},
	}

	for _, h := range seed {
		if err := db.UpsertHospital(ctx, h); err != nil {
			return err
		}
	}
	slog.Info("seeded hospital network", "count", len(seed))
	return nil
}
