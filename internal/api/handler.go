package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kvernekar/go-ems-dispatch/internal/bus"
	"github.com/kvernekar/go-ems-dispatch/internal/dispatch"
	"github.com/kvernekar/go-ems-dispatch/internal/ledger"
	"github.com/kvernekar/go-ems-dispatch/internal/models"
	"github.com/kvernekar/go-ems-dispatch/internal/store"
)

type Handler struct {
	engine *dispatch.Engine
	store  store.Store
	bus    *bus.Bus
}

func NewHandler(engine *dispatch.Engine, st store.Store, b *bus.Bus) *Handler {
	return &Handler{
		engine: engine,
		store:  st,
		bus:    b,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	api.POST("/emergencies", h.createEmergency)
	api.GET("/emergencies", h.listEmergencies)
	api.POST("/emergencies/:id/accept", h.acceptAssignment)
	api.POST("/emergencies/:id/reject", h.rejectAssignment)
	api.PATCH("/emergencies/:id/status", h.advanceStatus)
	api.POST("/emergencies/:id/admission", h.evaluateAdmission)
	api.DELETE("/reservations/:id", h.releaseReservation)
	api.GET("/responders/:id/emergencies", h.responderEmergencies)
	api.POST("/responders/:id/location", h.updateLocation)
	api.GET("/hospitals", h.listHospitals)
	api.PUT("/hospitals/:id/beds", h.updateBeds)
	api.GET("/events", h.streamEvents)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createEmergencyRequest struct {
	Description string                 `json:"description"`
	Lat         float64                `json:"lat"`
	Lon         float64                `json:"lon"`
	Severity    string                 `json:"severity"`
	Patient     models.PatientFastData `json:"patient"`
}

func (h *Handler) createEmergency(c *gin.Context) {
	var req createEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	emg, err := h.engine.Create(c.Request.Context(), dispatch.CreateInput{
		Description: req.Description,
		Location:    models.Location{Lat: req.Lat, Lon: req.Lon},
		Severity:    models.Severity(req.Severity),
		Patient:     req.Patient,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, emg)
}

func (h *Handler) listEmergencies(c *gin.Context) {
	filter := store.EmergencyFilter{
		Limit: 20, // Default to 20 emergencies if limit param not supplied
	}

	if s := c.Query("status"); s != "" {
		st := models.Status(s)
		if st.Valid() {
			filter.Status = &st
		}
	}
	if s := c.Query("severity"); s != "" {
		sev := models.Severity(s)
		if sev.Valid() {
			filter.Severity = &sev
		}
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	emergencies, err := h.store.FindEmergencies(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emergencies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"emergencies": emergencies})
}

type acceptRequest struct {
	ResponderID string `json:"responder_id"`
}

func (h *Handler) acceptAssignment(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	emg, err := h.engine.Accept(c.Request.Context(), c.Param("id"), req.ResponderID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, emg)
}

func (h *Handler) rejectAssignment(c *gin.Context) {
	emg, err := h.engine.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, emg)
}

type advanceRequest struct {
	Status string `json:"status"`
}

func (h *Handler) advanceStatus(c *gin.Context) {
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	emg, err := h.engine.Advance(c.Request.Context(), c.Param("id"), models.Status(req.Status))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, emg)
}

type admissionRequest struct {
	HospitalID string `json:"hospital_id"`
}

func (h *Handler) evaluateAdmission(c *gin.Context) {
	var req admissionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.HospitalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hospital_id is required"})
		return
	}

	decision, err := h.engine.EvaluateAdmission(c.Request.Context(), c.Param("id"), req.HospitalID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *Handler) releaseReservation(c *gin.Context) {
	if err := h.engine.ReleaseReservation(c.Request.Context(), c.Param("id")); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (h *Handler) responderEmergencies(c *gin.Context) {
	responderID := c.Param("id")
	emergencies, err := h.store.FindEmergencies(c.Request.Context(), store.EmergencyFilter{
		ResponderID: &responderID,
		Active:      true,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emergencies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"emergencies": emergencies})
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (h *Handler) updateLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	err := h.engine.UpdateResponderLocation(c.Request.Context(), c.Param("id"), models.Location{Lat: req.Lat, Lon: req.Lon})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *Handler) listHospitals(c *gin.Context) {
	hospitals, err := h.store.FindHospitals(c.Request.Context(), store.HospitalFilter{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch hospitals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hospitals": hospitals})
}

type bedsRequest struct {
	Name      string             `json:"name"`
	ICU       models.BedCapacity `json:"icu"`
	General   models.BedCapacity `json:"general"`
	Load      float64            `json:"load"`
	SurgeMode bool               `json:"surge_mode"`
	BloodBank map[string]int     `json:"blood_bank"`
}

func (h *Handler) updateBeds(c *gin.Context) {
	var req bedsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	ctx := c.Request.Context()
	hosp, err := h.store.GetHospital(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch hospital"})
		return
	}
	if hosp == nil {
		hosp = &models.Hospital{ID: c.Param("id")}
	}

	if req.Name != "" {
		hosp.Name = req.Name
	}
	hosp.ICU = req.ICU
	hosp.General = req.General
	hosp.Load = req.Load
	hosp.SurgeMode = req.SurgeMode
	if req.BloodBank != nil {
		hosp.BloodBank = req.BloodBank
	}

	if err := h.engine.UpdateHospitalBeds(ctx, hosp); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, hosp)
}

// streamEvents serves the role-scoped fan-out as an SSE stream.
func (h *Handler) streamEvents(c *gin.Context) {
	role := bus.Role(c.DefaultQuery("role", string(bus.RoleAdmin)))
	if !bus.ValidRole(role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	var topics []bus.Topic
	for _, t := range c.QueryArray("topic") {
		topics = append(topics, bus.Topic(t))
	}

	id, ch := h.bus.Subscribe(role, topics...)
	defer h.bus.Unsubscribe(id)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Topic), ev.Payload)
			return true
		}
	})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	var verr *dispatch.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case dispatch.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, dispatch.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrAlreadyAssigned),
		errors.Is(err, ledger.ErrReservationClosed),
		errors.Is(err, ledger.ErrCapacityUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrReservationExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
