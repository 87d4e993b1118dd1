// Package handlers exposes the booking gateway's HTTP surface: saving guest
// booking intents, weekly availability views, post-login restoration and
// appointment creation.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carevia/booking-gateway/internal/availability"
	"github.com/carevia/booking-gateway/internal/bookingctx"
	"github.com/carevia/booking-gateway/internal/http/middleware"
	"github.com/carevia/booking-gateway/internal/observability/metrics"
	"github.com/carevia/booking-gateway/internal/restore"
	"github.com/carevia/booking-gateway/internal/telemedapi"
	"github.com/carevia/booking-gateway/pkg/logging"
)

// SessionCookie names the cookie carrying the booking session key. The
// widget may instead send the key in the X-Session-Key header.
const SessionCookie = "booking_session"

// AppointmentsAPI is the remote write this handler depends on.
type AppointmentsAPI interface {
	CreateAppointment(ctx context.Context, bearerToken string, req telemedapi.AppointmentRequest) (*telemedapi.Appointment, error)
}

// BookingHandler serves the guest booking resumption flow.
type BookingHandler struct {
	store      bookingctx.Store
	controller *restore.Controller
	fetcher    *availability.Fetcher
	api        AppointmentsAPI
	logger     *logging.Logger
	metrics    *metrics.BookingMetrics
	now        func() time.Time
}

// NewBookingHandler creates a BookingHandler. metrics may be nil.
func NewBookingHandler(
	store bookingctx.Store,
	controller *restore.Controller,
	fetcher *availability.Fetcher,
	api AppointmentsAPI,
	logger *logging.Logger,
	m *metrics.BookingMetrics,
) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{
		store:      store,
		controller: controller,
		fetcher:    fetcher,
		api:        api,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// WithClock overrides the handler's time source. Used by tests.
func (h *BookingHandler) WithClock(now func() time.Time) *BookingHandler {
	h.now = now
	return h
}

type saveContextRequest struct {
	DoctorID           int     `json:"doctorId"`
	DoctorName         string  `json:"doctorName"`
	SpecializationName string  `json:"specializationName"`
	SelectedDate       string  `json:"selectedDate"`
	SelectedSlotID     int     `json:"selectedSlotId"`
	SelectedSlotTime   string  `json:"selectedSlotTime"`
	ConsultationFee    float64 `json:"consultationFee"`
}

type saveContextResponse struct {
	Saved      bool   `json:"saved"`
	ReturnURL  string `json:"returnUrl"`
	SessionKey string `json:"sessionKey"`
}

// SaveContext stores a guest's booking intent before redirecting them to
// login. Authenticated callers have no use for it; they book directly.
func (h *BookingHandler) SaveContext(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.PatientClaimsFromContext(r.Context()); ok {
		writeError(w, http.StatusConflict, "already authenticated; book the appointment directly")
		return
	}

	var req saveContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DoctorID <= 0 {
		writeError(w, http.StatusBadRequest, "doctorId is required")
		return
	}

	sessionKey := sessionKeyFrom(r)
	if sessionKey == "" {
		sessionKey = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sessionKey,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	bc := bookingctx.BookingContext{
		DoctorID:           req.DoctorID,
		DoctorName:         req.DoctorName,
		SpecializationName: req.SpecializationName,
		SelectedDate:       req.SelectedDate,
		SelectedSlotID:     req.SelectedSlotID,
		SelectedSlotTime:   req.SelectedSlotTime,
		ConsultationFee:    req.ConsultationFee,
		ReturnURL:          fmt.Sprintf("/doctors/%d/book?restore=1", req.DoctorID),
	}
	h.store.Save(r.Context(), sessionKey, bc)

	// A fresh intent re-arms restoration for this session's next
	// authenticated visit.
	h.controller.Reset(sessionKey, req.DoctorID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(saveContextResponse{
		Saved:      true,
		ReturnURL:  bc.ReturnURL,
		SessionKey: sessionKey,
	})
}

// GetContext returns the stored booking intent without consuming it.
func (h *BookingHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	sessionKey := sessionKeyFrom(r)
	if sessionKey == "" {
		writeError(w, http.StatusNotFound, "no booking context")
		return
	}
	bc, ok := h.store.Get(r.Context(), sessionKey)
	if !ok {
		writeError(w, http.StatusNotFound, "no booking context")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bc)
}

type weekResponse struct {
	DoctorID   int                            `json:"doctorId"`
	WeekOffset int                            `json:"weekOffset"`
	Week       []availability.DayAvailability `json:"week"`
}

// WeekAvailability returns the 7-day availability window at the requested
// offset from the current week. Negative offsets clamp to the current week.
func (h *BookingHandler) WeekAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := strconv.Atoi(chi.URLParam(r, "doctorID"))
	if err != nil || doctorID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid doctor id")
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}
	if offset < 0 {
		offset = 0
	}

	week := h.fetcher.WeekSchedule(r.Context(), doctorID, availability.WeekStart(h.now(), offset))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(weekResponse{
		DoctorID:   doctorID,
		WeekOffset: offset,
		Week:       week,
	})
}

// Resume runs the one-shot restoration cycle for the session's view of the
// doctor and returns the selection to display.
func (h *BookingHandler) Resume(w http.ResponseWriter, r *http.Request) {
	doctorID, err := strconv.Atoi(chi.URLParam(r, "doctorID"))
	if err != nil || doctorID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid doctor id")
		return
	}

	sessionKey := sessionKeyFrom(r)
	if sessionKey == "" {
		writeError(w, http.StatusBadRequest, "missing booking session")
		return
	}

	_, authenticated := middleware.PatientClaimsFromContext(r.Context())

	sel, err := h.controller.Resume(r.Context(), sessionKey, doctorID, authenticated)
	if err != nil {
		if errors.Is(err, restore.ErrSuperseded) {
			writeError(w, http.StatusConflict, "superseded by a newer request")
			return
		}
		h.logger.Warn("resume failed", "doctor_id", doctorID, "error", err)
		writeError(w, http.StatusBadGateway, "availability is temporarily unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sel)
}

type bookRequest struct {
	DoctorID         int    `json:"doctorId"`
	ScheduledDate    string `json:"scheduledDate"`
	ScheduledTime    string `json:"scheduledTime"`
	ConsultationType string `json:"consultationType"`
	Notes            string `json:"notes"`
	Timezone         string `json:"timezone"`
}

// BookAppointment forwards the booking to the remote API. This is the one
// failure class surfaced to the user verbatim: a rejected booking is a lost
// action they must know about.
func (h *BookingHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.PatientTokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DoctorID <= 0 || req.ScheduledDate == "" || req.ScheduledTime == "" {
		writeError(w, http.StatusBadRequest, "doctorId, scheduledDate and scheduledTime are required")
		return
	}
	if req.ConsultationType == "" {
		req.ConsultationType = "video"
	}
	if req.Timezone == "" {
		req.Timezone = r.Header.Get("X-Timezone")
	}

	appt, err := h.api.CreateAppointment(r.Context(), token, telemedapi.AppointmentRequest{
		DoctorID:         req.DoctorID,
		ScheduledDate:    req.ScheduledDate,
		ScheduledTime:    req.ScheduledTime,
		ConsultationType: req.ConsultationType,
		Notes:            req.Notes,
		Timezone:         req.Timezone,
	})
	if err != nil {
		var apiErr *telemedapi.APIError
		if errors.As(err, &apiErr) {
			h.metrics.ObserveBooking("rejected")
			writeError(w, apiErr.StatusCode, apiErr.UserMessage())
			return
		}
		h.metrics.ObserveBooking("error")
		h.logger.Error("appointment creation failed", "doctor_id", req.DoctorID, "error", err)
		writeError(w, http.StatusBadGateway, "Unable to complete the booking. Please try again.")
		return
	}

	h.metrics.ObserveBooking("created")

	// The booking succeeded; any leftover intent for this session is moot.
	if sessionKey := sessionKeyFrom(r); sessionKey != "" {
		h.store.Clear(r.Context(), sessionKey)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(appt)
}

// Health is a liveness probe.
func (h *BookingHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func sessionKeyFrom(r *http.Request) string {
	if key := r.Header.Get("X-Session-Key"); key != "" {
		return key
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
