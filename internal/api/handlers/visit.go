// Package handlers provides HTTP handlers for the clinic API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/surgicare/clinicflow/internal/api/middleware"
	"github.com/surgicare/clinicflow/internal/docs"
	"github.com/surgicare/clinicflow/internal/domain/visit"
	"github.com/surgicare/clinicflow/internal/observability/metrics"
)

// VisitHandler handles visit and queue endpoints.
type VisitHandler struct {
	svc     *visit.Service
	clinic  docs.ClinicInfo
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewVisitHandler creates a new handler.
func NewVisitHandler(svc *visit.Service, clinic docs.ClinicInfo, m *metrics.Metrics, logger *zap.Logger) *VisitHandler {
	return &VisitHandler{svc: svc, clinic: clinic, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *VisitHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/visits", h.Register)
	r.Post("/visits/direct", h.DirectCheckup)
	r.Get("/visits/{id}", h.Get)
	r.Get("/visits/{id}/prescription.pdf", h.PrescriptionPDF)
	r.Get("/visits/{id}/receipt.pdf", h.ReceiptPDF)
	r.Post("/visits/{id}/arrive", h.MarkArrived)
	r.Post("/visits/{id}/checkup", h.CompleteCheckup)
	r.Post("/visits/{id}/billing", h.CompleteBilling)
	r.Post("/visits/{id}/emergency", h.MarkEmergency)
	r.Post("/visits/{id}/revert", h.RevertToBooked)
	r.Post("/visits/{id}/vitals", h.UpdateVitals)

	r.Get("/queue/doctor", h.DoctorQueue)
	r.Get("/queue/reception", h.ReceptionQueue)
	r.Get("/queue/booked", h.BookedList)
	r.Get("/queue/completed", h.CompletedList)
	r.Post("/queue/reorder", h.ReorderQueue)

	r.Get("/patients/{id}/history", h.History)
	r.Get("/patients/{id}/follow-up", h.NextFollowUp)
	r.Post("/patients/{id}/follow-up", h.UpdateFollowUp)
	r.Get("/follow-ups/today", h.TodayFollowUps)

	r.Get("/fees/preview", h.PreviewFee)
	r.Get("/stats/daily", h.DailyStats)

	return r
}

// RegisterRequest is the request body for registering a visit.
type RegisterRequest struct {
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientMobile string `json:"patient_mobile"`
	ClinicID      string `json:"clinic_id"`
	DoctorID      string `json:"doctor_id"`
	DoctorName    string `json:"doctor_name"`

	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`

	Appointment     bool    `json:"appointment"`
	AppointmentDate string  `json:"appointment_date,omitempty"`
	Emergency       bool    `json:"emergency"`
	OtherCharges    float64 `json:"other_charges"`
}

// RegisterResponse is the response for registering a visit.
type RegisterResponse struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	TokenNumber     int     `json:"token_number"`
	VisitDate       string  `json:"visit_date"`
	ConsultationFee float64 `json:"consultation_fee"`
	TotalAmount     float64 `json:"total_amount"`
}

// Register handles POST /visits.
func (h *VisitHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("visit-handler")
	ctx, span := tracer.Start(ctx, "register_visit")
	defer span.End()
	timer := prometheus.NewTimer(h.metrics.RequestDuration)
	defer timer.ObserveDuration()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sreq := visit.RegisterRequest{
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		PatientMobile: req.PatientMobile,
		ClinicID:      req.ClinicID,
		DoctorID:      req.DoctorID,
		DoctorName:    req.DoctorName,
		Type:          visit.Type(req.Type),
		Reason:        req.Reason,
		Appointment:   req.Appointment,
		Emergency:     req.Emergency,
		OtherCharges:  req.OtherCharges,
	}
	if req.AppointmentDate != "" {
		d, err := time.Parse(time.DateOnly, req.AppointmentDate)
		if err != nil {
			h.jsonError(w, "invalid appointment_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		sreq.AppointmentDate = &d
	}

	v, err := h.svc.Register(ctx, sreq)
	if err != nil {
		if errors.Is(err, visit.ErrTokenConflict) {
			h.metrics.TokenConflicts.Inc()
		}
		h.writeError(w, r, err, "register failed")
		return
	}
	h.metrics.VisitsRegistered.Inc()

	span.SetAttributes(
		attribute.String("visit_id", v.ID),
		attribute.Int("token", v.TokenNumber),
	)
	h.logger.Info("visit registered",
		zap.String("id", v.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("token", v.TokenNumber),
	)

	h.writeJSON(w, http.StatusCreated, RegisterResponse{
		ID:              v.ID,
		Status:          string(v.Status),
		TokenNumber:     v.TokenNumber,
		VisitDate:       v.VisitDate.Format(time.DateOnly),
		ConsultationFee: v.ConsultationFee,
		TotalAmount:     v.TotalAmount,
	})
}

// DirectCheckupRequest is the request body for recording a walk-out visit.
type DirectCheckupRequest struct {
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientMobile string `json:"patient_mobile"`
	ClinicID      string `json:"clinic_id"`
	DoctorID      string `json:"doctor_id"`
	DoctorName    string `json:"doctor_name"`

	Diagnosis    string       `json:"diagnosis,omitempty"`
	Prescription string       `json:"prescription,omitempty"`
	Vitals       visit.Vitals `json:"vitals"`

	ConsultationFee float64 `json:"consultation_fee"`
	OtherCharges    float64 `json:"other_charges"`
	TotalAmount     float64 `json:"total_amount"`
	FollowUpDate    string  `json:"follow_up_date,omitempty"`
}

// DirectCheckup handles POST /visits/direct.
func (h *VisitHandler) DirectCheckup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DirectCheckupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sreq := visit.DirectCheckupRequest{
		PatientID:       req.PatientID,
		PatientName:     req.PatientName,
		PatientMobile:   req.PatientMobile,
		ClinicID:        req.ClinicID,
		DoctorID:        req.DoctorID,
		DoctorName:      req.DoctorName,
		Diagnosis:       req.Diagnosis,
		Prescription:    req.Prescription,
		Vitals:          req.Vitals,
		ConsultationFee: req.ConsultationFee,
		OtherCharges:    req.OtherCharges,
		TotalAmount:     req.TotalAmount,
	}
	if req.FollowUpDate != "" {
		d, err := time.Parse(time.DateOnly, req.FollowUpDate)
		if err != nil {
			h.jsonError(w, "invalid follow_up_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		sreq.FollowUpDate = &d
	}

	v, err := h.svc.DirectCheckup(ctx, sreq)
	if err != nil {
		h.writeError(w, r, err, "direct checkup failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, RegisterResponse{
		ID:              v.ID,
		Status:          string(v.Status),
		TokenNumber:     v.TokenNumber,
		VisitDate:       v.VisitDate.Format(time.DateOnly),
		ConsultationFee: v.ConsultationFee,
		TotalAmount:     v.TotalAmount,
	})
}

// Get handles GET /visits/{id}.
func (h *VisitHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.VisitByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "load visit failed")
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// PrescriptionPDF handles GET /visits/{id}/prescription.pdf.
func (h *VisitHandler) PrescriptionPDF(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.VisitByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "load visit failed")
		return
	}

	pdf, err := docs.PrescriptionPDF(h.clinic, v)
	if err != nil {
		h.logger.Error("prescription pdf failed", zap.Error(err))
		h.jsonError(w, "failed to render prescription", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Write(pdf)
}

// ReceiptPDF handles GET /visits/{id}/receipt.pdf.
func (h *VisitHandler) ReceiptPDF(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.VisitByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "load visit failed")
		return
	}

	pdf, err := docs.ReceiptPDF(h.clinic, v, time.Now().UTC())
	if err != nil {
		h.logger.Error("receipt pdf failed", zap.Error(err))
		h.jsonError(w, "failed to render receipt", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Write(pdf)
}

// MarkArrived handles POST /visits/{id}/arrive.
func (h *VisitHandler) MarkArrived(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkArrived(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err, "mark arrived failed")
		return
	}
	h.writeOK(w)
}

// CheckupRequest is the doctor-side completion body.
type CheckupRequest struct {
	Diagnosis        string   `json:"diagnosis,omitempty"`
	Prescription     string   `json:"prescription,omitempty"`
	OtherCharges     *float64 `json:"other_charges,omitempty"`
	FollowUpDate     string   `json:"follow_up_date,omitempty"`
	PaymentCollected bool     `json:"payment_collected"`
}

// CompleteCheckup handles POST /visits/{id}/checkup.
func (h *VisitHandler) CompleteCheckup(w http.ResponseWriter, r *http.Request) {
	var req CheckupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	info := visit.MedicalInfo{
		Diagnosis:        req.Diagnosis,
		Prescription:     req.Prescription,
		OtherCharges:     req.OtherCharges,
		PaymentCollected: req.PaymentCollected,
	}
	if req.FollowUpDate != "" {
		d, err := time.Parse(time.DateOnly, req.FollowUpDate)
		if err != nil {
			h.jsonError(w, "invalid follow_up_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		info.FollowUpDate = &d
	}

	if err := h.svc.CompleteCheckup(r.Context(), chi.URLParam(r, "id"), info); err != nil {
		h.writeError(w, r, err, "complete checkup failed")
		return
	}
	if req.PaymentCollected {
		h.metrics.VisitsCompleted.Inc()
	}
	h.writeOK(w)
}

// BillingRequest is the reception-side completion body.
type BillingRequest struct {
	ConsultationFee *float64 `json:"consultation_fee,omitempty"`
	OtherCharges    *float64 `json:"other_charges,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	PaymentMode     string   `json:"payment_mode,omitempty"`
	Procedures      string   `json:"procedures,omitempty"`
	FollowUpDate    string   `json:"follow_up_date,omitempty"`
}

// CompleteBilling handles POST /visits/{id}/billing.
func (h *VisitHandler) CompleteBilling(w http.ResponseWriter, r *http.Request) {
	var req BillingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	b := visit.Billing{
		ConsultationFee: req.ConsultationFee,
		OtherCharges:    req.OtherCharges,
		Amount:          req.Amount,
		PaymentMode:     req.PaymentMode,
		Procedures:      req.Procedures,
	}
	if req.FollowUpDate != "" {
		d, err := time.Parse(time.DateOnly, req.FollowUpDate)
		if err != nil {
			h.jsonError(w, "invalid follow_up_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		b.FollowUpDate = &d
	}

	if err := h.svc.CompleteBilling(r.Context(), chi.URLParam(r, "id"), b); err != nil {
		h.writeError(w, r, err, "complete billing failed")
		return
	}
	h.metrics.VisitsCompleted.Inc()
	h.writeOK(w)
}

// MarkEmergency handles POST /visits/{id}/emergency.
func (h *VisitHandler) MarkEmergency(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkEmergency(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err, "mark emergency failed")
		return
	}
	h.metrics.EmergenciesFlagged.Inc()
	h.writeOK(w)
}

// RevertToBooked handles POST /visits/{id}/revert.
func (h *VisitHandler) RevertToBooked(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevertToBooked(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err, "revert failed")
		return
	}
	h.writeOK(w)
}

// UpdateVitals handles POST /visits/{id}/vitals.
func (h *VisitHandler) UpdateVitals(w http.ResponseWriter, r *http.Request) {
	var vt visit.Vitals
	if err := json.NewDecoder(r.Body).Decode(&vt); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.UpdateVitals(r.Context(), chi.URLParam(r, "id"), vt); err != nil {
		h.writeError(w, r, err, "update vitals failed")
		return
	}
	h.writeOK(w)
}

// ReorderRequest is the manual queue reorder body.
type ReorderRequest struct {
	VisitIDs []string `json:"visit_ids"`
}

// ReorderQueue handles POST /queue/reorder.
func (h *VisitHandler) ReorderQueue(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.UpdateQueueOrder(r.Context(), req.VisitIDs); err != nil {
		h.writeError(w, r, err, "reorder failed")
		return
	}
	h.writeOK(w)
}

// DoctorQueue handles GET /queue/doctor.
func (h *VisitHandler) DoctorQueue(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		h.jsonError(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	date, err := h.queryDate(r)
	if err != nil {
		h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	vs, err := h.svc.DoctorQueue(r.Context(), clinicID, r.URL.Query().Get("doctor_id"), date)
	if err != nil {
		h.writeError(w, r, err, "doctor queue failed")
		return
	}
	h.writeJSON(w, http.StatusOK, vs)
}

// ReceptionQueue handles GET /queue/reception.
func (h *VisitHandler) ReceptionQueue(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		h.jsonError(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	date, err := h.queryDate(r)
	if err != nil {
		h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	vs, err := h.svc.ReceptionQueue(r.Context(), clinicID, date)
	if err != nil {
		h.writeError(w, r, err, "reception queue failed")
		return
	}
	h.metrics.QueueDepth.WithLabelValues(clinicID).Set(float64(len(vs)))
	h.writeJSON(w, http.StatusOK, vs)
}

// BookedList handles GET /queue/booked.
func (h *VisitHandler) BookedList(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		h.jsonError(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	date, err := h.queryDate(r)
	if err != nil {
		h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	vs, err := h.svc.BookedList(r.Context(), clinicID, date)
	if err != nil {
		h.writeError(w, r, err, "booked list failed")
		return
	}
	h.writeJSON(w, http.StatusOK, vs)
}

// CompletedList handles GET /queue/completed.
func (h *VisitHandler) CompletedList(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		h.jsonError(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	date, err := h.queryDate(r)
	if err != nil {
		h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	vs, err := h.svc.CompletedList(r.Context(), clinicID, date)
	if err != nil {
		h.writeError(w, r, err, "completed list failed")
		return
	}
	h.writeJSON(w, http.StatusOK, vs)
}

// History handles GET /patients/{id}/history.
func (h *VisitHandler) History(w http.ResponseWriter, r *http.Request) {
	vs, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "history failed")
		return
	}
	h.writeJSON(w, http.StatusOK, vs)
}

// NextFollowUp handles GET /patients/{id}/follow-up.
func (h *VisitHandler) NextFollowUp(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.NextFollowUp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "next follow-up failed")
		return
	}

	resp := map[string]interface{}{"follow_up_date": nil}
	if next != nil {
		resp["follow_up_date"] = next.Format(time.DateOnly)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// FollowUpRequest sets a patient's follow-up date.
type FollowUpRequest struct {
	Date string `json:"date"`
}

// UpdateFollowUp handles POST /patients/{id}/follow-up.
func (h *VisitHandler) UpdateFollowUp(w http.ResponseWriter, r *http.Request) {
	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	if err := h.svc.UpdateFollowUp(r.Context(), chi.URLParam(r, "id"), d); err != nil {
		h.writeError(w, r, err, "update follow-up failed")
		return
	}
	h.writeOK(w)
}

// TodayFollowUps handles GET /follow-ups/today.
func (h *VisitHandler) TodayFollowUps(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		h.jsonError(w, "clinic_id is required", http.StatusBadRequest)
		return
	}

	vs, err := h.svc.TodayFollowUps(r.Context(), clinicID, r.URL.Query().Get("doctor_id"))
	if err != nil {
		h.writeError(w, r, err, "today follow-ups failed")
		return
	}
	h.writeJSON(w, http.StatusOK, vs)
}

// PreviewFee handles GET /fees/preview.
func (h *VisitHandler) PreviewFee(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	doctorID := r.URL.Query().Get("doctor_id")
	if patientID == "" || doctorID == "" {
		h.jsonError(w, "patient_id and doctor_id are required", http.StatusBadRequest)
		return
	}

	preview, err := h.svc.PreviewFee(r.Context(), patientID, doctorID)
	if err != nil {
		h.writeError(w, r, err, "fee preview failed")
		return
	}
	h.writeJSON(w, http.StatusOK, preview)
}

// DailyStats handles GET /stats/daily.
func (h *VisitHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		h.jsonError(w, "clinic_id is required", http.StatusBadRequest)
		return
	}
	date, err := h.queryDate(r)
	if err != nil {
		h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	stats, err := h.svc.DailyStats(r.Context(), clinicID, date)
	if err != nil {
		h.writeError(w, r, err, "daily stats failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// queryDate reads the optional date query parameter, defaulting to today.
func (h *VisitHandler) queryDate(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func (h *VisitHandler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case visit.IsNotFound(err):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case visit.IsPrecondition(err):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, visit.ErrTokenConflict):
		h.jsonError(w, "token allocation conflict, please retry", http.StatusConflict)
	default:
		h.logger.Error(msg,
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *VisitHandler) writeOK(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *VisitHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *VisitHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
