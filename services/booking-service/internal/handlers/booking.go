package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/httpx"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/quota"
	"github.com/shopspring/decimal"
)

// Bookings is the booking service as seen by the HTTP layer.
type Bookings interface {
	Slots(ctx context.Context, q booking.SlotQuery) ([]availability.Slot, error)
	Create(ctx context.Context, req booking.CreateRequest) (booking.Created, error)
	UpdateStatus(ctx context.Context, tenantID, appointmentID, status string) (model.Appointment, error)
	Reschedule(ctx context.Context, tenantID, appointmentID string, req booking.RescheduleRequest) (model.Appointment, error)
	Delete(ctx context.Context, tenantID, appointmentID string) error
	Get(ctx context.Context, tenantID, appointmentID string) (model.Appointment, model.Client, error)
	List(ctx context.Context, f booking.ListFilter) ([]model.Appointment, error)
}

type BookingHandler struct {
	svc    Bookings
	logger *slog.Logger
}

func NewBookingHandler(svc Bookings, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

// Register mounts the booking API. Every route requires X-Tenant-Id.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, httpx.RequireTenant(fn))
	}
	route("GET /api/v1/slots", h.Slots)
	route("POST /api/v1/appointments", h.Create)
	route("GET /api/v1/appointments", h.List)
	route("GET /api/v1/appointments/{id}", h.Get)
	route("PATCH /api/v1/appointments/{id}/status", h.UpdateStatus)
	route("PATCH /api/v1/appointments/{id}/reschedule", h.Reschedule)
	route("DELETE /api/v1/appointments/{id}", h.Delete)
}

type slotItem struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slots, err := h.svc.Slots(r.Context(), booking.SlotQuery{
		TenantID:       httpx.TenantIDFromContext(r.Context()),
		ScheduleID:     strings.TrimSpace(q.Get("schedule_id")),
		ServiceID:      strings.TrimSpace(q.Get("service_id")),
		ProfessionalID: strings.TrimSpace(q.Get("professional_id")),
		Date:           strings.TrimSpace(q.Get("date")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotItem{Time: s.Clock(), Available: s.Available})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type createRequest struct {
	ClientID        string           `json:"client_id"`
	ScheduleID      string           `json:"schedule_id"`
	ServiceID       string           `json:"service_id"`
	ProfessionalID  string           `json:"professional_id"`
	StartTime       string           `json:"start_time"`
	DurationMinutes int              `json:"duration_minutes"`
	Modality        string           `json:"modality"`
	Price           *decimal.Decimal `json:"price"`
	Notes           string           `json:"notes"`
}

type clientResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type appointmentResponse struct {
	ID              string          `json:"id"`
	ScheduleID      string          `json:"schedule_id"`
	ProfessionalID  string          `json:"professional_id,omitempty"`
	ClientID        string          `json:"client_id"`
	ServiceID       string          `json:"service_id"`
	StartTime       string          `json:"start_time"`
	EndTime         string          `json:"end_time"`
	DurationMinutes int             `json:"duration_minutes"`
	Status          string          `json:"status"`
	Modality        string          `json:"modality,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       string          `json:"created_at"`
	Client          *clientResponse `json:"client,omitempty"`
	Usage           *quota.Usage    `json:"usage,omitempty"`
}

func toResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              a.ID,
		ScheduleID:      a.ScheduleID,
		ProfessionalID:  a.ProfessionalID,
		ClientID:        a.ClientID,
		ServiceID:       a.ServiceID,
		StartTime:       a.Start.UTC().Format(time.RFC3339),
		EndTime:         a.End().UTC().Format(time.RFC3339),
		DurationMinutes: int(a.Duration / time.Minute),
		Status:          string(a.Status),
		Modality:        a.Modality,
		Price:           a.Price,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func withClient(resp appointmentResponse, c model.Client) appointmentResponse {
	if c.ID != "" {
		resp.Client = &clientResponse{ID: c.ID, Name: strings.TrimSpace(c.Name), Phone: c.Phone, Email: strings.ToLower(strings.TrimSpace(c.Email))}
	}
	return resp
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json body", nil)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		h.writeError(w, r, &booking.ValidationError{Fields: map[string]string{"start_time": "must be an RFC3339 timestamp"}})
		return
	}

	created, err := h.svc.Create(r.Context(), booking.CreateRequest{
		TenantID:        httpx.TenantIDFromContext(r.Context()),
		ClientID:        strings.TrimSpace(req.ClientID),
		ScheduleID:      strings.TrimSpace(req.ScheduleID),
		ServiceID:       strings.TrimSpace(req.ServiceID),
		ProfessionalID:  strings.TrimSpace(req.ProfessionalID),
		StartTime:       start,
		DurationMinutes: req.DurationMinutes,
		Modality:        strings.TrimSpace(req.Modality),
		Price:           req.Price,
		Notes:           strings.TrimSpace(req.Notes),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := withClient(toResponse(created.Appointment), created.Client)
	status := http.StatusCreated
	if created.Replayed {
		status = http.StatusOK
	} else {
		resp.Usage = &created.Usage
	}
	httpx.WriteJSON(w, status, resp)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, client, err := h.svc.Get(r.Context(), httpx.TenantIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, withClient(toResponse(appt), client))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := booking.ListFilter{
		TenantID:   httpx.TenantIDFromContext(r.Context()),
		ScheduleID: strings.TrimSpace(q.Get("schedule_id")),
		ClientID:   strings.TrimSpace(q.Get("client_id")),
	}
	fields := map[string]string{}
	if raw := q.Get("status"); raw != "" {
		s, err := model.ParseStatus(raw)
		if err != nil {
			fields["status"] = "unknown status"
		}
		f.Status = s
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields[key] = "must be an RFC3339 timestamp"
			continue
		}
		*dst = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fields["limit"] = "must be a positive integer"
		}
		f.Limit = n
	}
	if len(fields) > 0 {
		h.writeError(w, r, &booking.ValidationError{Fields: fields})
		return
	}

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json body", nil)
		return
	}
	appt, err := h.svc.UpdateStatus(r.Context(), httpx.TenantIDFromContext(r.Context()), r.PathValue("id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

type rescheduleRequest struct {
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json body", nil)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		h.writeError(w, r, &booking.ValidationError{Fields: map[string]string{"start_time": "must be an RFC3339 timestamp"}})
		return
	}
	appt, err := h.svc.Reschedule(r.Context(), httpx.TenantIDFromContext(r.Context()), r.PathValue("id"), booking.RescheduleRequest{
		StartTime:       start,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), httpx.TenantIDFromContext(r.Context()), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *booking.ValidationError
		ce *booking.ConflictError
		qe *booking.QuotaError
	)
	switch {
	case errors.As(err, &ve):
		details := make(map[string]any, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", details)
	case errors.As(err, &ce):
		details := map[string]any{
			"conflict_start": ce.Start.UTC().Format(time.RFC3339),
			"conflict_end":   ce.End.UTC().Format(time.RFC3339),
		}
		if ce.Reason != "" {
			details["reason"] = ce.Reason
		}
		httpx.WriteError(w, http.StatusConflict, "SCHEDULE_CONFLICT", "the requested time overlaps an existing booking", details)
	case errors.As(err, &qe):
		httpx.WriteError(w, http.StatusPaymentRequired, "PLAN_LIMIT_REACHED", "monthly appointment limit reached for the current plan", map[string]any{
			"current_count": qe.Count,
			"remaining":     qe.Remaining,
			"limit":         qe.Limit,
			"tier":          qe.Tier,
		})
	case errors.Is(err, booking.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	default:
		h.logger.Error("booking request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
