package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/assistly/callcore/services/booking-service/internal/model"
	"github.com/assistly/callcore/services/booking-service/internal/storage"
)

// AppointmentStore is the storage surface the appointment endpoints drive
// (see storage.StatusStore).
type AppointmentStore interface {
	ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error)
	TransitionStatus(ctx context.Context, businessID, appointmentID, status, reason string) (storage.Transition, error)
}

// AppointmentsHandler serves the dashboard-facing appointment operations:
// listing and status transitions (including cancellation).
type AppointmentsHandler struct {
	store  AppointmentStore
	logger *slog.Logger
}

func NewAppointmentsHandler(store AppointmentStore, logger *slog.Logger) *AppointmentsHandler {
	return &AppointmentsHandler{store: store, logger: logger}
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	LeadID        string `json:"lead_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.store.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, appointmentItem{
			AppointmentID: appt.ID,
			LeadID:        appt.LeadID,
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Status:        appt.Status,
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:     appt.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type updateStatusRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

type updateStatusResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	UpdatedAt     string `json:"updated_at"`
}

// UpdateStatus moves an appointment between lifecycle states. Reinstating a
// cancelled or no-show booking may fail with 409 when another booking has
// taken the slot in the meantime.
func (h *AppointmentsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Status = strings.TrimSpace(req.Status)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}
	if !model.ValidStatus(req.Status) {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	transition, err := h.store.TransitionStatus(r.Context(), req.BusinessID, req.AppointmentID, req.Status, req.Reason)
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			http.Error(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrSlotTaken):
			http.Error(w, "time slot no longer available", http.StatusConflict)
		default:
			h.logger.Error("status transition failed",
				"business_id", req.BusinessID, "appointment_id", req.AppointmentID, "err", err)
			http.Error(w, "failed to update appointment", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, updateStatusResponse{
		AppointmentID: transition.AppointmentID,
		Status:        transition.NewStatus,
		UpdatedAt:     transition.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
