package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/assistly/callcore/services/booking-service/internal/booking"
)

// extractFunction is the function-call name the conversation layer uses when
// it has pulled a complete appointment request out of a call.
const extractFunction = "extract_appointment_info"

// BookingService is the orchestrator surface the webhook drives.
type BookingService interface {
	Book(ctx context.Context, req booking.Request) (booking.Result, error)
}

// LeadSummaryStore records the call transcript summary after a call ends.
type LeadSummaryStore interface {
	UpdateCallSummary(ctx context.Context, businessID, phone, summary string) error
}

// WebhookHandler receives events from the AI phone-agent platform. The only
// event with booking semantics is the extract_appointment_info function
// call; everything else is acknowledged and dropped.
type WebhookHandler struct {
	svc    BookingService
	leads  LeadSummaryStore
	logger *slog.Logger
}

func NewWebhookHandler(svc BookingService, leads LeadSummaryStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, leads: leads, logger: logger}
}

type functionCall struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// webhookPayload mirrors the agent platform's envelope. Function calls have
// shown up in more than one location across platform versions, so all of
// them are checked.
type webhookPayload struct {
	Message *struct {
		Type         string        `json:"type"`
		FunctionCall *functionCall `json:"function_call"`
		Transcript   string        `json:"transcript"`
	} `json:"message"`
	FunctionCall *functionCall `json:"functionCall"`
	Call         *struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		EndedReason string `json:"endedReason"`
		Customer    *struct {
			Number string `json:"number"`
		} `json:"customer"`
		Metadata struct {
			BusinessID string `json:"business_id"`
		} `json:"metadata"`
	} `json:"call"`
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
}

type appointmentParams struct {
	BusinessID      string `json:"business_id"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	DesiredTime     string `json:"desired_appointment_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Language        string `json:"language"`
}

func (p *webhookPayload) functionCall() *functionCall {
	if p.Message != nil && p.Message.FunctionCall != nil {
		return p.Message.FunctionCall
	}
	return p.FunctionCall
}

func (p *webhookPayload) callEnded() bool {
	if p.Status == "ended" {
		return true
	}
	return p.Call != nil && (p.Call.Status == "ended" || p.Call.EndedReason != "")
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if fc := payload.functionCall(); fc != nil && fc.Name == extractFunction {
		h.handleBooking(w, r, fc, &payload)
		return
	}

	if payload.callEnded() {
		h.handleCallEnd(r.Context(), &payload)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Call ended"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Webhook received"})
}

func (h *WebhookHandler) handleBooking(w http.ResponseWriter, r *http.Request, fc *functionCall, payload *webhookPayload) {
	var params appointmentParams
	if len(fc.Parameters) > 0 {
		if err := json.Unmarshal(fc.Parameters, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid function call parameters"})
			return
		}
	}

	// The call metadata is the trusted source for the business; parameters
	// are a fallback for platforms that can only pass it inline.
	businessID := ""
	if payload.Call != nil {
		businessID = strings.TrimSpace(payload.Call.Metadata.BusinessID)
	}
	if businessID == "" {
		businessID = strings.TrimSpace(params.BusinessID)
	}
	if businessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing business_id"})
		return
	}

	desired := strings.TrimSpace(params.DesiredTime)
	if desired == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing desired_appointment_time"})
		return
	}
	start, err := time.Parse(time.RFC3339, desired)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid desired_appointment_time"})
		return
	}

	req := booking.Request{
		BusinessID:    businessID,
		CustomerName:  strings.TrimSpace(params.CustomerName),
		CustomerPhone: strings.TrimSpace(params.CustomerPhone),
		Start:         start,
		Duration:      time.Duration(params.DurationMinutes) * time.Minute,
		Language:      strings.TrimSpace(params.Language),
	}

	res, err := h.svc.Book(r.Context(), req)
	if err != nil {
		if errors.Is(err, booking.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		h.logger.Error("booking failed", "business_id", businessID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to process appointment"})
		return
	}

	if !res.Available {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   false,
			"message":   "Time slot not available",
			"available": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"appointment_id": res.AppointmentID,
		"available":      true,
	})
}

// handleCallEnd attaches the final transcript to the lead when there is
// enough context to find one. Best-effort: the call is already over.
func (h *WebhookHandler) handleCallEnd(ctx context.Context, payload *webhookPayload) {
	transcript := strings.TrimSpace(payload.Transcript)
	if transcript == "" && payload.Message != nil {
		transcript = strings.TrimSpace(payload.Message.Transcript)
	}
	if transcript == "" || payload.Call == nil || payload.Call.Customer == nil {
		return
	}
	businessID := strings.TrimSpace(payload.Call.Metadata.BusinessID)
	phone := strings.TrimSpace(payload.Call.Customer.Number)
	if businessID == "" || phone == "" {
		return
	}
	if err := h.leads.UpdateCallSummary(ctx, businessID, phone, transcript); err != nil {
		h.logger.Warn("failed to record call summary", "business_id", businessID, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
