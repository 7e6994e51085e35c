package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/assistly/callcore/services/booking-service/internal/model"
	"github.com/assistly/callcore/services/booking-service/internal/outbox"
	"github.com/assistly/callcore/services/booking-service/internal/storage"
)

// ErrValidation marks a malformed booking request. Surfaced to the caller
// immediately, never retried, and guaranteed to leave no writes behind.
var ErrValidation = errors.New("invalid booking request")

const (
	DefaultDuration = 60 * time.Minute
	defaultLanguage = "en"
)

// Request is the parsed appointment intent handed over by the AI
// conversation layer. It is consumed once and never persisted as-is.
type Request struct {
	BusinessID    string
	CustomerName  string
	CustomerPhone string
	Start         time.Time
	Duration      time.Duration
	Language      string
}

// Result is the caller-facing outcome of a booking attempt. Available=false
// with no error is the normal rejection path; the caller may offer the
// customer another time.
type Result struct {
	Available     bool
	AppointmentID string
}

// Availability decides whether a slot can be taken (see availability.Reconciler).
type Availability interface {
	IsAvailable(ctx context.Context, businessID string, start, end time.Time) (bool, error)
}

// Store commits an accepted booking atomically (see storage.BookingStore).
type Store interface {
	CommitBooking(ctx context.Context, lead model.Lead, appt *model.Appointment, events []outbox.Event) error
}

// TokenSource and EventCreator together project committed bookings into the
// external calendar.
type TokenSource interface {
	AccessToken(ctx context.Context, businessID string) (token string, ok bool, err error)
}

type EventCreator interface {
	CreateEvent(ctx context.Context, token string, appt model.Appointment, leadName string) (string, error)
}

type Config struct {
	// ReminderOffsets are emitted as reminder-requested events at booking
	// time, each firing that far before the appointment starts.
	ReminderOffsets []time.Duration
	// ProjectTimeout bounds the asynchronous calendar projection.
	ProjectTimeout time.Duration
}

// Service is the booking orchestrator: validate, reconcile availability,
// commit locally, then mirror to the external calendar without letting that
// mirror affect the outcome.
type Service struct {
	availability Availability
	store        Store
	tokens       TokenSource
	calendar     EventCreator
	logger       *slog.Logger

	offsets        []time.Duration
	projectTimeout time.Duration
	now            func() time.Time
}

func NewService(avail Availability, store Store, tokens TokenSource, calendar EventCreator, logger *slog.Logger, cfg Config) *Service {
	offsets := cfg.ReminderOffsets
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour, 10 * time.Minute}
	}
	timeout := cfg.ProjectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		availability:   avail,
		store:          store,
		tokens:         tokens,
		calendar:       calendar,
		logger:         logger,
		offsets:        offsets,
		projectTimeout: timeout,
		now:            time.Now,
	}
}

// Book runs the full booking flow. The availability decision happens before
// any write, so a rejected request leaves no lead and no appointment behind.
// A conflict raised by the store at commit time means a concurrent request
// won the slot; it is reported as unavailable, not as a failure.
func (s *Service) Book(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if req.Duration <= 0 {
		req.Duration = DefaultDuration
	}
	if req.Language == "" {
		req.Language = defaultLanguage
	}

	start := req.Start.UTC()
	end := start.Add(req.Duration)

	ok, err := s.availability.IsAvailable(ctx, req.BusinessID, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("availability check: %w", err)
	}
	if !ok {
		return Result{Available: false}, nil
	}

	appt := &model.Appointment{
		ID:         uuid.NewString(),
		BusinessID: req.BusinessID,
		StartTime:  start,
		EndTime:    end,
		Status:     model.StatusScheduled,
	}
	lead := model.Lead{
		BusinessID: req.BusinessID,
		Name:       req.CustomerName,
		Phone:      req.CustomerPhone,
		Language:   req.Language,
	}

	events, err := s.bookingEvents(appt, req)
	if err != nil {
		return Result{}, err
	}

	if err := s.store.CommitBooking(ctx, lead, appt, events); err != nil {
		if storage.IsConflict(err) {
			s.logger.Info("booking lost slot race",
				"business_id", req.BusinessID,
				"start", start.Format(time.RFC3339))
			return Result{Available: false}, nil
		}
		return Result{}, fmt.Errorf("commit booking: %w", err)
	}

	go s.project(*appt, req.CustomerName)

	return Result{Available: true, AppointmentID: appt.ID}, nil
}

func (req Request) validate() error {
	switch {
	case req.BusinessID == "":
		return fmt.Errorf("%w: business id is required", ErrValidation)
	case req.CustomerName == "":
		return fmt.Errorf("%w: customer name is required", ErrValidation)
	case req.CustomerPhone == "":
		return fmt.Errorf("%w: customer phone is required", ErrValidation)
	case req.Start.IsZero():
		return fmt.Errorf("%w: appointment start time is required", ErrValidation)
	}
	return nil
}

func (s *Service) bookingEvents(appt *model.Appointment, req Request) ([]outbox.Event, error) {
	scheduled, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"customer_name":  req.CustomerName,
		"customer_phone": req.CustomerPhone,
		"language":       req.Language,
		"start_time":     appt.StartTime.Format(time.RFC3339),
		"end_time":       appt.EndTime.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	events := []outbox.Event{{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentScheduled,
		Payload:       scheduled,
	}}

	now := s.now().UTC()
	for _, offset := range s.offsets {
		remindAt := appt.StartTime.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"business_id":    appt.BusinessID,
			"channel":        "sms",
			"recipient":      req.CustomerPhone,
			"remind_at":      remindAt.Format(time.RFC3339),
			"template_data": map[string]any{
				"customer_name": req.CustomerName,
				"language":      req.Language,
				"start_time":    appt.StartTime.Format(time.RFC3339),
			},
		})
		if err != nil {
			return nil, err
		}
		events = append(events, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.EventReminderRequested,
			Payload:       payload,
		})
	}
	return events, nil
}

// project mirrors a committed appointment into the external calendar. It
// runs detached from the request: the booking already succeeded and nothing
// here can change that.
func (s *Service) project(appt model.Appointment, leadName string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.projectTimeout)
	defer cancel()

	token, ok, err := s.tokens.AccessToken(ctx, appt.BusinessID)
	if err != nil {
		s.logger.Warn("calendar projection skipped",
			"appointment_id", appt.ID, "business_id", appt.BusinessID, "err", err)
		return
	}
	if !ok {
		return
	}

	eventID, err := s.calendar.CreateEvent(ctx, token, appt, leadName)
	if err != nil {
		s.logger.Warn("calendar projection failed",
			"appointment_id", appt.ID, "business_id", appt.BusinessID, "err", err)
		return
	}
	s.logger.Info("appointment projected to external calendar",
		"appointment_id", appt.ID, "event_id", eventID)
}
