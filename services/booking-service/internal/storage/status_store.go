package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/assistly/callcore/libs/db"
	"github.com/assistly/callcore/services/booking-service/internal/model"
	"github.com/assistly/callcore/services/booking-service/internal/outbox"
)

// ErrSlotTaken reports that a status transition would reactivate an
// appointment whose slot another active booking has taken in the meantime.
var ErrSlotTaken = errors.New("time slot no longer available")

// Transition is the outcome of a completed status change.
type Transition struct {
	AppointmentID string
	OldStatus     string
	NewStatus     string
	UpdatedAt     time.Time
}

// StatusStore runs appointment status transitions as one atomic unit: row
// lock, reinstate re-check, update, and the outbox event describing the
// change. Like BookingStore, the exclusion constraint is the final arbiter
// when two transitions race for the same slot.
type StatusStore struct {
	pool   *db.Pool
	appts  *AppointmentRepository
	outbox *outbox.Repository
}

func NewStatusStore(pool *db.Pool, appts *AppointmentRepository, outboxRepo *outbox.Repository) *StatusStore {
	return &StatusStore{pool: pool, appts: appts, outbox: outboxRepo}
}

func (s *StatusStore) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	return s.appts.ListByBusiness(ctx, businessID, limit)
}

// TransitionStatus moves an appointment into status. Same-status calls are
// idempotent and emit no event. Transitions back into an active status
// re-validate the slot first, since other bookings may have taken it while
// the appointment was inactive; a conflict from either the re-check or the
// exclusion constraint surfaces as ErrSlotTaken.
func (s *StatusStore) TransitionStatus(ctx context.Context, businessID, appointmentID, status, reason string) (Transition, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transition{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appts.GetForUpdate(ctx, tx, businessID, appointmentID)
	if err != nil {
		return Transition{}, err
	}

	if appt.Status == status {
		return Transition{
			AppointmentID: appt.ID,
			OldStatus:     appt.Status,
			NewStatus:     appt.Status,
			UpdatedAt:     appt.UpdatedAt,
		}, nil
	}

	if model.ActiveStatus(status) && !model.ActiveStatus(appt.Status) {
		overlap, err := s.appts.HasOverlapExcluding(ctx, businessID, appt.ID, appt.StartTime, appt.EndTime)
		if err != nil {
			return Transition{}, err
		}
		if overlap {
			return Transition{}, ErrSlotTaken
		}
	}

	updatedAt, err := s.appts.UpdateStatus(ctx, tx, businessID, appt.ID, status)
	if err != nil {
		if IsConflict(err) {
			return Transition{}, ErrSlotTaken
		}
		return Transition{}, err
	}

	eventType := outbox.EventAppointmentUpdated
	if status == model.StatusCancelled {
		eventType = outbox.EventAppointmentCancelled
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"old_status":     appt.Status,
		"new_status":     status,
		"reason":         reason,
		"updated_at":     updatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Transition{}, err
	}
	if err := s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return Transition{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transition{}, err
	}
	return Transition{
		AppointmentID: appt.ID,
		OldStatus:     appt.Status,
		NewStatus:     status,
		UpdatedAt:     updatedAt,
	}, nil
}
