package storage

import (
	"context"

	"github.com/assistly/callcore/libs/db"
	"github.com/assistly/callcore/services/booking-service/internal/model"
	"github.com/assistly/callcore/services/booking-service/internal/outbox"
)

// BookingStore commits a booking as one atomic unit: lead upsert,
// appointment insert, and the outbox events describing the result. The
// appointments exclusion constraint makes the insert itself the point where
// two racing bookings for the same slot are serialized; the loser's error is
// recognizable via IsConflict.
type BookingStore struct {
	pool   *db.Pool
	leads  *LeadRepository
	appts  *AppointmentRepository
	outbox *outbox.Repository
}

func NewBookingStore(pool *db.Pool, leads *LeadRepository, appts *AppointmentRepository, outboxRepo *outbox.Repository) *BookingStore {
	return &BookingStore{
		pool:   pool,
		leads:  leads,
		appts:  appts,
		outbox: outboxRepo,
	}
}

// CommitBooking writes everything or nothing. On success appt.LeadID is
// filled in with the surviving lead id.
func (s *BookingStore) CommitBooking(ctx context.Context, lead model.Lead, appt *model.Appointment, events []outbox.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	leadID, err := s.leads.Upsert(ctx, tx, lead)
	if err != nil {
		return err
	}
	appt.LeadID = leadID

	if err := s.appts.Insert(ctx, tx, appt); err != nil {
		return err
	}

	for _, evt := range events {
		if err := s.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
