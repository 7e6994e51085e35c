package availability

import (
	"context"
	"log/slog"
	"time"

	"github.com/assistly/callcore/services/booking-service/internal/interval"
)

// OverlapStore is the local appointments view, the system's source of truth
// for bookings it created itself.
type OverlapStore interface {
	HasOverlap(ctx context.Context, businessID string, start, end time.Time) (bool, error)
}

// TokenSource supplies external calendar credentials. ok=false means no
// calendar is connected for the business.
type TokenSource interface {
	AccessToken(ctx context.Context, businessID string) (token string, ok bool, err error)
}

// BusyQuerier is the external calendar's free/busy view.
type BusyQuerier interface {
	QueryBusy(ctx context.Context, token string, start, end time.Time) ([]interval.Span, error)
}

// Reconciler merges the local store and the external calendar into a single
// accept/reject decision for a requested slot.
//
// The local store is authoritative for conflicts this system created; the
// external calendar is authoritative for conflicts the business owner put in
// their calendar directly. A slot is available only when both agree, but an
// external failure (missing credential, refresh failure, adapter error) only
// removes the external vote, it never blocks the booking on its own.
type Reconciler struct {
	store    OverlapStore
	tokens   TokenSource
	calendar BusyQuerier
	logger   *slog.Logger
}

func NewReconciler(store OverlapStore, tokens TokenSource, calendar BusyQuerier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		tokens:   tokens,
		calendar: calendar,
		logger:   logger,
	}
}

// IsAvailable decides whether [start, end) can be booked for the business.
// It errors only when the local store itself is unreachable; there is no
// safe default without the source of truth. Ordinary unavailability is a
// valid false result, not an error.
func (r *Reconciler) IsAvailable(ctx context.Context, businessID string, start, end time.Time) (bool, error) {
	overlap, err := r.store.HasOverlap(ctx, businessID, start, end)
	if err != nil {
		return false, err
	}
	localAvailable := !overlap

	token, ok, err := r.tokens.AccessToken(ctx, businessID)
	if err != nil {
		r.logger.Warn("calendar credential unavailable; deciding on local availability only",
			"business_id", businessID, "err", err)
		return localAvailable, nil
	}
	if !ok {
		// No calendar connected: local-only mode.
		return localAvailable, nil
	}

	busy, err := r.calendar.QueryBusy(ctx, token, start, end)
	if err != nil {
		r.logger.Warn("external calendar query failed; deciding on local availability only",
			"business_id", businessID, "err", err)
		return localAvailable, nil
	}

	// Providers may round busy periods outward to the window edges; apply
	// the half-open overlap rule rather than trusting len(busy) alone.
	return localAvailable && !interval.OverlapsAny(start, end, busy), nil
}
