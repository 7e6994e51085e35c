package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/assistly/callcore/libs/db"
	"github.com/assistly/callcore/services/booking-service/internal/model"
)

// AppointmentRepository owns the appointments table. The half-open overlap
// invariant is enforced twice: by the range queries here and, atomically, by
// the appointments_no_overlap exclusion constraint at insert/update time.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// HasOverlap reports whether any active appointment of the business
// intersects [start, end). Touching endpoints do not count.
func (r *AppointmentRepository) HasOverlap(ctx context.Context, businessID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE business_id = $1
				AND status IN ('scheduled', 'confirmed')
				AND start_time < $3
				AND end_time > $2
		)
	`, businessID, start, end).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// HasOverlapExcluding is HasOverlap ignoring one appointment, used when
// re-validating a status transition of an existing row.
func (r *AppointmentRepository) HasOverlapExcluding(ctx context.Context, businessID, appointmentID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE business_id = $1
				AND id <> $2
				AND status IN ('scheduled', 'confirmed')
				AND start_time < $4
				AND end_time > $3
		)
	`, businessID, appointmentID, start, end).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Insert writes a new appointment. A concurrent conflicting booking trips the
// exclusion constraint; callers detect that with IsConflict.
func (r *AppointmentRepository) Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO appointments (id, business_id, lead_id, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, appt.ID, appt.BusinessID, appt.LeadID, appt.StartTime, appt.EndTime, appt.Status).
		Scan(&appt.CreatedAt, &appt.UpdatedAt)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	var appt model.Appointment
	err := tx.QueryRow(ctx, `
		SELECT id::text, business_id::text, lead_id::text, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, appointmentID, businessID).Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.LeadID,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// UpdateStatus moves an appointment into status. Transitions back into an
// active status re-enter the exclusion constraint, so a slot taken in the
// meantime surfaces as IsConflict.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, businessID, appointmentID, status string) (time.Time, error) {
	var updatedAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			updated_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING updated_at
	`, appointmentID, businessID, status).Scan(&updatedAt)
	return updatedAt, err
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, lead_id::text, start_time, end_time, status, created_at, updated_at
		FROM appointments
		WHERE business_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		if err := rows.Scan(
			&appt.ID,
			&appt.BusinessID,
			&appt.LeadID,
			&appt.StartTime,
			&appt.EndTime,
			&appt.Status,
			&appt.CreatedAt,
			&appt.UpdatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// IsConflict reports whether err is the Postgres exclusion-constraint
// violation raised when two active appointments would overlap.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
