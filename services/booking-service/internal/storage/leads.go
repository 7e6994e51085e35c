package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/assistly/callcore/libs/db"
	"github.com/assistly/callcore/services/booking-service/internal/model"
)

// LeadRepository owns the leads table. A lead is keyed informally by
// (business_id, phone); repeat callers update the existing row instead of
// creating a second one.
type LeadRepository struct {
	pool *db.Pool
}

func NewLeadRepository(pool *db.Pool) *LeadRepository {
	return &LeadRepository{pool: pool}
}

// Upsert creates the lead on first contact and refreshes name/language on
// repeat contact from the same phone. Returns the surviving lead id.
func (r *LeadRepository) Upsert(ctx context.Context, tx pgx.Tx, lead model.Lead) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO leads (business_id, name, phone, language_spoken)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id, phone) DO UPDATE
		SET name = EXCLUDED.name,
			language_spoken = EXCLUDED.language_spoken,
			updated_at = now()
		RETURNING id::text
	`, lead.BusinessID, lead.Name, lead.Phone, lead.Language).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateCallSummary attaches a call transcript summary to an existing lead.
// Unknown phone numbers are ignored; the summary is advisory data.
func (r *LeadRepository) UpdateCallSummary(ctx context.Context, businessID, phone, summary string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET summary_of_call = $3,
			updated_at = now()
		WHERE business_id = $1 AND phone = $2
	`, businessID, phone, summary)
	return err
}

func (r *LeadRepository) GetByPhone(ctx context.Context, businessID, phone string) (model.Lead, error) {
	var lead model.Lead
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, phone, language_spoken, COALESCE(summary_of_call, ''), created_at, updated_at
		FROM leads
		WHERE business_id = $1 AND phone = $2
	`, businessID, phone).Scan(
		&lead.ID,
		&lead.BusinessID,
		&lead.Name,
		&lead.Phone,
		&lead.Language,
		&lead.CallSummary,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return model.Lead{}, err
	}
	return lead, nil
}
