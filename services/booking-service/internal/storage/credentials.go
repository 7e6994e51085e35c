package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/assistly/callcore/libs/db"
	"github.com/assistly/callcore/services/booking-service/internal/model"
)

// CredentialRepository owns the google_calendar_tokens table, one row per
// business. The row is a cache of an external authorization; its absence
// means the business runs in local-only mode.
type CredentialRepository struct {
	pool *db.Pool
}

func NewCredentialRepository(pool *db.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Get returns (credential, true) when the business has a calendar connected,
// (zero, false) when it does not. Errors are storage failures only.
func (r *CredentialRepository) Get(ctx context.Context, businessID string) (model.CalendarCredential, bool, error) {
	var cred model.CalendarCredential
	var expiresAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT business_id::text, access_token, COALESCE(refresh_token, ''), expires_at
		FROM google_calendar_tokens
		WHERE business_id = $1
	`, businessID).Scan(&cred.BusinessID, &cred.AccessToken, &cred.RefreshToken, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CalendarCredential{}, false, nil
	}
	if err != nil {
		return model.CalendarCredential{}, false, err
	}
	if expiresAt != nil {
		cred.ExpiresAt = *expiresAt
	}
	return cred, true, nil
}

// SaveRefreshed rewrites the cached access token after a refresh grant.
// Last writer wins when concurrent refreshes race; both tokens are valid.
func (r *CredentialRepository) SaveRefreshed(ctx context.Context, businessID, accessToken string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE google_calendar_tokens
		SET access_token = $2,
			expires_at = $3,
			updated_at = now()
		WHERE business_id = $1
	`, businessID, accessToken, expiresAt)
	return err
}
