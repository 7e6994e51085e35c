package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/assistly/callcore/services/booking-service/internal/model"
)

// ErrRefreshFailed marks a failed refresh-token grant. Callers treat it as
// "external calendar unavailable for this call", never as a booking failure.
var ErrRefreshFailed = errors.New("calendar token refresh failed")

// CredentialStore is the persistence surface the provider needs.
type CredentialStore interface {
	Get(ctx context.Context, businessID string) (model.CalendarCredential, bool, error)
	SaveRefreshed(ctx context.Context, businessID, accessToken string, expiresAt time.Time) error
}

// TokenProvider hands out a usable access token for a business's external
// calendar, refreshing through the OAuth2 token endpoint when the cached one
// has expired.
type TokenProvider struct {
	creds  CredentialStore
	oauth  *oauth2.Config
	logger *slog.Logger
	now    func() time.Time
}

func NewTokenProvider(creds CredentialStore, clientID, clientSecret, tokenURL string, logger *slog.Logger) *TokenProvider {
	return &TokenProvider{
		creds: creds,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		logger: logger,
		now:    time.Now,
	}
}

// AccessToken returns (token, true, nil) when the business has a usable
// credential, ("", false, nil) when no calendar is connected, and an error
// wrapping ErrRefreshFailed when the stored token is expired and cannot be
// refreshed. A successful refresh always rewrites the stored credential.
func (p *TokenProvider) AccessToken(ctx context.Context, businessID string) (string, bool, error) {
	cred, ok, err := p.creds.Get(ctx, businessID)
	if err != nil {
		return "", false, fmt.Errorf("load calendar credential: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	// A credential without a recorded expiry is used as-is; the provider
	// will reject it downstream if it is stale.
	if cred.ExpiresAt.IsZero() || p.now().Before(cred.ExpiresAt) {
		return cred.AccessToken, true, nil
	}

	if cred.RefreshToken == "" {
		return "", false, fmt.Errorf("%w: expired token and no refresh token on file", ErrRefreshFailed)
	}

	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	if err := p.creds.SaveRefreshed(ctx, businessID, tok.AccessToken, tok.Expiry); err != nil {
		// The grant succeeded; the token is valid even if caching it failed.
		p.logger.Warn("failed to persist refreshed calendar token", "business_id", businessID, "err", err)
	}
	return tok.AccessToken, true, nil
}
