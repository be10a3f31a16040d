package publish

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/draftgate/draftgate/store"
)

// OAuth2Refresher exchanges refresh tokens through a standard OAuth2
// token endpoint. One instance per platform, configured with that
// platform's client credentials.
type OAuth2Refresher struct {
	config *oauth2.Config
}

var _ TokenRefresher = (*OAuth2Refresher)(nil)

// NewOAuth2Refresher creates a refresher for one platform's token endpoint.
func NewOAuth2Refresher(clientID, clientSecret, tokenURL string) *OAuth2Refresher {
	return &OAuth2Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Refresh exchanges the stored refresh token for a fresh credential.
// Providers that rotate refresh tokens return a new one; providers that
// do not leave it empty, so the old token is kept in that case.
func (r *OAuth2Refresher) Refresh(ctx context.Context, conn *store.Connection) (store.Credential, time.Time, error) {
	if conn.Credential.RefreshToken == "" {
		return store.Credential{}, time.Time{}, fmt.Errorf("connection %d has no refresh token", conn.ID)
	}

	source := r.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: conn.Credential.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force the exchange
	})

	token, err := source.Token()
	if err != nil {
		return store.Credential{}, time.Time{}, fmt.Errorf("token exchange failed: %w", err)
	}

	credential := store.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if credential.RefreshToken == "" {
		credential.RefreshToken = conn.Credential.RefreshToken
	}
	return credential, token.Expiry, nil
}
