package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleConfig returns the OAuth client configuration used for Gmail and Calendar.
func GoogleConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
	}
}

// TokenRefresher exchanges a refresh token for a new access token at the provider.
type TokenRefresher struct {
	config *oauth2.Config
}

func NewTokenRefresher(config *oauth2.Config) *TokenRefresher {
	return &TokenRefresher{config: config}
}

// Refresh refreshes the OAuth2 access token
func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	newToken, err := r.config.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	// Keep the same refresh token unless the provider rotated it
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = refreshToken
	}
	return newToken, nil
}
