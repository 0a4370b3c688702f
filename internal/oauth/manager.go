package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/repository"
	"golang.org/x/oauth2"
)

const (
	// DefaultRefreshThreshold refreshes tokens expiring within this window.
	DefaultRefreshThreshold = 5 * time.Minute

	persistTimeout = 10 * time.Second
)

// CredentialStore is the persistence the manager needs.
type CredentialStore interface {
	Get(ctx context.Context, userID, provider, service string) (*models.IntegrationCredential, error)
	UpdateTokens(ctx context.Context, credentialID string, accessToken string, refreshToken string, expiryDate time.Time) error
	Delete(ctx context.Context, credentialID string) error
}

// Refresher exchanges a refresh token for a new token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Manager owns credential state: it refreshes tokens before they expire, deletes
// credentials that can never be refreshed again, and persists rotated tokens.
type Manager struct {
	store     CredentialStore
	refresher Refresher
	logger    *slog.Logger

	Now       func() time.Time
	Threshold time.Duration

	writes sync.WaitGroup
}

func NewManager(store CredentialStore, refresher Refresher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		logger:    logger.With("component", "token_manager"),
		Now:       time.Now,
		Threshold: DefaultRefreshThreshold,
	}
}

// GetValidCredential returns a session holding a token that is valid for at least
// the refresh threshold. Failures are always *AuthError.
func (m *Manager) GetValidCredential(ctx context.Context, userID, service string) (*Session, error) {
	cred, err := m.store.Get(ctx, userID, models.CredentialProviderGoogle, service)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, &AuthError{UserID: userID, Service: service, Permanent: true, Err: err}
		}
		return nil, &AuthError{UserID: userID, Service: service, Err: fmt.Errorf("failed to get credential: %w", err)}
	}

	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
	}
	if cred.ExpiryDate != nil {
		token.Expiry = *cred.ExpiryDate
	}

	if m.isTokenExpired(cred.ExpiryDate) {
		m.logger.Info("access token expiring, refreshing", "user_id", userID, "service", service)
		refreshed, err := m.refresh(ctx, cred)
		if err != nil {
			return nil, m.refreshFailed(ctx, cred, err)
		}
		token = refreshed
		m.persistAsync(cred.ID, userID, service, refreshed)
	}

	return NewSession(m, cred.ID, userID, service, token), nil
}

// Wait blocks until every pending token write has finished.
func (m *Manager) Wait() {
	m.writes.Wait()
}

// isTokenExpired checks if access token is expired or will expire within the threshold
func (m *Manager) isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true // Assume expired if no expiry time
	}
	return m.Now().Add(m.Threshold).After(*expiresAt)
}

func (m *Manager) refresh(ctx context.Context, cred *models.IntegrationCredential) (*oauth2.Token, error) {
	if cred.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	token, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = cred.RefreshToken
	}
	return token, nil
}

// refreshFailed deletes the credential on permanent failures. A partial credential
// is worse than none, so there is no soft invalidation.
func (m *Manager) refreshFailed(ctx context.Context, cred *models.IntegrationCredential, err error) error {
	if !isPermanentRefreshError(err) {
		m.logger.Warn("token refresh failed, retryable",
			"user_id", cred.UserID, "service", cred.Service, "error", err)
		return &AuthError{UserID: cred.UserID, Service: cred.Service, Err: err}
	}

	m.logger.Error("token refresh failed permanently, deleting credential",
		"user_id", cred.UserID, "service", cred.Service, "credential_id", cred.ID, "error", err)
	if delErr := m.store.Delete(ctx, cred.ID); delErr != nil {
		m.logger.Error("failed to delete revoked credential",
			"credential_id", cred.ID, "error", delErr)
	}
	return &AuthError{UserID: cred.UserID, Service: cred.Service, Permanent: true, Err: err}
}

// persistAsync writes a new token without holding up the caller. Concurrent writes
// for the same credential are last-writer-wins; every writer holds a fresh token.
func (m *Manager) persistAsync(credentialID, userID, service string, token *oauth2.Token) {
	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		err := m.store.UpdateTokens(ctx, credentialID, token.AccessToken, token.RefreshToken, token.Expiry)
		if err != nil {
			m.logger.Error("failed to persist refreshed token",
				"user_id", userID, "service", service, "error", err)
			return
		}
		m.logger.Info("token persisted",
			"user_id", userID, "service", service, "expires_at", token.Expiry)
	}()
}
