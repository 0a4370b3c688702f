package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/tokencrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCredentialNotFound = errors.New("credential not found")

type CredentialRepository struct {
	db     *gorm.DB
	cipher *tokencrypt.Cipher
}

func NewCredentialRepository(db *gorm.DB, cipher *tokencrypt.Cipher) *CredentialRepository {
	return &CredentialRepository{db: db, cipher: cipher}
}

// Get retrieves the credential for a user's provider service, tokens decrypted
func (r *CredentialRepository) Get(ctx context.Context, userID, provider, service string) (*models.IntegrationCredential, error) {
	var cred models.IntegrationCredential
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND service = ?", userID, provider, service).
		First(&cred)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", result.Error)
	}
	if err := r.decrypt(&cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// ListByService retrieves every stored credential for a provider service
func (r *CredentialRepository) ListByService(ctx context.Context, provider, service string) ([]models.IntegrationCredential, error) {
	var creds []models.IntegrationCredential
	result := r.db.WithContext(ctx).
		Where("provider = ? AND service = ?", provider, service).
		Order("created_at ASC").
		Find(&creds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", result.Error)
	}
	for i := range creds {
		if err := r.decrypt(&creds[i]); err != nil {
			return nil, err
		}
	}
	return creds, nil
}

// Save creates or replaces the credential for (user, provider, service)
func (r *CredentialRepository) Save(ctx context.Context, cred *models.IntegrationCredential) error {
	accessToken, err := r.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := r.cipher.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := time.Now()
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	row := *cred
	row.AccessToken = accessToken
	row.RefreshToken = refreshToken
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "service"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expiry_date", "updated_at"}),
	}).Create(&row)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// UpdateTokens updates access token, refresh token, and expiry
func (r *CredentialRepository) UpdateTokens(ctx context.Context, credentialID string, accessToken string, refreshToken string, expiryDate time.Time) error {
	encAccess, err := r.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := r.cipher.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	updates := map[string]interface{}{
		"access_token":  encAccess,
		"refresh_token": encRefresh,
		"updated_at":    time.Now(),
	}
	if !expiryDate.IsZero() {
		updates["expiry_date"] = expiryDate
	}

	result := r.db.WithContext(ctx).Model(&models.IntegrationCredential{}).
		Where("id = ?", credentialID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// Delete removes the credential row entirely
func (r *CredentialRepository) Delete(ctx context.Context, credentialID string) error {
	result := r.db.WithContext(ctx).Delete(&models.IntegrationCredential{}, "id = ?", credentialID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete credential: %w", result.Error)
	}
	return nil
}

func (r *CredentialRepository) decrypt(cred *models.IntegrationCredential) error {
	accessToken, err := r.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token for credential %s: %w", cred.ID, err)
	}
	refreshToken, err := r.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token for credential %s: %w", cred.ID, err)
	}
	cred.AccessToken = accessToken
	cred.RefreshToken = refreshToken
	return nil
}
