package models

import "time"

// Credential provider and services.
const (
	CredentialProviderGoogle = "google"

	ServiceGmail    = "gmail"
	ServiceCalendar = "calendar"
)

// IntegrationCredential holds a user's OAuth tokens for one provider service.
// Tokens are encrypted at rest; the repository decrypts them on read, so the
// struct always carries plaintext once loaded.
type IntegrationCredential struct {
	ID           string     `gorm:"column:id;primaryKey"`
	UserID       string     `gorm:"column:user_id;uniqueIndex:idx_integration_credential_service,priority:1"`
	Provider     string     `gorm:"column:provider;uniqueIndex:idx_integration_credential_service,priority:2"`
	Service      string     `gorm:"column:service;uniqueIndex:idx_integration_credential_service,priority:3"`
	AccessToken  string     `gorm:"column:access_token"`
	RefreshToken string     `gorm:"column:refresh_token"`
	ExpiryDate   *time.Time `gorm:"column:expiry_date"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (IntegrationCredential) TableName() string {
	return "integration_credential"
}
