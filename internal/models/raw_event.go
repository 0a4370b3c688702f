package models

import (
	"time"

	"gorm.io/datatypes"
)

// Raw event providers. These are the values stored in raw_event.provider.
const (
	ProviderGmail          = "gmail"
	ProviderGoogleCalendar = "google_calendar"
)

// RawEvent is a deduplicated, provider-native record pulled from an external API.
// (UserID, Provider, SourceID) is unique; a re-sync overwrites Payload, OccurredAt,
// SourceMeta and BatchID in place. CreatedAt is the first-seen watermark.
type RawEvent struct {
	ID         string         `gorm:"column:id;primaryKey"`
	UserID     string         `gorm:"column:user_id;uniqueIndex:idx_raw_event_source,priority:1"`
	Provider   string         `gorm:"column:provider;uniqueIndex:idx_raw_event_source,priority:2"`
	SourceID   string         `gorm:"column:source_id;uniqueIndex:idx_raw_event_source,priority:3"`
	Payload    datatypes.JSON `gorm:"column:payload"`
	OccurredAt time.Time      `gorm:"column:occurred_at;index"`
	BatchID    string         `gorm:"column:batch_id;index"`
	SourceMeta JSONB          `gorm:"column:source_meta;type:jsonb"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (RawEvent) TableName() string {
	return "raw_event"
}

// Ingestible reports whether the event carries every field needed to be stored.
// Calendar events without both a start and an end are not ingestible yet.
func (e RawEvent) Ingestible() bool {
	if e.UserID == "" || e.Provider == "" || e.SourceID == "" || e.OccurredAt.IsZero() {
		return false
	}
	if e.Provider == ProviderGoogleCalendar {
		end, ok := e.SourceMeta["end"]
		if !ok || end == nil || end == "" {
			return false
		}
	}
	return true
}
