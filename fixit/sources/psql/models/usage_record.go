// fixit/sources/psql/models/usage_record.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one (user, UTC day) message counter.
type UsageRecord struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID        string     `json:"user_id" gorm:"type:text;not null;uniqueIndex:idx_usage_user_date,priority:1"`
	Day           string     `json:"date" gorm:"column:usage_date;type:varchar(10);not null;uniqueIndex:idx_usage_user_date,priority:2;index:idx_usage_date"`
	MessageCount  int        `json:"message_count" gorm:"not null"`
	ReservedCount int        `json:"reserved_count" gorm:"not null"`
	ReservedUntil int64      `json:"reserved_until" gorm:"not null;default:0"` // unix ms
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
