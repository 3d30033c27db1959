// Package history keeps the append-only log of completed enhancements.
package history

import (
	"time"

	"github.com/google/uuid"
)

// Record is one completed enhancement.
type Record struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index:idx_user_edits_user_created,priority:1"`
	OriginalURL string    `json:"original_url"`
	EnhancedURL string    `json:"enhanced_url" gorm:"not null"`
	Mode        string    `json:"mode" gorm:"not null"`
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at" gorm:"index:idx_user_edits_user_created,priority:2,sort:desc"`
}

// TableName returns the database table name.
func (Record) TableName() string {
	return "user_edits"
}
