package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identifies a caller. The key resolves to the user and the user's active tier.
type APIKey struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash            string     `gorm:"uniqueIndex;not null" json:"-"`
	Name               string     `gorm:"not null" json:"name"`
	CreatedBy          string     `json:"created_by"`
	UserID             uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	SubscriptionTierID uuid.UUID  `gorm:"type:uuid;index;not null" json:"subscription_tier_id"`
	IsSystemAccount    bool       `gorm:"default:false" json:"is_system_account"`
	IsActive           bool       `gorm:"default:true" json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (APIKey) TableName() string {
	return "api_keys"
}
