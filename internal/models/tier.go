package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// A pricing/capability level. Every user holds exactly one active tier.
type SubscriptionTier struct {
	ID                       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name                     string    `gorm:"uniqueIndex;not null" json:"name"`
	DefaultRateLimit         int       `gorm:"not null" json:"default_rate_limit"`
	DefaultTimeWindowSeconds int       `gorm:"not null" json:"default_time_window_seconds"`
	DailyAPIQuota            int       `gorm:"column:daily_api_quota;not null" json:"daily_api_quota"`
	MaxConcurrentConnections int       `gorm:"default:0" json:"max_concurrent_connections"`
	BypassStandardRateLimits bool      `gorm:"default:false" json:"bypass_standard_rate_limits"`
	Priority                 int       `gorm:"default:0" json:"priority"`
	IsSystemTier             bool      `gorm:"default:false" json:"is_system_tier"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (t *SubscriptionTier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (SubscriptionTier) TableName() string {
	return "subscription_tiers"
}

// Returns the tier's default window as a duration
func (t SubscriptionTier) DefaultWindow() time.Duration {
	return time.Duration(t.DefaultTimeWindowSeconds) * time.Second
}
