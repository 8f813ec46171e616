package models

import (
	"time"

	"github.com/google/uuid"
)

// Per-user daily API call counters. Owned by the quota tracker.
type UserQuotaState struct {
	UserID                       uuid.UUID `gorm:"type:uuid;primary_key" json:"user_id"`
	SubscriptionTierID           uuid.UUID `gorm:"type:uuid;index" json:"subscription_tier_id"`
	APICallsUsedToday            int       `gorm:"column:api_calls_used_today;not null;default:0" json:"api_calls_used_today"`
	MaxDailyAPICalls             int       `gorm:"column:max_daily_api_calls;not null" json:"max_daily_api_calls"`
	LastResetTime                time.Time `gorm:"not null" json:"last_reset_time"`
	IsExemptFromQuota            bool      `gorm:"default:false" json:"is_exempt_from_quota"`
	HasReceivedQuotaWarning      bool      `gorm:"default:false" json:"has_received_quota_warning"`
	QuotaWarningThresholdPercent int       `gorm:"default:80" json:"quota_warning_threshold_percent"`
	Version                      int64     `gorm:"not null;default:0" json:"version"`
	UpdatedAt                    time.Time `json:"updated_at"`
}

func (UserQuotaState) TableName() string {
	return "user_quota_states"
}
