package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// An endpoint-and-method override of a tier's default limit
type RateLimitRule struct {
	ID                       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	SubscriptionTierID       uuid.UUID `gorm:"type:uuid;index;not null" json:"subscription_tier_id"`
	EndpointPattern          string    `gorm:"not null" json:"endpoint_pattern"`
	HTTPMethod               string    `gorm:"column:http_method;default:'*'" json:"http_method"`
	RateLimit                int       `gorm:"not null" json:"rate_limit"`
	TimeWindowSeconds        int       `gorm:"not null" json:"time_window_seconds"`
	IsCriticalEndpoint       bool      `gorm:"default:false" json:"is_critical_endpoint"`
	ExemptSystemAccounts     bool      `gorm:"default:false" json:"exempt_system_accounts"`
	MatchPriority            int       `gorm:"not null" json:"match_priority"`
	IsAdaptive               bool      `gorm:"default:false" json:"is_adaptive"`
	HighLoadReductionPercent int       `gorm:"default:0" json:"high_load_reduction_percent"`
	IsActive                 bool      `gorm:"not null" json:"is_active"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (r *RateLimitRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (RateLimitRule) TableName() string {
	return "rate_limit_rules"
}

func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.TimeWindowSeconds) * time.Second
}
