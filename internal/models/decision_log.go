package models

import (
	"time"

	"github.com/google/uuid"
)

// An audit entry for a gate decision
type DecisionLog struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Timestamp    time.Time  `gorm:"index" json:"timestamp"`
	UserID       uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	TierID       uuid.UUID  `gorm:"type:uuid" json:"tier_id"`
	RuleID       *uuid.UUID `gorm:"type:uuid" json:"rule_id,omitempty"`
	Method       string     `json:"method"`
	Path         string     `gorm:"index" json:"path"`
	Outcome      string     `gorm:"index" json:"outcome"`
	Reason       string     `json:"reason,omitempty"`
	LoadLevel    string     `json:"load_level"`
	EffectiveCap int        `json:"effective_limit"`
}

func (DecisionLog) TableName() string {
	return "decision_logs"
}
