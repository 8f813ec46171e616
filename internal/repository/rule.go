package repository

import (
	"context"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"gorm.io/gorm"
)

type RuleRepository struct {
	db *storage.Postgres
}

func NewRuleRepository(db *storage.Postgres) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) Create(ctx context.Context, rule *models.RateLimitRule) error {
	return r.db.DB.WithContext(ctx).Create(rule).Error
}

func (r *RuleRepository) FindByID(ctx context.Context, id string) (*models.RateLimitRule, error) {
	var rule models.RateLimitRule
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&rule).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &rule, err
}

func (r *RuleRepository) ListByTier(ctx context.Context, tierID string) ([]models.RateLimitRule, error) {
	var rules []models.RateLimitRule
	err := r.db.DB.WithContext(ctx).
		Where("subscription_tier_id = ?", tierID).
		Order("match_priority ASC, created_at ASC").
		Find(&rules).Error

	return rules, err
}

// Every active rule across all tiers. The matcher orders them itself.
func (r *RuleRepository) ListActive(ctx context.Context) ([]models.RateLimitRule, error) {
	var rules []models.RateLimitRule
	err := r.db.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&rules).Error

	return rules, err
}

// Saves all fields of rule, zero values included
func (r *RuleRepository) Save(ctx context.Context, rule *models.RateLimitRule) error {
	return r.db.DB.WithContext(ctx).Save(rule).Error
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	return r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.RateLimitRule{}).Error
}

// RuleLoader feeds the rule cache from the tier and rule tables
type RuleLoader struct {
	tiers *TierRepository
	rules *RuleRepository
}

func NewRuleLoader(tiers *TierRepository, rules *RuleRepository) *RuleLoader {
	return &RuleLoader{tiers: tiers, rules: rules}
}

func (l *RuleLoader) ListTiers(ctx context.Context) ([]models.SubscriptionTier, error) {
	return l.tiers.List(ctx)
}

func (l *RuleLoader) ListActiveRules(ctx context.Context) ([]models.RateLimitRule, error) {
	return l.rules.ListActive(ctx)
}
