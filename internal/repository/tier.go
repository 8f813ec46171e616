package repository

import (
	"context"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"gorm.io/gorm"
)

type TierRepository struct {
	db *storage.Postgres
}

func NewTierRepository(db *storage.Postgres) *TierRepository {
	return &TierRepository{db: db}
}

func (r *TierRepository) Create(ctx context.Context, tier *models.SubscriptionTier) error {
	return r.db.DB.WithContext(ctx).Create(tier).Error
}

func (r *TierRepository) FindByID(ctx context.Context, id string) (*models.SubscriptionTier, error) {
	var tier models.SubscriptionTier
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&tier).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &tier, err
}

func (r *TierRepository) FindByName(ctx context.Context, name string) (*models.SubscriptionTier, error) {
	var tier models.SubscriptionTier
	err := r.db.DB.WithContext(ctx).
		Where("name = ?", name).
		First(&tier).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &tier, err
}

// Lists every tier, highest priority first
func (r *TierRepository) List(ctx context.Context) ([]models.SubscriptionTier, error) {
	var tiers []models.SubscriptionTier
	err := r.db.DB.WithContext(ctx).
		Order("priority DESC, name ASC").
		Find(&tiers).Error

	return tiers, err
}

// Saves all fields of tier, zero values included
func (r *TierRepository) Save(ctx context.Context, tier *models.SubscriptionTier) error {
	return r.db.DB.WithContext(ctx).Save(tier).Error
}

// Deletes the tier together with its rules
func (r *TierRepository) Delete(ctx context.Context, id string) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("subscription_tier_id = ?", id).Delete(&models.RateLimitRule{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.SubscriptionTier{}).Error
	})
}
