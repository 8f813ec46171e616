package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *storage.Postgres
}

func NewAPIKeyRepository(db *storage.Postgres) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	return r.db.DB.WithContext(ctx).Create(apiKey).Error
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", hash, true).
		First(&apiKey).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &apiKey, err
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&apiKey).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &apiKey, err
}

func (r *APIKeyRepository) List(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&keys).Error

	return keys, err
}

// Keys held by one user, newest first
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error

	return keys, err
}

func (r *APIKeyRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Moves every key of a user onto another tier. Used on tier reassignment.
func (r *APIKeyRepository) UpdateTierForUser(ctx context.Context, userID, tierID uuid.UUID) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("user_id = ?", userID).
		Update("subscription_tier_id", tierID)

	return result.RowsAffected, result.Error
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}

func (r *APIKeyRepository) Delete(ctx context.Context, id string) error {
	return r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.APIKey{}).Error
}

func (r *APIKeyRepository) CountByTier(ctx context.Context, tierID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("subscription_tier_id = ? AND is_active = ?", tierID, true).
		Count(&count).Error

	return count, err
}
