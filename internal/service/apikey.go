package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/repository"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "tg_"
	keyCacheTTL = 5 * time.Minute
)

// NewKeyInput describes a key to issue. A nil UserID issues the key to a new
// user.
type NewKeyInput struct {
	Name            string     `json:"name" binding:"required"`
	UserID          *uuid.UUID `json:"user_id"`
	TierID          uuid.UUID  `json:"subscription_tier_id" binding:"required"`
	IsSystemAccount bool       `json:"is_system_account"`
}

type APIKeyService struct {
	repository *repository.APIKeyRepository
	tiers      *repository.TierRepository
	redis      *storage.RedisClient
	logger     *zap.Logger
}

func NewAPIKeyService(repo *repository.APIKeyRepository, tiers *repository.TierRepository, redis *storage.RedisClient, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		tiers:      tiers,
		redis:      redis,
		logger:     logging.OrNop(logger),
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func cacheKey(keyHash string) string {
	return fmt.Sprintf("apikey:cache:%s", keyHash)
}

// Create issues a key and returns it in plain text, the only time it is
// visible
func (s *APIKeyService) Create(ctx context.Context, in NewKeyInput, createdBy string) (string, *models.APIKey, error) {
	tier, err := s.tiers.FindByID(ctx, in.TierID.String())
	if err != nil {
		return "", nil, err
	}
	if tier == nil {
		return "", nil, ErrTierNotFound
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	key := keyPrefix + base64.URLEncoding.EncodeToString(keyBytes)

	userID := uuid.New()
	if in.UserID != nil && *in.UserID != uuid.Nil {
		userID = *in.UserID
	}

	apiKey := models.APIKey{
		KeyHash:            hashKey(key),
		Name:               in.Name,
		CreatedBy:          createdBy,
		UserID:             userID,
		SubscriptionTierID: tier.ID,
		IsSystemAccount:    in.IsSystemAccount,
		IsActive:           true,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, &apiKey, nil
}

// Validate resolves a plain key to its record, or nil when unknown or revoked
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, cacheKey(keyHash))
		if err == nil && cached != "" {
			var apiKey models.APIKey
			if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
				return &apiKey, nil
			}
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if apiKey == nil {
		return nil, nil
	}

	if s.redis != nil {
		apiKeyJSON, _ := json.Marshal(apiKey)
		if err := s.redis.Set(ctx, cacheKey(keyHash), apiKeyJSON, keyCacheTTL); err != nil {
			s.logger.Warn("failed to cache api key", zap.Error(err))
		}
	}

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

func (s *APIKeyService) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	for _, field := range []string{"subscription_tier_id", "is_active", "is_system_account"} {
		if _, ok := updates[field]; ok {
			s.invalidateCache(ctx, id)
			break
		}
	}

	return s.repository.Update(ctx, id, updates)
}

// ReassignTier moves every key of userID onto tierID. The user's quota row
// adopts the new tier's daily quota on its next consume.
func (s *APIKeyService) ReassignTier(ctx context.Context, userID, tierID uuid.UUID) (int64, error) {
	tier, err := s.tiers.FindByID(ctx, tierID.String())
	if err != nil {
		return 0, err
	}
	if tier == nil {
		return 0, ErrTierNotFound
	}

	keys, err := s.repository.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	n, err := s.repository.UpdateTierForUser(ctx, userID, tierID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign tier: %w", err)
	}

	for _, k := range keys {
		s.dropCached(ctx, k.KeyHash)
	}

	return n, nil
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	s.invalidateCache(ctx, id)

	return s.repository.Delete(ctx, id)
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
		s.logger.Debug("failed to update key last used", zap.Error(err))
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id string) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	s.dropCached(ctx, apiKey.KeyHash)
}

func (s *APIKeyService) dropCached(ctx context.Context, keyHash string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, cacheKey(keyHash)); err != nil {
		s.logger.Warn("failed to drop cached api key", zap.Error(err))
	}
}
