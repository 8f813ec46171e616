package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTierNotFound = errors.New("tier not found")
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidTier  = errors.New("invalid tier")
	ErrInvalidRule  = errors.New("invalid rule")
)

const defaultMatchPriority = 100

// Refresher reloads the rule snapshot served to the gate
type Refresher interface {
	Refresh(ctx context.Context) error
}

// TierInput carries the writable fields of a tier
type TierInput struct {
	Name                     string `json:"name" binding:"required"`
	DefaultRateLimit         int    `json:"default_rate_limit"`
	DefaultTimeWindowSeconds int    `json:"default_time_window_seconds"`
	DailyAPIQuota            int    `json:"daily_api_quota"`
	MaxConcurrentConnections int    `json:"max_concurrent_connections"`
	BypassStandardRateLimits bool   `json:"bypass_standard_rate_limits"`
	Priority                 int    `json:"priority"`
	IsSystemTier             bool   `json:"is_system_tier"`
}

// RuleInput carries the writable fields of a rule. Pointers tell an omitted
// field from an explicit zero.
type RuleInput struct {
	EndpointPattern          string `json:"endpoint_pattern" binding:"required"`
	HTTPMethod               string `json:"http_method"`
	RateLimit                int    `json:"rate_limit"`
	TimeWindowSeconds        int    `json:"time_window_seconds"`
	IsCriticalEndpoint       bool   `json:"is_critical_endpoint"`
	ExemptSystemAccounts     bool   `json:"exempt_system_accounts"`
	MatchPriority            *int   `json:"match_priority"`
	IsAdaptive               bool   `json:"is_adaptive"`
	HighLoadReductionPercent int    `json:"high_load_reduction_percent"`
	IsActive                 *bool  `json:"is_active"`
}

type TierService struct {
	tiers     *repository.TierRepository
	rules     *repository.RuleRepository
	refresher Refresher
	logger    *zap.Logger
}

func NewTierService(tiers *repository.TierRepository, rules *repository.RuleRepository, refresher Refresher, logger *zap.Logger) *TierService {
	return &TierService{
		tiers:     tiers,
		rules:     rules,
		refresher: refresher,
		logger:    logging.OrNop(logger),
	}
}

func (in TierInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidTier)
	case in.DefaultRateLimit < 0:
		return fmt.Errorf("%w: default_rate_limit must not be negative", ErrInvalidTier)
	case in.DefaultTimeWindowSeconds <= 0:
		return fmt.Errorf("%w: default_time_window_seconds must be positive", ErrInvalidTier)
	case in.DailyAPIQuota < 0:
		return fmt.Errorf("%w: daily_api_quota must not be negative", ErrInvalidTier)
	case in.MaxConcurrentConnections < 0:
		return fmt.Errorf("%w: max_concurrent_connections must not be negative", ErrInvalidTier)
	}
	return nil
}

func (in TierInput) apply(t *models.SubscriptionTier) {
	t.Name = strings.TrimSpace(in.Name)
	t.DefaultRateLimit = in.DefaultRateLimit
	t.DefaultTimeWindowSeconds = in.DefaultTimeWindowSeconds
	t.DailyAPIQuota = in.DailyAPIQuota
	t.MaxConcurrentConnections = in.MaxConcurrentConnections
	t.BypassStandardRateLimits = in.BypassStandardRateLimits
	t.Priority = in.Priority
	t.IsSystemTier = in.IsSystemTier
}

func (in RuleInput) validate() error {
	switch {
	case !strings.HasPrefix(in.EndpointPattern, "/"):
		return fmt.Errorf("%w: endpoint_pattern must start with /", ErrInvalidRule)
	case in.RateLimit < 0:
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalidRule)
	case in.TimeWindowSeconds <= 0:
		return fmt.Errorf("%w: time_window_seconds must be positive", ErrInvalidRule)
	case in.HighLoadReductionPercent < 0 || in.HighLoadReductionPercent > 100:
		return fmt.Errorf("%w: high_load_reduction_percent must be within 0..100", ErrInvalidRule)
	}
	return nil
}

func (in RuleInput) apply(r *models.RateLimitRule) {
	r.EndpointPattern = in.EndpointPattern
	r.HTTPMethod = strings.ToUpper(strings.TrimSpace(in.HTTPMethod))
	if r.HTTPMethod == "" {
		r.HTTPMethod = "*"
	}
	r.RateLimit = in.RateLimit
	r.TimeWindowSeconds = in.TimeWindowSeconds
	r.IsCriticalEndpoint = in.IsCriticalEndpoint
	r.ExemptSystemAccounts = in.ExemptSystemAccounts
	r.IsAdaptive = in.IsAdaptive
	r.HighLoadReductionPercent = in.HighLoadReductionPercent

	if in.MatchPriority != nil {
		r.MatchPriority = *in.MatchPriority
	} else if r.ID == uuid.Nil {
		r.MatchPriority = defaultMatchPriority
	}
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	} else if r.ID == uuid.Nil {
		r.IsActive = true
	}
}

func (s *TierService) CreateTier(ctx context.Context, in TierInput) (*models.SubscriptionTier, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var tier models.SubscriptionTier
	in.apply(&tier)
	if err := s.tiers.Create(ctx, &tier); err != nil {
		return nil, fmt.Errorf("failed to create tier: %w", err)
	}

	s.refresh(ctx)
	return &tier, nil
}

func (s *TierService) GetTier(ctx context.Context, id string) (*models.SubscriptionTier, error) {
	tier, err := s.tiers.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, ErrTierNotFound
	}
	return tier, nil
}

func (s *TierService) ListTiers(ctx context.Context) ([]models.SubscriptionTier, error) {
	return s.tiers.List(ctx)
}

func (s *TierService) UpdateTier(ctx context.Context, id string, in TierInput) (*models.SubscriptionTier, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	tier, err := s.GetTier(ctx, id)
	if err != nil {
		return nil, err
	}

	in.apply(tier)
	if err := s.tiers.Save(ctx, tier); err != nil {
		return nil, fmt.Errorf("failed to update tier: %w", err)
	}

	s.refresh(ctx)
	return tier, nil
}

func (s *TierService) DeleteTier(ctx context.Context, id string) error {
	if _, err := s.GetTier(ctx, id); err != nil {
		return err
	}

	if err := s.tiers.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete tier: %w", err)
	}

	s.refresh(ctx)
	return nil
}

func (s *TierService) CreateRule(ctx context.Context, tierID string, in RuleInput) (*models.RateLimitRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	tier, err := s.GetTier(ctx, tierID)
	if err != nil {
		return nil, err
	}

	rule := models.RateLimitRule{SubscriptionTierID: tier.ID}
	in.apply(&rule)
	if err := s.rules.Create(ctx, &rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.refresh(ctx)
	return &rule, nil
}

func (s *TierService) ListRules(ctx context.Context, tierID string) ([]models.RateLimitRule, error) {
	if _, err := s.GetTier(ctx, tierID); err != nil {
		return nil, err
	}
	return s.rules.ListByTier(ctx, tierID)
}

// Returns the rule only when it belongs to tierID
func (s *TierService) GetRule(ctx context.Context, tierID, ruleID string) (*models.RateLimitRule, error) {
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil || rule.SubscriptionTierID.String() != tierID {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

func (s *TierService) UpdateRule(ctx context.Context, tierID, ruleID string, in RuleInput) (*models.RateLimitRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	rule, err := s.GetRule(ctx, tierID, ruleID)
	if err != nil {
		return nil, err
	}

	in.apply(rule)
	if err := s.rules.Save(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.refresh(ctx)
	return rule, nil
}

func (s *TierService) DeleteRule(ctx context.Context, tierID, ruleID string) error {
	if _, err := s.GetRule(ctx, tierID, ruleID); err != nil {
		return err
	}

	if err := s.rules.Delete(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	s.refresh(ctx)
	return nil
}

// Reload pushes the current tables to the gate right away
func (s *TierService) Reload(ctx context.Context) error {
	if s.refresher == nil {
		return nil
	}
	return s.refresher.Refresh(ctx)
}

// A failed refresh is not fatal to an admin write; the periodic reload
// picks the change up.
func (s *TierService) refresh(ctx context.Context) {
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("rule snapshot refresh after write failed", zap.Error(err))
	}
}
