package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/repository"
	"github.com/google/uuid"
)

type AnalyticsService struct {
	repository *repository.DecisionLogRepository
}

func NewAnalyticsService(repo *repository.DecisionLogRepository) *AnalyticsService {
	return &AnalyticsService{
		repository: repo,
	}
}

// Holds the audited decisions of a time range. Only bypasses and
// rejections are audited, so admits appear here as bypasses alone.
type AnalyticsSummary struct {
	TotalDecisions    int64                    `json:"total_decisions"`
	RateLimited       int64                    `json:"rate_limited"`
	QuotaExceeded     int64                    `json:"quota_exceeded"`
	Bypassed          int64                    `json:"bypassed"`
	StoreUnavailable  int64                    `json:"store_unavailable"`
	ByOutcome         []map[string]interface{} `json:"by_outcome"`
	TopPaths          []map[string]interface{} `json:"top_paths"`
	TopRejectedUsers  []map[string]interface{} `json:"top_rejected_users"`
	RejectionsPerHour float64                  `json:"rejections_per_hour"`
}

// Holds time-series analytics data
type TimeSeriesData struct {
	Hour    time.Time `json:"hour"`
	Outcome string    `json:"outcome"`
	Count   int64     `json:"count"`
}

// Retrieves the analytics summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{}

	total, err := s.repository.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalDecisions = total

	if total == 0 {
		return summary, nil
	}

	byOutcome, err := s.repository.CountByOutcome(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.ByOutcome = byOutcome

	for _, row := range byOutcome {
		count, _ := row["count"].(int64)
		switch row["outcome"] {
		case "rate_limited":
			summary.RateLimited += count
		case "quota_exceeded":
			summary.QuotaExceeded += count
		}
		switch row["reason"] {
		case "bypass":
			summary.Bypassed += count
		case "store_unavailable":
			summary.StoreUnavailable += count
		}
	}

	if hours := to.Sub(from).Hours(); hours > 0 {
		summary.RejectionsPerHour = float64(summary.RateLimited+summary.QuotaExceeded) / hours
	}

	topPaths, err := s.repository.GetTopPaths(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopPaths = topPaths

	topUsers, err := s.repository.GetTopRejectedUsers(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopRejectedUsers = topUsers

	return summary, nil
}

// Retrieves hourly decision counts by outcome
func (s *AnalyticsService) GetTimeSeriesData(ctx context.Context, from, to time.Time) ([]TimeSeriesData, error) {
	hourly, err := s.repository.GetHourlyOutcomes(ctx, from, to)
	if err != nil {
		return nil, err
	}

	timeSeries := make([]TimeSeriesData, 0, len(hourly))
	for _, stat := range hourly {
		timeSeries = append(timeSeries, TimeSeriesData{
			Hour:    stat["hour"].(time.Time),
			Outcome: stat["outcome"].(string),
			Count:   stat["count"].(int64),
		})
	}

	return timeSeries, nil
}

// Retrieves decision logs with pagination, optionally for one user
func (s *AnalyticsService) GetLogs(ctx context.Context, from, to time.Time, userID *uuid.UUID, limit, offset int) ([]interface{}, error) {
	var logs []interface{}

	if userID != nil {
		results, err := s.repository.FindByUser(ctx, *userID, from, to, limit, offset)
		if err != nil {
			return nil, err
		}
		for _, log := range results {
			logs = append(logs, log)
		}
	} else {
		results, err := s.repository.FindByTimeRange(ctx, from, to, limit, offset)
		if err != nil {
			return nil, err
		}
		for _, log := range results {
			logs = append(logs, log)
		}
	}

	return logs, nil
}

// Deletes logs older than the retention period
func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutOffDate := time.Now().AddDate(0, 0, -retentionDays)
	return s.repository.DeleteOldLogs(ctx, cutOffDate)
}
