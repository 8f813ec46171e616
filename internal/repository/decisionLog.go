package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
)

type DecisionLogRepository struct {
	db *storage.Postgres
}

func NewDecisionLogRepository(db *storage.Postgres) *DecisionLogRepository {
	return &DecisionLogRepository{db: db}
}

// Inserts multiple decision logs (for batch insertion)
func (r *DecisionLogRepository) CreateBatch(ctx context.Context, logs []*models.DecisionLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Retrieves logs within a time range
func (r *DecisionLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.DecisionLog, error) {
	var logs []models.DecisionLog

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

// Retrieves logs for one user
func (r *DecisionLogRepository) FindByUser(ctx context.Context, userID uuid.UUID, from, to time.Time, limit, offset int) ([]models.DecisionLog, error) {
	var logs []models.DecisionLog
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND timestamp BETWEEN ? AND ?", userID, from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

// Counts logs in a time range
func (r *DecisionLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Counts logs grouped by outcome and reason
func (r *DecisionLogRepository) CountByOutcome(ctx context.Context, from, to time.Time) ([]map[string]interface{}, error) {
	var results []map[string]interface{}

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Select("outcome, reason, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("outcome, reason").
		Order("count DESC").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var outcome, reason string
		var count int64

		if err := rows.Scan(&outcome, &reason, &count); err != nil {
			return nil, err
		}

		results = append(results, map[string]interface{}{
			"outcome": outcome,
			"reason":  reason,
			"count":   count,
		})
	}

	return results, nil
}

// Returns the paths with the most logged decisions
func (r *DecisionLogRepository) GetTopPaths(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	var results []map[string]interface{}

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Select("path, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("path").
		Order("count DESC").
		Limit(limit).
		Rows()

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var path string
		var count int64

		if err := rows.Scan(&path, &count); err != nil {
			return nil, err
		}

		results = append(results, map[string]interface{}{
			"path":  path,
			"count": count,
		})
	}

	return results, nil
}

// Returns the users rejected most often
func (r *DecisionLogRepository) GetTopRejectedUsers(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	var results []map[string]interface{}

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Select("user_id, COUNT(*) as count").
		Where("outcome <> ? AND timestamp BETWEEN ? AND ?", "admit", from, to).
		Group("user_id").
		Order("count DESC").
		Limit(limit).
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var userID uuid.UUID
		var count int64

		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}

		results = append(results, map[string]interface{}{
			"user_id": userID,
			"count":   count,
		})
	}

	return results, nil
}

// Returns logged decisions grouped by hour and outcome
func (r *DecisionLogRepository) GetHourlyOutcomes(ctx context.Context, from, to time.Time) ([]map[string]interface{}, error) {
	var results []map[string]interface{}

	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.DecisionLog{}).
		Select("DATE_TRUNC('hour', timestamp) as hour, outcome, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("hour, outcome").
		Order("hour ASC").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hour time.Time
		var outcome string
		var count int64
		if err := rows.Scan(&hour, &outcome, &count); err != nil {
			return nil, err
		}
		results = append(results, map[string]interface{}{
			"hour":    hour,
			"outcome": outcome,
			"count":   count,
		})
	}

	return results, nil
}

// Deletes logs older than the specified time
func (r *DecisionLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.DecisionLog{})

	return result.RowsAffected, result.Error
}
