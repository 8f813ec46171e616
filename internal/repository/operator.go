package repository

import (
	"context"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"gorm.io/gorm"
)

type OperatorRepository struct {
	db *storage.Postgres
}

func NewOperatorRepository(db *storage.Postgres) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Inserts a new operator
func (r *OperatorRepository) Create(ctx context.Context, op *models.Operator) error {
	return r.db.DB.WithContext(ctx).Create(op).Error
}

// Retrieves an operator by email
func (r *OperatorRepository) FindByEmail(ctx context.Context, email string) (*models.Operator, error) {
	var op models.Operator
	err := r.db.DB.WithContext(ctx).
		Where("email = ?", email).
		First(&op).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &op, err
}

// Retrieves an operator by id
func (r *OperatorRepository) FindByID(ctx context.Context, id string) (*models.Operator, error) {
	var op models.Operator
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&op).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &op, err
}

func (r *OperatorRepository) List(ctx context.Context) ([]models.Operator, error) {
	var ops []models.Operator
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&ops).Error

	return ops, err
}
