package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errInsertRace means another writer created the row first; the update is
// retried and then finds and locks that row.
var errInsertRace = errors.New("quota row created concurrently")

const (
	maxInsertRetries = 3

	// SQLSTATE lock_not_available, raised when lock_timeout expires
	lockNotAvailable = "55P03"

	defaultLockTimeout = 10 * time.Millisecond
	maxLockBackoff     = 20 * time.Millisecond
)

// PostgresStore serializes updates per user with a row lock held for the
// duration of one transaction. Different users never wait on each other.
// A lock wait is bounded by lockTimeout and retried until the caller's
// deadline; a user whose row stays locked gets ErrContended.
type PostgresStore struct {
	db          *storage.Postgres
	lockTimeout time.Duration
}

func NewPostgresStore(db *storage.Postgres, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout < time.Millisecond {
		lockTimeout = defaultLockTimeout
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (p *PostgresStore) Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (models.UserQuotaState, error) {
	var out models.UserQuotaState
	var err error

	inserts := 0
	backoff := time.Millisecond
	for {
		out, err = p.update(ctx, userID, fn)

		if errors.Is(err, errInsertRace) {
			inserts++
			if inserts < maxInsertRetries {
				continue
			}
			break
		}

		if !isLockTimeout(err) {
			break
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return models.UserQuotaState{}, storage.Contended("quota", fmt.Errorf("row for %s stayed locked: %w", userID, err))
		case <-t.C:
		}
		backoff = min(2*backoff, maxLockBackoff)
	}

	if err != nil {
		return models.UserQuotaState{}, fmt.Errorf("failed to update quota for %s: %w", userID, err)
	}
	return out, nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}

// Ping checks the database itself, independent of any row lock
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *PostgresStore) update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (models.UserQuotaState, error) {
	var out models.UserQuotaState

	err := p.db.Transaction(ctx, func(tx *gorm.DB) error {
		var current models.UserQuotaState
		exists := true

		// SET does not take bind parameters; the value is an integer
		lockMillis := p.lockTimeout.Milliseconds()
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockMillis)).Error; err != nil {
			return err
		}

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
			current = models.UserQuotaState{}
		} else if err != nil {
			return err
		}

		next, write := fn(current, exists)
		if !write {
			out = current
			return nil
		}

		next.UserID = userID
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()

		if !exists {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&next)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errInsertRace
			}
			out = next
			return nil
		}

		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		out = next
		return nil
	})

	return out, err
}

func (p *PostgresStore) Get(ctx context.Context, userID uuid.UUID) (*models.UserQuotaState, error) {
	var st models.UserQuotaState
	err := p.db.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&st).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &st, nil
}
