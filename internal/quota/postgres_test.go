package quota

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	clocktesting "k8s.io/utils/clock/testing"
)

// Needs a live database, e.g. GATE_TEST_DATABASE_DSN="host=localhost user=postgres dbname=gate_test sslmode=disable"
func testPostgres(t *testing.T) *storage.Postgres {
	t.Helper()

	dsn := os.Getenv("GATE_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("GATE_TEST_DATABASE_DSN not set")
	}

	db, err := storage.NewPostgres(dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresStoreConcurrentConsume(t *testing.T) {
	tr := NewTracker(Config{
		Store:   NewPostgresStore(testPostgres(t), 0),
		Clock:   clocktesting.NewFakeClock(morning),
		Timeout: 10 * time.Second,
		Policy:  storage.FailClosed,
		Logger:  zaptest.NewLogger(t),
	})
	tier := proTier(50)
	user := uuid.New()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.Consume(context.Background(), user, tier)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())

	st, err := tr.Status(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 50, st.APICallsUsedToday)
	assert.Greater(t, st.Version, int64(0))
}

func TestPostgresStoreLockedRowIsContended(t *testing.T) {
	db := testPostgres(t)
	store := NewPostgresStore(db, 5*time.Millisecond)
	user := uuid.New()
	other := uuid.New()

	seed := func(current models.UserQuotaState, exists bool) (models.UserQuotaState, bool) {
		current.MaxDailyAPICalls = 10
		current.LastResetTime = morning
		return current, true
	}
	_, err := store.Update(context.Background(), user, seed)
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- db.Transaction(context.Background(), func(tx *gorm.DB) error {
			var st models.UserQuotaState
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", user).First(&st).Error; err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = store.Update(ctx, user, seed)
	assert.ErrorIs(t, err, storage.ErrContended)

	_, err = store.Update(context.Background(), other, seed)
	assert.NoError(t, err, "other users do not wait on the held row")

	close(release)
	require.NoError(t, <-done)

	_, err = store.Update(context.Background(), user, seed)
	assert.NoError(t, err)
}
