package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps quota states in process. Each user owns an atomic
// pointer; updates are read-compute-CompareAndSwap loops.
type MemoryStore struct {
	states sync.Map // uuid.UUID -> *atomic.Pointer[models.UserQuotaState]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) slot(userID uuid.UUID) *atomic.Pointer[models.UserQuotaState] {
	if v, ok := m.states.Load(userID); ok {
		return v.(*atomic.Pointer[models.UserQuotaState])
	}
	v, _ := m.states.LoadOrStore(userID, &atomic.Pointer[models.UserQuotaState]{})
	return v.(*atomic.Pointer[models.UserQuotaState])
}

func (m *MemoryStore) Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (models.UserQuotaState, error) {
	slot := m.slot(userID)

	for {
		old := slot.Load()

		var current models.UserQuotaState
		if old != nil {
			current = *old
		}

		next, write := fn(current, old != nil)
		if !write {
			return current, nil
		}

		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()
		if slot.CompareAndSwap(old, &next) {
			return next, nil
		}
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID uuid.UUID) (*models.UserQuotaState, error) {
	v, ok := m.states.Load(userID)
	if !ok {
		return nil, nil
	}

	st := v.(*atomic.Pointer[models.UserQuotaState]).Load()
	if st == nil {
		return nil, nil
	}
	out := *st
	return &out, nil
}

// Ping always succeeds; the store lives in process
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
