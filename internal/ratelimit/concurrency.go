package ratelimit

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter caps the number of in-flight requests per user
type ConcurrencyLimiter struct {
	slots sync.Map // uuid.UUID -> *userSlots
}

type userSlots struct {
	sem  *semaphore.Weighted
	size int
}

func NewConcurrencyLimiter() *ConcurrencyLimiter {
	return &ConcurrencyLimiter{}
}

// TryAcquire takes one slot for userID without blocking. max <= 0 means
// unlimited. The returned release is safe to call more than once.
func (c *ConcurrencyLimiter) TryAcquire(userID uuid.UUID, max int) (func(), bool) {
	if max <= 0 {
		return func() {}, true
	}

	slots := c.slotsFor(userID, max)
	if !slots.sem.TryAcquire(1) {
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { slots.sem.Release(1) })
	}, true
}

// slotsFor replaces the semaphore when the tier's cap changed. Holders of the
// old one release into it, so the new cap applies to new requests only.
func (c *ConcurrencyLimiter) slotsFor(userID uuid.UUID, max int) *userSlots {
	for {
		v, ok := c.slots.Load(userID)
		if !ok {
			fresh := &userSlots{sem: semaphore.NewWeighted(int64(max)), size: max}
			actual, loaded := c.slots.LoadOrStore(userID, fresh)
			if !loaded {
				return fresh
			}
			v = actual
		}

		current := v.(*userSlots)
		if current.size == max {
			return current
		}

		fresh := &userSlots{sem: semaphore.NewWeighted(int64(max)), size: max}
		if c.slots.CompareAndSwap(userID, current, fresh) {
			return fresh
		}
	}
}
