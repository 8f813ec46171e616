package ratelimit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyLimiterCapsInFlight(t *testing.T) {
	c := NewConcurrencyLimiter()
	user := uuid.New()

	r1, ok := c.TryAcquire(user, 2)
	require.True(t, ok)
	r2, ok := c.TryAcquire(user, 2)
	require.True(t, ok)

	_, ok = c.TryAcquire(user, 2)
	assert.False(t, ok)

	_, ok = c.TryAcquire(uuid.New(), 2)
	assert.True(t, ok, "other users have their own slots")

	r1()
	r1()
	r3, ok := c.TryAcquire(user, 2)
	require.True(t, ok)

	_, ok = c.TryAcquire(user, 2)
	assert.False(t, ok, "double release must not free an extra slot")

	r2()
	r3()
}

func TestConcurrencyLimiterUnlimited(t *testing.T) {
	c := NewConcurrencyLimiter()
	user := uuid.New()

	for i := 0; i < 100; i++ {
		_, ok := c.TryAcquire(user, 0)
		require.True(t, ok)
	}
}

func TestConcurrencyLimiterCapChange(t *testing.T) {
	c := NewConcurrencyLimiter()
	user := uuid.New()

	old, ok := c.TryAcquire(user, 1)
	require.True(t, ok)

	_, ok = c.TryAcquire(user, 1)
	require.False(t, ok)

	r, ok := c.TryAcquire(user, 3)
	assert.True(t, ok)

	old()
	r()
}
