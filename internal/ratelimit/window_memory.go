package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// MemoryWindow is a lock-free, per-process sliding-window counter. Each key
// owns an atomic pointer to an immutable state; admissions are a
// read-compute-CompareAndSwap loop, so unrelated keys never contend.
type MemoryWindow struct {
	entries sync.Map // string -> *windowEntry
	clock   clock.PassiveClock
}

type windowEntry struct {
	state atomic.Pointer[windowState]
}

// retired marks an entry removed by Sweep; writers that observe it start over
var retired = &windowState{}

func NewMemoryWindow(clk clock.PassiveClock) *MemoryWindow {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryWindow{clock: clk}
}

func (m *MemoryWindow) TryAdmit(ctx context.Context, key string, window time.Duration, limit int) (WindowResult, error) {
	if window <= 0 {
		return WindowResult{}, ErrInvalidWindow
	}
	if limit <= 0 {
		return rejectEmpty(m.clock.Now(), window, limit), nil
	}

	for {
		entry := m.entry(key)

		for {
			old := entry.state.Load()
			if old == retired {
				m.entries.CompareAndDelete(key, entry)
				break
			}

			next, result := slide(old, m.clock.Now(), window, limit)
			if next == nil {
				return result, nil
			}
			if entry.state.CompareAndSwap(old, next) {
				return result, nil
			}
		}
	}
}

func (m *MemoryWindow) entry(key string) *windowEntry {
	if v, ok := m.entries.Load(key); ok {
		return v.(*windowEntry)
	}
	v, _ := m.entries.LoadOrStore(key, &windowEntry{})
	return v.(*windowEntry)
}

// Sweep drops keys idle for more than two windows. Their counts no longer
// influence any decision.
func (m *MemoryWindow) Sweep() int {
	now := m.clock.Now()
	removed := 0

	m.entries.Range(func(k, v any) bool {
		entry := v.(*windowEntry)
		old := entry.state.Load()
		if old == nil || old == retired {
			return true
		}
		if now.Sub(old.start) < 2*old.window {
			return true
		}
		if entry.state.CompareAndSwap(old, retired) {
			m.entries.CompareAndDelete(k, entry)
			removed++
		}
		return true
	})

	return removed
}

// StartJanitor sweeps on every tick until ctx is done
func (m *MemoryWindow) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Len returns the number of tracked keys
func (m *MemoryWindow) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
