package ratelimit

import (
	"math"
	"time"
)

// Tolerance for float rounding when comparing weighted counts to a limit
const epsilon = 1e-9

// windowState is one sliding-window counter. Values are immutable once published.
type windowState struct {
	start    time.Time
	current  int
	previous int
	window   time.Duration
}

// advance moves the window start forward by whole windows so that now falls
// inside [start, start+window). Returns the elapsed time inside the window.
func (s windowState) advance(now time.Time) (windowState, time.Duration) {
	elapsed := now.Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}

	if elapsed >= s.window {
		n := elapsed / s.window
		if n == 1 {
			s.previous = s.current
		} else {
			s.previous = 0
		}
		s.current = 0
		s.start = s.start.Add(n * s.window)
		elapsed -= n * s.window
	}

	return s, elapsed
}

func (s windowState) weighted(elapsed time.Duration) float64 {
	overlap := 1 - float64(elapsed)/float64(s.window)
	return float64(s.previous)*overlap + float64(s.current)
}

// slide computes the next state for one admission attempt. When rejected the
// returned state is nil: the caller stores nothing.
func slide(prev *windowState, now time.Time, window time.Duration, limit int) (*windowState, WindowResult) {
	var st windowState
	if prev == nil || prev.window != window {
		st = windowState{start: now, window: window}
	} else {
		st = *prev
	}

	st, elapsed := st.advance(now)
	weighted := st.weighted(elapsed)
	resetAt := st.start.Add(window)

	if weighted+1 > float64(limit)+epsilon {
		return nil, WindowResult{
			Admitted:   false,
			Limit:      limit,
			RetryAfter: retryAfter(st, elapsed, limit),
			ResetAt:    resetAt,
		}
	}

	st.current++
	return &st, WindowResult{
		Admitted:  true,
		Limit:     limit,
		Remaining: remaining(limit, weighted+1),
		ResetAt:   resetAt,
	}
}

func remaining(limit int, used float64) int {
	r := int(math.Floor(float64(limit) - used))
	if r < 0 {
		return 0
	}
	return r
}

// retryAfter is the earliest wait after which weighted+1 <= limit holds again,
// assuming nothing else is admitted meanwhile
func retryAfter(st windowState, elapsed time.Duration, limit int) time.Duration {
	room := float64(limit - 1 - st.current)

	if room >= 0 && st.previous > 0 {
		// The previous window's weight decays linearly across this window
		at := fraction(1-room/float64(st.previous), st.window)
		if at > elapsed {
			return roundUp(at - elapsed)
		}
		return time.Millisecond
	}

	// This window is full: wait for it to become the previous one and decay
	wait := st.window - elapsed
	if st.current > 0 {
		if need := 1 - float64(limit-1)/float64(st.current); need > 0 {
			wait += fraction(need, st.window)
		}
	}
	return roundUp(wait)
}

func fraction(f float64, window time.Duration) time.Duration {
	return time.Duration(math.Ceil(f * float64(window)))
}

func roundUp(d time.Duration) time.Duration {
	if r := d % time.Millisecond; r != 0 {
		d += time.Millisecond - r
	}
	return d
}
