package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidWindow = errors.New("rate limit window must be positive")

// WindowCounter counts admitted requests per key over a rolling window.
// TryAdmit must check and increment as one atomic step.
type WindowCounter interface {
	TryAdmit(ctx context.Context, key string, window time.Duration, limit int) (WindowResult, error)
}

type WindowResult struct {
	Admitted bool
	Limit    int
	// Requests still admissible right now, after this one
	Remaining int
	// Earliest wait after which a retry can be admitted; zero when admitted
	RetryAfter time.Duration
	// End of the current window
	ResetAt time.Time
	// Set when the store was unavailable and the failure policy admitted the request
	FailedOpen bool
}

// WindowKey builds the counter key for a (user, rule) pair
func WindowKey(userID string, rule MatchedRule) string {
	return userID + ":" + rule.TierID.String() + ":" + rule.Key()
}

// rejectEmpty answers a non-positive limit without touching any state
func rejectEmpty(now time.Time, window time.Duration, limit int) WindowResult {
	return WindowResult{
		Admitted:   false,
		Limit:      limit,
		RetryAfter: window,
		ResetAt:    now.Add(window),
	}
}
