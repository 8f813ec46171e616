// Package quota tracks per-user daily API call counters.
package quota

import (
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/google/uuid"
)

// transition is what one consume did to a user's state
type transition struct {
	allowed bool
	exempt  bool
	reset   bool
	warning bool
}

// StartOfDay returns midnight of t's calendar day in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// NextReset is the instant the next daily reset becomes due
func NextReset(now time.Time, loc *time.Location) time.Time {
	return StartOfDay(now, loc).AddDate(0, 0, 1)
}

func newState(userID uuid.UUID, tier models.SubscriptionTier, now time.Time, loc *time.Location, threshold int) models.UserQuotaState {
	return models.UserQuotaState{
		UserID:                       userID,
		SubscriptionTierID:           tier.ID,
		MaxDailyAPICalls:             tier.DailyAPIQuota,
		LastResetTime:                StartOfDay(now, loc),
		QuotaWarningThresholdPercent: threshold,
	}
}

// rollover resets the counters when now falls on a later calendar day than
// the last reset. Reports whether it did.
func rollover(st *models.UserQuotaState, now time.Time, loc *time.Location) bool {
	today := StartOfDay(now, loc)
	if !today.After(StartOfDay(st.LastResetTime, loc)) {
		return false
	}

	st.APICallsUsedToday = 0
	st.HasReceivedQuotaWarning = false
	st.LastResetTime = today
	return true
}

// consume applies one API call to st. The returned bool says whether the
// state must be written back. A rejected call never moves the counter; it only
// persists a rollover or tier change.
func consume(st models.UserQuotaState, tier models.SubscriptionTier, now time.Time, loc *time.Location, threshold int) (models.UserQuotaState, bool, transition) {
	if st.IsExemptFromQuota {
		return st, false, transition{allowed: true, exempt: true}
	}

	var tr transition
	dirty := false

	// The tier is authoritative: a reassigned user or an edited tier takes
	// effect on the next call
	if st.SubscriptionTierID != tier.ID || st.MaxDailyAPICalls != tier.DailyAPIQuota {
		st.SubscriptionTierID = tier.ID
		st.MaxDailyAPICalls = tier.DailyAPIQuota
		dirty = true
	}
	if st.QuotaWarningThresholdPercent <= 0 {
		st.QuotaWarningThresholdPercent = threshold
	}

	if rollover(&st, now, loc) {
		tr.reset = true
		dirty = true
	}

	if st.APICallsUsedToday+1 > st.MaxDailyAPICalls {
		return st, dirty, tr
	}

	st.APICallsUsedToday++
	tr.allowed = true

	if !st.HasReceivedQuotaWarning &&
		st.APICallsUsedToday*100 > st.QuotaWarningThresholdPercent*st.MaxDailyAPICalls {
		st.HasReceivedQuotaWarning = true
		tr.warning = true
	}

	return st, true, tr
}
