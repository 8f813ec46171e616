package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/loadmonitor"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrRateLimited   = errors.New("rate limited")
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// ErrBackingStoreUnavailable is storage.ErrUnavailable, re-exported for callers of the gate
	ErrBackingStoreUnavailable = storage.ErrUnavailable
)

type Outcome int

const (
	Admit Outcome = iota
	RateLimited
	QuotaExceeded
)

func (o Outcome) String() string {
	switch o {
	case Admit:
		return "admit"
	case RateLimited:
		return "rate_limited"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Reasons reported on decisions
const (
	ReasonAllowed          = "allowed"
	ReasonBypass           = "bypass"
	ReasonWindow           = "window"
	ReasonConcurrency      = "concurrency"
	ReasonQuota            = "quota"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonContention       = "contention"
)

// Decision is the terminal result of one admission attempt
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`

	// Window figures, for the effective limit
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"-"`
	ResetAt    time.Time     `json:"reset_at"`

	QuotaLimit     int       `json:"quota_limit"`
	QuotaRemaining int       `json:"quota_remaining"`
	QuotaResetAt   time.Time `json:"quota_reset_at"`
	QuotaWarning   bool      `json:"quota_warning,omitempty"`
	QuotaExempt    bool      `json:"quota_exempt,omitempty"`

	RuleID      uuid.UUID         `json:"rule_id"`
	Synthesized bool              `json:"synthesized_rule,omitempty"`
	TierID      uuid.UUID         `json:"tier_id"`
	Tier        string            `json:"tier"`
	LoadLevel   loadmonitor.Level `json:"load_level"`
	Bypassed    bool              `json:"bypassed,omitempty"`
	FailedOpen  bool              `json:"failed_open,omitempty"`

	cause   error
	release func()
}

// RetryAfterSeconds rounds the retry-after up to whole seconds, as sent in
// the Retry-After header
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

func (d Decision) Admitted() bool {
	return d.Outcome == Admit
}

// Err maps a blocking decision to its sentinel; nil when admitted
func (d Decision) Err() error {
	var base error
	switch d.Outcome {
	case Admit:
		return nil
	case RateLimited:
		base = ErrRateLimited
	case QuotaExceeded:
		base = ErrQuotaExceeded
	default:
		return fmt.Errorf("unknown outcome %d", d.Outcome)
	}

	if d.cause != nil {
		return fmt.Errorf("%w: %w", base, d.cause)
	}
	return base
}

// Release frees the concurrency slot held by an admitted request. Safe to
// call more than once and on rejected decisions.
func (d Decision) Release() {
	if d.release != nil {
		d.release()
	}
}
