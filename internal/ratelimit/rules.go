package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/google/uuid"
)

// DefaultRuleKey is the window key used for a tier's synthesized default rule
const DefaultRuleKey = "tier-default"

// ErrMissingRule reports that no configured rule matched and the tier default
// was synthesized. It is logged, never returned to callers.
var ErrMissingRule = errors.New("no rate limit rule matched")

// MatchedRule is the single rule that governs a request
type MatchedRule struct {
	ID                   uuid.UUID // uuid.Nil when synthesized
	TierID               uuid.UUID
	Pattern              string
	Method               string
	Limit                int
	Window               time.Duration
	IsCritical           bool
	ExemptSystemAccounts bool
	IsAdaptive           bool
	ReductionPercent     int
	Synthesized          bool
}

// Key identifies the rule inside a window counter key
func (m MatchedRule) Key() string {
	if m.Synthesized {
		return DefaultRuleKey
	}
	return m.ID.String()
}

type segmentKind int

const (
	segLiteral segmentKind = iota
	segAny                 // "*": exactly one segment
	segRest                // "**": zero or more trailing segments
)

type segment struct {
	kind  segmentKind
	value string
}

type compiledRule struct {
	rule        models.RateLimitRule
	segments    []segment
	method      string // upper-cased, "*" for any
	literalLen  int
	literalSegs int
}

// RuleSet is an immutable, pre-sorted snapshot of tiers and their rules.
// Safe for concurrent use.
type RuleSet struct {
	tiers            map[uuid.UUID]models.SubscriptionTier
	rules            map[uuid.UUID][]compiledRule
	defaultReduction int
	loadedAt         time.Time
}

// NewRuleSet compiles rules into per-tier lists ordered so that the first
// match is the most specific one. Inactive rules are dropped. Invalid rules
// are skipped and reported in the returned error; the set is usable anyway.
func NewRuleSet(tiers []models.SubscriptionTier, rules []models.RateLimitRule, defaultReduction int) (*RuleSet, error) {
	set := &RuleSet{
		tiers:            make(map[uuid.UUID]models.SubscriptionTier, len(tiers)),
		rules:            make(map[uuid.UUID][]compiledRule),
		defaultReduction: defaultReduction,
		loadedAt:         time.Now(),
	}

	for _, tier := range tiers {
		set.tiers[tier.ID] = tier
	}

	var errs []error
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}

		compiled, err := compileRule(rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}

		set.rules[rule.SubscriptionTierID] = append(set.rules[rule.SubscriptionTierID], compiled)
	}

	for tierID := range set.rules {
		sortRules(set.rules[tierID])
	}

	return set, errors.Join(errs...)
}

// EmptyRuleSet returns a set without tiers or rules
func EmptyRuleSet() *RuleSet {
	set, _ := NewRuleSet(nil, nil, 0)
	return set
}

func compileRule(rule models.RateLimitRule) (compiledRule, error) {
	if rule.TimeWindowSeconds <= 0 {
		return compiledRule{}, errors.New("time window must be positive")
	}
	if rule.HighLoadReductionPercent < 0 || rule.HighLoadReductionPercent > 100 {
		return compiledRule{}, errors.New("high load reduction percent must be within 0..100")
	}

	segments, err := parsePattern(rule.EndpointPattern)
	if err != nil {
		return compiledRule{}, err
	}

	c := compiledRule{
		rule:     rule,
		segments: segments,
		method:   normalizeMethod(rule.HTTPMethod),
	}
	for _, seg := range segments {
		if seg.kind == segLiteral {
			c.literalLen += len(seg.value)
			c.literalSegs++
		}
	}

	return c, nil
}

func parsePattern(pattern string) ([]segment, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errors.New("empty endpoint pattern")
	}

	parts := splitPath(pattern)
	segments := make([]segment, 0, len(parts))
	for i, part := range parts {
		switch part {
		case "*":
			segments = append(segments, segment{kind: segAny})
		case "**":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("pattern %q: ** is only allowed as the last segment", pattern)
			}
			segments = append(segments, segment{kind: segRest})
		default:
			segments = append(segments, segment{kind: segLiteral, value: part})
		}
	}

	return segments, nil
}

// splitPath splits on "/" and drops empty segments, so "/a//b/" is ["a", "b"]
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return "*"
	}
	return method
}

func sortRules(rules []compiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.rule.MatchPriority != b.rule.MatchPriority {
			return a.rule.MatchPriority < b.rule.MatchPriority
		}
		if a.literalLen != b.literalLen {
			return a.literalLen > b.literalLen
		}
		if a.literalSegs != b.literalSegs {
			return a.literalSegs > b.literalSegs
		}
		if (a.method == "*") != (b.method == "*") {
			return b.method == "*"
		}
		return a.rule.ID.String() < b.rule.ID.String()
	})
}

func (c compiledRule) matches(parts []string, method string) bool {
	if c.method != "*" && c.method != method {
		return false
	}

	for i, seg := range c.segments {
		if seg.kind == segRest {
			return true
		}
		if i >= len(parts) {
			return false
		}
		if seg.kind == segLiteral && seg.value != parts[i] {
			return false
		}
	}

	return len(c.segments) == len(parts)
}

// Match selects the rule governing (tier, path, method). When no rule
// matches, a rule is synthesized from the tier's defaults so that an
// unmatched endpoint is never unthrottled.
func (s *RuleSet) Match(tier models.SubscriptionTier, path, method string) MatchedRule {
	parts := splitPath(path)
	method = normalizeMethod(method)

	for _, c := range s.rules[tier.ID] {
		if c.matches(parts, method) {
			return MatchedRule{
				ID:                   c.rule.ID,
				TierID:               tier.ID,
				Pattern:              c.rule.EndpointPattern,
				Method:               c.method,
				Limit:                c.rule.RateLimit,
				Window:               c.rule.Window(),
				IsCritical:           c.rule.IsCriticalEndpoint,
				ExemptSystemAccounts: c.rule.ExemptSystemAccounts,
				IsAdaptive:           c.rule.IsAdaptive,
				ReductionPercent:     c.rule.HighLoadReductionPercent,
			}
		}
	}

	return s.defaultRule(tier)
}

func (s *RuleSet) defaultRule(tier models.SubscriptionTier) MatchedRule {
	window := tier.DefaultWindow()
	if window <= 0 {
		window = time.Minute
	}

	return MatchedRule{
		TierID:           tier.ID,
		Pattern:          "/**",
		Method:           "*",
		Limit:            tier.DefaultRateLimit,
		Window:           window,
		IsAdaptive:       s.defaultReduction > 0,
		ReductionPercent: s.defaultReduction,
		Synthesized:      true,
	}
}

// Tier looks up a tier by id in the snapshot
func (s *RuleSet) Tier(id uuid.UUID) (models.SubscriptionTier, bool) {
	tier, ok := s.tiers[id]
	return tier, ok
}

// Tiers returns the number of tiers in the snapshot
func (s *RuleSet) Tiers() int {
	return len(s.tiers)
}

// Rules returns the number of compiled rules in the snapshot
func (s *RuleSet) Rules() int {
	n := 0
	for _, rules := range s.rules {
		n += len(rules)
	}
	return n
}

func (s *RuleSet) LoadedAt() time.Time {
	return s.loadedAt
}
