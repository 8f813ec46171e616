// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "decisions_total",
		Help:      "Admission decisions by outcome and reason.",
	}, []string{"outcome", "reason"})

	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tiergate",
		Name:      "decision_duration_seconds",
		Help:      "Time spent computing an admission decision.",
		Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	SynthesizedRules = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "rule_synthesized_total",
		Help:      "Requests governed by a tier default because no rule matched.",
	})

	RuleRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "rule_refresh_total",
		Help:      "Rule snapshot reloads by result.",
	}, []string{"result"})

	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "store_failures_total",
		Help:      "Backing store failures resolved by the failure policy.",
	}, []string{"store", "policy"})

	KeyContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "key_contention_total",
		Help:      "Store calls rejected because one key's lock stayed busy.",
	}, []string{"store"})

	QuotaResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "quota_resets_total",
		Help:      "Daily quota resets performed.",
	})

	QuotaWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "quota_warnings_total",
		Help:      "Quota warning thresholds crossed.",
	})

	LoadLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Name:      "load_level",
		Help:      "Current load level: 0 normal, 1 elevated, 2 critical.",
	})

	LoadLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Name:      "load_latency_ewma_seconds",
		Help:      "Smoothed upstream latency used for load classification.",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Name:      "in_flight_requests",
		Help:      "Requests currently being served upstream.",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"name"})

	DecisionLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Name:      "decision_log_dropped_total",
		Help:      "Audit entries dropped because the buffer was full.",
	})
)
