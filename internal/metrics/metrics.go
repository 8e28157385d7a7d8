// Package metrics exposes Prometheus instruments for the answer pipeline.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "answerengine"

// Metrics holds every instrument. Create one per registry.
type Metrics struct {
	CandidatesRanked   *prometheus.CounterVec
	ValidationIssues   *prometheus.CounterVec
	Fallbacks          *prometheus.CounterVec
	Answers            *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	BaselineDuration   prometheus.Histogram
	GenerationDuration prometheus.Histogram
}

// New registers the instruments on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CandidatesRanked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_ranked_total",
			Help:      "Candidates seen by the ranker, by outcome (admitted, filtered)",
		}, []string{"outcome"}),
		ValidationIssues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Relevance issues reported on generated drafts, by issue type",
		}, []string{"issue"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Deterministic fallback answers, by reason",
		}, []string{"reason"}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answers produced, by intent and result (passed, failed, fallback)",
		}, []string{"intent", "result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baseline_cache_lookups_total",
			Help:      "Baseline cache lookups, by result (hit, miss, error)",
		}, []string{"result"}),
		BaselineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "baseline_compute_seconds",
			Help:      "Time spent computing baselines from the post store",
			Buckets:   prometheus.DefBuckets,
		}),
		GenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_seconds",
			Help:      "Time spent waiting on the text generator per draft",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
}

// CacheLookup records a baseline cache lookup result.
func (m *Metrics) CacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// BaselineComputed records a baseline computation.
func (m *Metrics) BaselineComputed(d time.Duration) {
	m.BaselineDuration.Observe(d.Seconds())
}

// Ranked records how many candidates were admitted and filtered.
func (m *Metrics) Ranked(admitted, filtered int) {
	m.CandidatesRanked.WithLabelValues("admitted").Add(float64(admitted))
	m.CandidatesRanked.WithLabelValues("filtered").Add(float64(filtered))
}

// Issues records validation issues by type. "missing_any:reach" counts as "missing_any".
func (m *Metrics) Issues(issues []string) {
	for _, is := range issues {
		kind, _, _ := strings.Cut(is, ":")
		m.ValidationIssues.WithLabelValues(kind).Inc()
	}
}

// Fallback records a fallback answer.
func (m *Metrics) Fallback(reason string) {
	m.Fallbacks.WithLabelValues(reason).Inc()
}

// Answer records a finished answer.
func (m *Metrics) Answer(intent, result string) {
	m.Answers.WithLabelValues(intent, result).Inc()
}

// Generated records the latency of one draft generation.
func (m *Metrics) Generated(d time.Duration) {
	m.GenerationDuration.Observe(d.Seconds())
}
