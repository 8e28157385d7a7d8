// Package policy resolves a question into a concrete admission policy:
// which format is locked, which metrics a post must carry, and the
// dual-gate thresholds a candidate must clear.
package policy

import (
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/textnorm"
)

// Baseline sources recorded in Thresholds.BaselineSource.
const (
	SourceGlobal = "global"
	SourceNone   = "none"
)

// Thresholds are the dual-gate cutoffs derived from baselines and followers.
type Thresholds struct {
	MinAbsoluteInteractions   float64  `json:"min_absolute_interactions"`
	MinRelativeInteractions   float64  `json:"min_relative_interactions"`
	EffectiveInteractions     float64  `json:"effective_interactions"`
	MinRelativeEngagementRate *float64 `json:"min_relative_engagement_rate"`
	EffectiveEngagementRate   *float64 `json:"effective_engagement_rate"`
	BaselineInteractions      float64  `json:"baseline_interactions"`
	BaselineEngagementRate    *float64 `json:"baseline_engagement_rate"`
	BaselineSource            string   `json:"baseline_source"`
	StrictMode                bool     `json:"strict_mode"`
}

// Policy is the fully resolved decision policy for one request.
type Policy struct {
	Intent                 Intent     `json:"intent"`
	RequiresHighEngagement bool       `json:"requires_high_engagement"`
	MaxPosts               int        `json:"max_posts"`
	WindowDays             int        `json:"window_days"`
	FormatLock             string     `json:"format_lock,omitempty"`
	RequiredMetrics        []Metric   `json:"required_metrics,omitempty"`
	Thresholds             Thresholds `json:"thresholds"`
	Warnings               []string   `json:"warnings,omitempty"`
}

// WithFormatLock returns a copy of p locked to format.
func (p Policy) WithFormatLock(format string) Policy {
	p.RequiredMetrics = slices.Clone(p.RequiredMetrics)
	p.Warnings = slices.Clone(p.Warnings)
	p.FormatLock = format
	return p
}

// WithMetricRequirement returns a copy of p that additionally requires m.
func (p Policy) WithMetricRequirement(m Metric) Policy {
	p.Warnings = slices.Clone(p.Warnings)
	p.RequiredMetrics = sortMetrics(append(slices.Clone(p.RequiredMetrics), m))
	return p
}

// WithThresholds returns a copy of p using t.
func (p Policy) WithThresholds(t Thresholds) Policy {
	p.RequiredMetrics = slices.Clone(p.RequiredMetrics)
	p.Warnings = slices.Clone(p.Warnings)
	p.Thresholds = t
	return p
}

// Requires reports whether m is among the required metrics.
func (p Policy) Requires(m Metric) bool {
	return slices.Contains(p.RequiredMetrics, m)
}

// Options tune the resolver. Zero values fall back to DefaultOptions.
type Options struct {
	RelativeInteractionsMultiplier float64
	RelativeERMultiplier           float64
	StrictMode                     bool
	DefaultWindowDays              int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		RelativeInteractionsMultiplier: 1.25,
		RelativeERMultiplier:           1.15,
		StrictMode:                     true,
		DefaultWindowDays:              90,
	}
}

// ResolveInput carries everything Resolve needs.
type ResolveInput struct {
	Intent    Intent
	Query     string
	Baselines *model.UserBaselines
	Followers *int
}

// Resolver builds policies. It holds no per-request state.
type Resolver struct {
	opts   Options
	logger logrus.FieldLogger
}

// NewResolver creates a resolver.
func NewResolver(opts Options, logger logrus.FieldLogger) *Resolver {
	def := DefaultOptions()
	if opts.RelativeInteractionsMultiplier <= 0 {
		opts.RelativeInteractionsMultiplier = def.RelativeInteractionsMultiplier
	}
	if opts.RelativeERMultiplier <= 0 {
		opts.RelativeERMultiplier = def.RelativeERMultiplier
	}
	if opts.DefaultWindowDays <= 0 {
		opts.DefaultWindowDays = def.DefaultWindowDays
	}
	return &Resolver{opts: opts, logger: logger}
}

// WindowFor returns the lookback window used for an intent.
func (r *Resolver) WindowFor(i Intent) int {
	switch i {
	case IntentWhyMyContentFlopped:
		return 30
	case IntentUnderperformanceDiagnosis:
		return 60
	case IntentGenericQnA, IntentTopPerformanceInspirations, IntentTopReach, IntentTopSaves,
		IntentBestFormatsForUser, IntentContentIdeasForGoal, IntentGrowthPlan,
		IntentCommunityExamples, IntentPricingSuggestion:
		return r.opts.DefaultWindowDays
	}
	return r.opts.DefaultWindowDays
}

// Resolve computes the policy for one question. It is deterministic.
func (r *Resolver) Resolve(in ResolveInput) Policy {
	p := Policy{
		Intent:     in.Intent,
		MaxPosts:   maxPostsFor(in.Intent),
		WindowDays: r.WindowFor(in.Intent),
	}

	if f := DetectFormatLock(in.Query); f != "" {
		p = p.WithFormatLock(f)
	}
	metrics, high := DetectRequiredMetrics(in.Intent, in.Query)
	p.RequiredMetrics = metrics
	p.RequiresHighEngagement = high

	t, warn := r.thresholds(in.Baselines, in.Followers, p.FormatLock)
	if warn != "" {
		r.logger.WithFields(logrus.Fields{
			"intent":    in.Intent.String(),
			"threshold": t.EffectiveInteractions,
		}).Warn(warn)
		p.Warnings = append(p.Warnings, warn)
	}
	return p.WithThresholds(t)
}

func (r *Resolver) thresholds(b *model.UserBaselines, followers *int, formatLock string) (Thresholds, string) {
	t := Thresholds{
		MinAbsoluteInteractions: MinAbsoluteByFollowers(followers),
		StrictMode:              r.opts.StrictMode,
	}

	if !b.HasData() {
		t.BaselineSource = SourceNone
		t.EffectiveInteractions = t.MinAbsoluteInteractions
		return t, "no baseline history in window; applying absolute interaction floor only"
	}

	t.BaselineSource = SourceGlobal
	t.BaselineInteractions = b.MedianInteractions
	baseER := b.MedianEngagementRate
	if formatLock != "" {
		if fb, ok := b.PerFormat[formatLock]; ok && fb.SampleSize > 0 {
			t.BaselineSource = "format:" + formatLock
			t.BaselineInteractions = fb.MedianInteractions
			if fb.MedianEngagementRate > 0 {
				baseER = fb.MedianEngagementRate
			}
		}
	}

	t.MinRelativeInteractions = math.Round(t.BaselineInteractions * r.opts.RelativeInteractionsMultiplier)
	t.EffectiveInteractions = math.Max(t.MinRelativeInteractions, t.MinAbsoluteInteractions)

	if baseER > 0 {
		er := baseER
		minER := er * r.opts.RelativeERMultiplier
		effER := minER
		t.BaselineEngagementRate = &er
		t.MinRelativeEngagementRate = &minER
		t.EffectiveEngagementRate = &effER
	}
	return t, ""
}

// MinAbsoluteByFollowers is the absolute interaction floor for an account
// size. Unknown follower counts get the smallest tier.
func MinAbsoluteByFollowers(followers *int) float64 {
	if followers == nil {
		return 30
	}
	switch n := *followers; {
	case n < 10_000:
		return 30
	case n < 50_000:
		return 80
	case n < 200_000:
		return 200
	default:
		return 500
	}
}

func maxPostsFor(i Intent) int {
	switch i {
	case IntentTopPerformanceInspirations, IntentTopReach, IntentTopSaves,
		IntentContentIdeasForGoal, IntentCommunityExamples:
		return 5
	case IntentUnderperformanceDiagnosis, IntentBestFormatsForUser, IntentWhyMyContentFlopped:
		return 8
	case IntentGrowthPlan:
		return 6
	case IntentPricingSuggestion, IntentGenericQnA:
		return 3
	}
	return 3
}

var formatKeywords = map[string]string{
	"reel":       "reel",
	"reels":      "reel",
	"carrossel":  "carrossel",
	"carrosseis": "carrossel",
	"carousel":   "carrossel",
	"carousels":  "carrossel",
	"foto":       "foto",
	"fotos":      "foto",
	"photo":      "foto",
	"photos":     "foto",
	"imagem":     "foto",
	"imagens":    "foto",
}

// DetectFormatLock returns the canonical format named in query, or "".
// The first format mentioned wins.
func DetectFormatLock(query string) string {
	for _, tok := range textnorm.Tokens(query) {
		if f, ok := formatKeywords[tok]; ok {
			return f
		}
	}
	return ""
}

var metricKeywords = map[string]Metric{
	"alcance":           MetricReach,
	"alcancaram":        MetricReach,
	"reach":             MetricReach,
	"salvamentos":       MetricSaves,
	"salvos":            MetricSaves,
	"salvaram":          MetricSaves,
	"saves":             MetricSaves,
	"compartilhamentos": MetricShares,
	"compartilhados":    MetricShares,
	"compartilharam":    MetricShares,
	"shares":            MetricShares,
	"envios":            MetricShares,
}

var highEngagementPhrases = []string{
	"engajamento alto",
	"alto engajamento",
	"mais engajamento",
	"maior engajamento",
	"mais engajados",
	"mais engajado",
	"high engagement",
	"most engaging",
	"viralizaram",
	"bombaram",
	"viral",
	"virais",
}

// DetectRequiredMetrics returns the metrics a qualifying post must carry
// and whether the question asks for high engagement.
func DetectRequiredMetrics(i Intent, query string) ([]Metric, bool) {
	var out []Metric
	for _, tok := range textnorm.Tokens(query) {
		if m, ok := metricKeywords[tok]; ok {
			out = append(out, m)
		}
	}

	high := textnorm.ContainsAny(query, highEngagementPhrases)
	switch i {
	case IntentTopReach:
		out = append(out, MetricReach, MetricShares)
	case IntentTopSaves:
		out = append(out, MetricSaves, MetricShares)
	case IntentTopPerformanceInspirations:
		high = true
	case IntentGenericQnA, IntentUnderperformanceDiagnosis, IntentBestFormatsForUser,
		IntentContentIdeasForGoal, IntentWhyMyContentFlopped, IntentGrowthPlan,
		IntentCommunityExamples, IntentPricingSuggestion:
	}
	if high {
		out = append(out, MetricInteractions, MetricEngagementRate)
	}
	return sortMetrics(out), high
}

func sortMetrics(ms []Metric) []Metric {
	if len(ms) == 0 {
		return nil
	}
	var out []Metric
	for _, m := range metricOrder {
		if slices.Contains(ms, m) {
			out = append(out, m)
		}
	}
	return out
}

// Describe renders the thresholds for logs and fallback text.
func (t Thresholds) Describe() string {
	s := fmt.Sprintf("interactions >= %.0f", t.EffectiveInteractions)
	if t.EffectiveEngagementRate != nil {
		s += fmt.Sprintf(", engagement_rate >= %.2f%%", *t.EffectiveEngagementRate*100)
	}
	return s
}
