package validate

import (
	"slices"

	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/intent"
	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/policy"
	"github.com/TobiSchelling/answerengine/internal/textnorm"
)

// Evidence groups beyond the post metrics.
const (
	EvidenceDeltas  policy.Metric = "delta"
	EvidenceContext policy.Metric = "context"
)

// TokenGroup is satisfied when any of its tokens appears in the answer.
type TokenGroup struct {
	Name   string   `json:"name"`
	Tokens []string `json:"tokens"`
}

// AnswerSpec is what an answer to one question must and may contain.
type AnswerSpec struct {
	Anchor                string                      `json:"anchor"`
	RequiredSections      []string                    `json:"required_sections"`
	RequiredAnyOf         []TokenGroup                `json:"required_any_of,omitempty"`
	AllowedURLs           []string                    `json:"allowed_urls,omitempty"`
	AllowedIDs            []string                    `json:"allowed_ids,omitempty"`
	Evidence              map[policy.Metric][]float64 `json:"evidence,omitempty"`
	PersonalizationTokens []string                    `json:"personalization_tokens,omitempty"`
	EvidencePosts         int                         `json:"evidence_posts"`
}

// BuildSpec combines the parsed question with the pack. pack and profile
// may be nil; profile falls back to the pack's profile.
func BuildSpec(focus intent.Focus, pack *contextpack.ContextPack, profile *model.ProfileSignals) AnswerSpec {
	spec := AnswerSpec{
		Anchor:           focus.Anchor,
		RequiredSections: slices.Clone(DefaultSections),
		Evidence:         map[policy.Metric][]float64{},
	}

	metrics := slices.Clone(focus.Metrics)
	format := focus.Format
	if pack != nil {
		for _, m := range pack.Policy.RequiredMetrics {
			if !slices.Contains(metrics, m) {
				metrics = append(metrics, m)
			}
		}
		if format == "" {
			format = pack.Policy.FormatLock
		}
		if profile == nil {
			profile = pack.Profile
		}
	}

	for _, m := range metrics {
		if syn, ok := metricSynonyms[m]; ok {
			spec.RequiredAnyOf = append(spec.RequiredAnyOf, TokenGroup{Name: string(m), Tokens: syn})
		}
	}
	if format != "" {
		tokens, ok := formatSynonyms[format]
		if !ok {
			tokens = []string{format}
		}
		spec.RequiredAnyOf = append(spec.RequiredAnyOf, TokenGroup{Name: "format", Tokens: tokens})
	}
	if focus.Timeframe != "" {
		spec.RequiredAnyOf = append(spec.RequiredAnyOf, TokenGroup{Name: "timeframe", Tokens: timeframeTokens(focus.Timeframe)})
	}

	if profile != nil {
		spec.PersonalizationTokens = profile.PersonalizationTokens()
	}

	if pack != nil {
		spec.AllowedURLs = pack.Permalinks()
		spec.AllowedIDs = pack.PostIDs()
		spec.EvidencePosts = len(pack.TopPosts)
		collectEvidence(spec.Evidence, pack)
	}
	return spec
}

func timeframeTokens(tf string) []string {
	out := []string{tf}
	for _, tok := range textnorm.Tokens(tf) {
		if slices.Contains(timeframeUnits, tok) || isDigits(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// collectEvidence gathers every number an answer may quote: post metrics,
// deltas, baselines, thresholds and pack counts, grouped by metric.
// Engagement rates are stored in percent.
func collectEvidence(ev map[policy.Metric][]float64, pack *contextpack.ContextPack) {
	add := func(m policy.Metric, v *float64) {
		if v != nil {
			ev[m] = append(ev[m], *v)
		}
	}
	addRate := func(v *float64) {
		if v != nil {
			ev[policy.MetricEngagementRate] = append(ev[policy.MetricEngagementRate], *v*100)
		}
	}
	val := func(v float64) *float64 { return &v }

	for _, p := range pack.TopPosts {
		add(policy.MetricInteractions, val(p.Interactions))
		addRate(p.EngagementRate)
		add(policy.MetricReach, p.Reach)
		add(policy.MetricSaves, p.Saves)
		add(policy.MetricShares, p.Shares)
		add(policy.MetricComments, p.Comments)
		add(policy.MetricLikes, p.Likes)
		add(EvidenceDeltas, p.DeltaInteractionsPct)
		add(EvidenceDeltas, p.DeltaEngagementRatePct)
		add(EvidenceDeltas, p.DeltaReachPct)
	}

	if b := pack.Baselines; b != nil {
		add(policy.MetricInteractions, val(b.MedianInteractions))
		addRate(val(b.MedianEngagementRate))
		add(policy.MetricReach, val(b.MedianReach))
		for _, fb := range b.PerFormat {
			add(policy.MetricInteractions, val(fb.MedianInteractions))
			addRate(val(fb.MedianEngagementRate))
		}
		add(EvidenceContext, val(float64(b.SampleSize)))
		add(EvidenceContext, val(float64(b.WindowDays)))
	}

	th := pack.Policy.Thresholds
	add(policy.MetricInteractions, val(th.EffectiveInteractions))
	add(policy.MetricInteractions, val(th.MinAbsoluteInteractions))
	add(policy.MetricInteractions, val(th.MinRelativeInteractions))
	add(policy.MetricInteractions, val(th.BaselineInteractions))
	addRate(th.EffectiveEngagementRate)
	addRate(th.MinRelativeEngagementRate)
	addRate(th.BaselineEngagementRate)

	add(EvidenceContext, val(float64(pack.Policy.WindowDays)))
	add(EvidenceContext, val(float64(len(pack.TopPosts))))
	add(EvidenceContext, val(float64(pack.QualifiedCount)))
	add(EvidenceContext, val(float64(pack.CandidateCount)))
	if pack.Profile != nil && pack.Profile.FollowerCount != nil {
		add(metricFollowers, val(float64(*pack.Profile.FollowerCount)))
	}
}
