// Package rank scores candidate posts against a resolved policy and applies
// the dual admission gate.
package rank

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/policy"
)

// Gate names reported in RankedCandidate.FailedGates.
const (
	GateInteractions   = "interactions"
	GateEngagementRate = "engagement_rate"
	GateReach          = "reach"
	GateSaves          = "saves"
	GateShares         = "shares"
	GateFormat         = "format"
)

// RankedCandidate is a scored post. It is never mutated after Rank returns.
type RankedCandidate struct {
	Post                   model.CandidatePost `json:"post"`
	Interactions           float64             `json:"interactions"`
	EngagementRate         *float64            `json:"engagement_rate"`
	BaseScore              float64             `json:"base_score"`
	Score                  float64             `json:"score"`
	WatchTimeBoost         float64             `json:"watch_time_boost"`
	FormatBoost            float64             `json:"format_boost"`
	ObjectiveBoost         float64             `json:"objective_boost"`
	RecencyBoost           float64             `json:"recency_boost"`
	PassesThreshold        bool                `json:"passes_threshold"`
	FailedGates            []string            `json:"failed_gates,omitempty"`
	DeltaInteractionsPct   *float64            `json:"delta_interactions_pct"`
	DeltaEngagementRatePct *float64            `json:"delta_engagement_rate_pct"`
	DeltaReachPct          *float64            `json:"delta_reach_pct"`
	FiltersApplied         []string            `json:"filters_applied,omitempty"`
}

// Input is one ranking request.
type Input struct {
	Candidates []model.CandidatePost
	Policy     policy.Policy
	Baselines  *model.UserBaselines
	Profile    *model.ProfileSignals
	// Now overrides the ranker clock when set.
	Now time.Time
}

// Result holds the ranking outcome.
type Result struct {
	// Ranked holds admitted candidates, best first. In strict mode every
	// entry passes the threshold.
	Ranked []RankedCandidate
	// All holds every candidate, best first, including failing ones.
	All      []RankedCandidate
	Filtered int
}

// Options tune the scoring regimes.
type Options struct {
	SmallSampleCutoff   int
	RecencyHalfLifeDays float64
}

// Ranker scores candidates. It is safe for concurrent use.
type Ranker struct {
	opts Options
	now  func() time.Time
}

// New creates a ranker. now may be nil, in which case time.Now is used.
func New(opts Options, now func() time.Time) *Ranker {
	if opts.SmallSampleCutoff <= 0 {
		opts.SmallSampleCutoff = 10
	}
	if opts.RecencyHalfLifeDays <= 0 {
		opts.RecencyHalfLifeDays = 90
	}
	if now == nil {
		now = time.Now
	}
	return &Ranker{opts: opts, now: now}
}

var smallSampleWeights = []weight{
	{"saves", 0.30},
	{"shares", 0.25},
	{"comments", 0.20},
	{"interactions", 0.15},
	{"likes", 0.07},
	{"reach", 0.03},
}

var zScoreWeights = []weight{
	{"saves", 0.35},
	{"shares", 0.30},
	{"comments", 0.20},
	{"likes", 0.10},
	{"reach", 0.05},
}

type weight struct {
	metric string
	w      float64
}

// Rank scores, gates and sorts the candidates.
func (r *Ranker) Rank(in Input) Result {
	now := in.Now
	if now.IsZero() {
		now = r.now()
	}

	var base []float64
	if len(in.Candidates) < r.opts.SmallSampleCutoff {
		base = ratioScores(in.Candidates)
	} else {
		base = zScores(in.Candidates)
	}

	obj := objectiveMedians(in.Candidates)
	th := in.Policy.Thresholds
	filters := appliedFilters(in.Policy)

	all := make([]RankedCandidate, 0, len(in.Candidates))
	for i, post := range in.Candidates {
		rc := RankedCandidate{
			Post:           post,
			Interactions:   post.Interactions(),
			EngagementRate: post.EngagementRate(),
			BaseScore:      finiteOr(base[i], 0),
			WatchTimeBoost: watchTimeBoost(post),
			FormatBoost:    formatBoost(post, in.Profile),
			ObjectiveBoost: obj.boost(post, in.Profile),
			RecencyBoost:   recencyBoost(post.PostedAt, now, r.opts.RecencyHalfLifeDays),
			FiltersApplied: filters,
		}
		product := rc.WatchTimeBoost * rc.FormatBoost * rc.ObjectiveBoost * rc.RecencyBoost
		if rc.BaseScore >= 0 {
			rc.Score = rc.BaseScore * product
		} else {
			rc.Score = rc.BaseScore / product
		}
		rc.Score = finiteOr(rc.Score, 0)

		rc.FailedGates = gates(post, rc.Interactions, rc.EngagementRate, in.Policy)
		rc.PassesThreshold = len(rc.FailedGates) == 0
		if !rc.PassesThreshold && th.StrictMode {
			rc.Score = 0
		}

		rc.DeltaInteractionsPct = deltaPct(rc.Interactions, th.BaselineInteractions)
		if rc.EngagementRate != nil && th.BaselineEngagementRate != nil {
			rc.DeltaEngagementRatePct = deltaPct(*rc.EngagementRate, *th.BaselineEngagementRate)
		}
		if in.Baselines != nil {
			rc.DeltaReachPct = deltaPct(post.Metric("reach"), in.Baselines.MedianReach)
		}
		all = append(all, rc)
	}

	sort.SliceStable(all, func(a, b int) bool { return all[a].Score > all[b].Score })

	res := Result{All: all}
	for _, rc := range all {
		if !rc.PassesThreshold && th.StrictMode {
			res.Filtered++
			continue
		}
		res.Ranked = append(res.Ranked, rc)
	}
	return res
}

// gates returns the names of every gate the post fails.
func gates(post model.CandidatePost, interactions float64, er *float64, p policy.Policy) []string {
	th := p.Thresholds
	var failed []string
	if interactions < th.EffectiveInteractions {
		failed = append(failed, GateInteractions)
	}
	if th.EffectiveEngagementRate != nil && (er == nil || *er < *th.EffectiveEngagementRate) {
		failed = append(failed, GateEngagementRate)
	}
	if p.Requires(policy.MetricReach) {
		reach := post.Metric("reach")
		if reach <= 0 || reach < th.EffectiveInteractions {
			failed = append(failed, GateReach)
		}
	}
	if p.Requires(policy.MetricSaves) && post.Metric("saves") <= 0 {
		failed = append(failed, GateSaves)
	}
	if p.Requires(policy.MetricShares) && post.Metric("shares") <= 0 {
		failed = append(failed, GateShares)
	}
	if p.FormatLock != "" && !post.HasFormat(p.FormatLock) {
		failed = append(failed, GateFormat)
	}
	return failed
}

func appliedFilters(p policy.Policy) []string {
	th := p.Thresholds
	out := []string{fmt.Sprintf("min_interactions>=%.0f", th.EffectiveInteractions)}
	if th.EffectiveEngagementRate != nil {
		out = append(out, fmt.Sprintf("min_engagement_rate>=%.4f", *th.EffectiveEngagementRate))
	}
	for _, m := range p.RequiredMetrics {
		switch m {
		case policy.MetricReach, policy.MetricSaves, policy.MetricShares:
			out = append(out, "require:"+string(m))
		}
	}
	if p.FormatLock != "" {
		out = append(out, "format="+p.FormatLock)
	}
	if th.StrictMode {
		out = append(out, "strict_mode")
	}
	return out
}

func ratioScores(posts []model.CandidatePost) []float64 {
	medians := make(map[string]float64, len(smallSampleWeights))
	for _, w := range smallSampleWeights {
		medians[w.metric] = Median(column(posts, w.metric))
	}
	scores := make([]float64, len(posts))
	for i, p := range posts {
		var s float64
		for _, w := range smallSampleWeights {
			m := medians[w.metric]
			if m <= 0 {
				continue
			}
			s += w.w * clamp(p.Metric(w.metric)/m, 0, 3)
		}
		scores[i] = s
	}
	return scores
}

func zScores(posts []model.CandidatePost) []float64 {
	type moments struct{ mean, std float64 }
	stats := make(map[string]moments, len(zScoreWeights))
	for _, w := range zScoreWeights {
		vals := column(posts, w.metric)
		positive := 0
		for _, v := range vals {
			if v > 0 {
				positive++
			}
		}
		if positive <= 1 {
			continue
		}
		mean, std := meanStd(vals)
		stats[w.metric] = moments{mean, std}
	}
	scores := make([]float64, len(posts))
	for i, p := range posts {
		var s float64
		for _, w := range zScoreWeights {
			m, ok := stats[w.metric]
			if !ok || m.std == 0 {
				continue
			}
			s += w.w * clamp((p.Metric(w.metric)-m.mean)/m.std, -3, 3)
		}
		scores[i] = s
	}
	return scores
}

func watchTimeBoost(p model.CandidatePost) float64 {
	if p.Stats == nil || p.Stats.RetentionRate == nil {
		return 1
	}
	ret := model.Value(p.Stats.RetentionRate)
	if ret > 1 {
		ret /= 100
	}
	return 1 + clamp(ret, 0, 1)*0.1
}

func formatBoost(p model.CandidatePost, profile *model.ProfileSignals) float64 {
	if profile.PrefersFormat(p.Formats) {
		return 1.15
	}
	return 1
}

type objective struct {
	reach, savesShares, comments float64
}

func objectiveMedians(posts []model.CandidatePost) objective {
	ss := make([]float64, len(posts))
	for i, p := range posts {
		ss[i] = p.Metric("saves") + p.Metric("shares")
	}
	return objective{
		reach:       Median(column(posts, "reach")),
		savesShares: Median(ss),
		comments:    Median(column(posts, "comments")),
	}
}

func (o objective) boost(p model.CandidatePost, profile *model.ProfileSignals) float64 {
	if profile == nil {
		return 1
	}
	switch profile.Goal {
	case model.GoalGrowth:
		if p.Metric("reach") > o.reach {
			return 1.1
		}
	case model.GoalMonetization:
		if p.Metric("saves")+p.Metric("shares") > o.savesShares {
			return 1.12
		}
	case model.GoalEngagement:
		if p.Metric("comments") > o.comments {
			return 1.1
		}
	case model.GoalNone:
	}
	return 1
}

func recencyBoost(postedAt, now time.Time, halfLifeDays float64) float64 {
	if postedAt.IsZero() {
		return 1
	}
	age := now.Sub(postedAt).Hours() / 24
	if age < 0 {
		age = 0
	}
	return clamp(1.3*math.Pow(0.5, age/halfLifeDays), 0.7, 1.3)
}

func deltaPct(value, base float64) *float64 {
	if base == 0 {
		return nil
	}
	d := math.Round((value-base)/base*1000) / 10
	if !isFinite(d) {
		return nil
	}
	return &d
}

func column(posts []model.CandidatePost, metric string) []float64 {
	out := make([]float64, len(posts))
	for i, p := range posts {
		out[i] = p.Metric(metric)
	}
	return out
}

// Median returns the median of values, or 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / (n - 1))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func finiteOr(v, fallback float64) float64 {
	if !isFinite(v) {
		return fallback
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
