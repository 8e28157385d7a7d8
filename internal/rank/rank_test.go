package rank

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/policy"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func post(id string, format string, interactions, reach, saves, shares float64) model.CandidatePost {
	return model.CandidatePost{
		ID:        id,
		Permalink: "https://instagram.com/p/" + id,
		PostedAt:  testNow.AddDate(0, 0, -10),
		Formats:   []string{format},
		Stats: &model.PostStats{
			TotalInteractions: f(interactions),
			Reach:             f(reach),
			Saves:             f(saves),
			Shares:            f(shares),
			Comments:          f(interactions / 10),
			Likes:             f(interactions / 2),
		},
	}
}

func strictPolicy(effective float64, er *float64) policy.Policy {
	return policy.Policy{
		Intent:   policy.IntentGenericQnA,
		MaxPosts: 5,
		Thresholds: policy.Thresholds{
			EffectiveInteractions:   effective,
			EffectiveEngagementRate: er,
			StrictMode:              true,
		},
	}
}

func testRanker() *Ranker {
	return New(Options{}, func() time.Time { return testNow })
}

func mixedCandidates(n int) []model.CandidatePost {
	var out []model.CandidatePost
	for i := 0; i < n; i++ {
		format := "reel"
		if i%3 == 1 {
			format = "carrossel"
		}
		out = append(out, post(fmt.Sprintf("p%d", i), format, float64(20+i*37%400), float64(500+i*211%5000), float64(i%7), float64(i%5)))
	}
	return out
}

func TestStrictModeOnlyReturnsPassingCandidates(t *testing.T) {
	r := testRanker()
	for _, n := range []int{3, 9, 10, 25} {
		res := r.Rank(Input{Candidates: mixedCandidates(n), Policy: strictPolicy(150, f(0.05))})
		for _, rc := range res.Ranked {
			if !rc.PassesThreshold {
				t.Errorf("n=%d: failing candidate %s in strict output", n, rc.Post.ID)
			}
		}
		if len(res.Ranked)+res.Filtered != n {
			t.Errorf("n=%d: ranked %d + filtered %d != %d", n, len(res.Ranked), res.Filtered, n)
		}
		for _, rc := range res.All {
			if !rc.PassesThreshold && rc.Score != 0 {
				t.Errorf("n=%d: failing candidate %s kept score %v", n, rc.Post.ID, rc.Score)
			}
		}
	}
}

func TestGateEquivalence(t *testing.T) {
	r := testRanker()
	th := f(0.05)
	res := r.Rank(Input{Candidates: mixedCandidates(20), Policy: strictPolicy(120, th)})
	for _, rc := range res.All {
		gateA := rc.Interactions >= 120
		gateB := rc.EngagementRate != nil && *rc.EngagementRate >= *th
		if (gateA && gateB) != rc.PassesThreshold {
			t.Errorf("%s: gateA=%v gateB=%v passes=%v", rc.Post.ID, gateA, gateB, rc.PassesThreshold)
		}
	}

	res = r.Rank(Input{Candidates: mixedCandidates(20), Policy: strictPolicy(120, nil)})
	for _, rc := range res.All {
		if (rc.Interactions >= 120) != rc.PassesThreshold {
			t.Errorf("%s: with ER gate disabled, passes should equal gate A", rc.Post.ID)
		}
	}
}

func TestAllZeroStatsYieldFiniteScores(t *testing.T) {
	r := testRanker()
	for _, n := range []int{1, 5, 10, 30} {
		var posts []model.CandidatePost
		for i := 0; i < n; i++ {
			posts = append(posts, model.CandidatePost{ID: fmt.Sprint(i), Stats: &model.PostStats{
				TotalInteractions: f(0), Reach: f(0), Saves: f(0), Shares: f(0), Comments: f(0), Likes: f(0),
			}})
		}
		posts = append(posts, model.CandidatePost{ID: "nil-stats"})
		pol := strictPolicy(0, nil)
		pol.Thresholds.StrictMode = false
		res := r.Rank(Input{Candidates: posts, Policy: pol})
		for _, rc := range res.All {
			if math.IsNaN(rc.Score) || math.IsInf(rc.Score, 0) {
				t.Errorf("n=%d: non-finite score for %s", n, rc.Post.ID)
			}
		}
	}
}

func TestReelLockReturnsOnlyPassingReel(t *testing.T) {
	r := testRanker()
	candidates := []model.CandidatePost{
		post("car1", "carrossel", 900, 9000, 50, 40),
		post("reel-low", "reel", 40, 800, 1, 1),
		post("reel-top", "reel", 600, 7000, 30, 25),
		post("foto1", "foto", 700, 8000, 20, 20),
	}
	pol := strictPolicy(200, nil).WithFormatLock("reel")
	res := r.Rank(Input{Candidates: candidates, Policy: pol})
	if len(res.Ranked) != 1 {
		t.Fatalf("expected exactly one reel, got %d", len(res.Ranked))
	}
	got := res.Ranked[0]
	if got.Post.ID != "reel-top" || !got.Post.HasFormat("reel") {
		t.Errorf("expected reel-top, got %s", got.Post.ID)
	}
}

func TestReachRequiredExcludesNullReach(t *testing.T) {
	r := testRanker()
	noReach := post("no-reach", "reel", 400, 0, 10, 10)
	noReach.Stats.Reach = nil
	withReach := post("with-reach", "reel", 400, 5000, 10, 10)

	pol := strictPolicy(200, nil).WithMetricRequirement(policy.MetricReach)
	res := r.Rank(Input{Candidates: []model.CandidatePost{noReach, withReach}, Policy: pol})
	if len(res.Ranked) != 1 || res.Ranked[0].Post.ID != "with-reach" {
		t.Fatalf("expected only with-reach, got %+v", res.Ranked)
	}
	for _, rc := range res.All {
		if rc.Post.ID == "no-reach" && (len(rc.FailedGates) != 1 || rc.FailedGates[0] != GateReach) {
			t.Errorf("expected reach gate failure, got %v", rc.FailedGates)
		}
	}
}

func TestBoostsNeverRescueFailingCandidate(t *testing.T) {
	r := testRanker()
	weak := post("weak", "reel", 100, 20000, 100, 100)
	weak.PostedAt = testNow
	weak.Stats.RetentionRate = f(95)
	strong := post("strong", "carrossel", 300, 3000, 5, 5)
	strong.PostedAt = testNow.AddDate(-1, 0, 0)
	profile := &model.ProfileSignals{Goal: model.GoalGrowth, PreferredFormats: []string{"reel"}}

	res := r.Rank(Input{Candidates: []model.CandidatePost{weak, strong}, Policy: strictPolicy(200, nil), Profile: profile})
	if len(res.Ranked) != 1 || res.Ranked[0].Post.ID != "strong" {
		t.Fatalf("expected only strong to pass, got %+v", res.Ranked)
	}
	for _, rc := range res.All {
		if rc.Post.ID == "weak" {
			if rc.Score != 0 {
				t.Errorf("expected weak score forced to 0, got %v", rc.Score)
			}
			if rc.FormatBoost != 1.15 || rc.ObjectiveBoost != 1.1 {
				t.Errorf("expected boosts recorded, got format=%v objective=%v", rc.FormatBoost, rc.ObjectiveBoost)
			}
		}
	}
}

func TestNonStrictKeepsFailingCandidates(t *testing.T) {
	r := testRanker()
	pol := strictPolicy(10_000, nil)
	pol.Thresholds.StrictMode = false
	res := r.Rank(Input{Candidates: mixedCandidates(4), Policy: pol})
	if len(res.Ranked) != 4 || res.Filtered != 0 {
		t.Errorf("expected all 4 kept, got %d filtered %d", len(res.Ranked), res.Filtered)
	}
}

func TestRecencyBoostBounds(t *testing.T) {
	if got := recencyBoost(testNow, testNow, 90); got != 1.3 {
		t.Errorf("fresh post: expected 1.3, got %v", got)
	}
	if got := recencyBoost(testNow.AddDate(-3, 0, 0), testNow, 90); got != 0.7 {
		t.Errorf("old post: expected floor 0.7, got %v", got)
	}
	got := recencyBoost(testNow.AddDate(0, 0, -90), testNow, 90)
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("one half-life: expected 0.7 (1.3*0.5 clamped), got %v", got)
	}
	got = recencyBoost(testNow.AddDate(0, 0, -30), testNow, 90)
	if got <= 0.7 || got >= 1.3 {
		t.Errorf("30 days: expected interior value, got %v", got)
	}
}

func TestWatchTimeBoostReadsPercentages(t *testing.T) {
	p := post("x", "reel", 1, 1, 1, 1)
	p.Stats.RetentionRate = f(50)
	if got := watchTimeBoost(p); math.Abs(got-1.05) > 1e-9 {
		t.Errorf("expected 1.05, got %v", got)
	}
	p.Stats.RetentionRate = f(0.5)
	if got := watchTimeBoost(p); math.Abs(got-1.05) > 1e-9 {
		t.Errorf("expected 1.05, got %v", got)
	}
	p.Stats.RetentionRate = nil
	if got := watchTimeBoost(p); got != 1 {
		t.Errorf("expected 1 without retention, got %v", got)
	}
}

func TestNegativeBaseScoreMovesUpWithBoosts(t *testing.T) {
	var posts []model.CandidatePost
	for i := 0; i < 12; i++ {
		posts = append(posts, post(fmt.Sprint(i), "carrossel", float64(100+i*50), float64(1000+i*100), float64(i), float64(i)))
	}
	pol := strictPolicy(0, nil)
	r := testRanker()
	plain := r.Rank(Input{Candidates: posts, Policy: pol})
	boosted := r.Rank(Input{Candidates: posts, Policy: pol, Profile: &model.ProfileSignals{PreferredFormats: []string{"carrossel"}}})

	scores := map[string]float64{}
	for _, rc := range plain.All {
		scores[rc.Post.ID] = rc.Score
	}
	for _, rc := range boosted.All {
		if rc.Score < scores[rc.Post.ID] {
			t.Errorf("%s: boost lowered score from %v to %v", rc.Post.ID, scores[rc.Post.ID], rc.Score)
		}
	}
}

func TestSortedDescendingAndStable(t *testing.T) {
	r := testRanker()
	pol := strictPolicy(0, nil)
	same := []model.CandidatePost{
		post("a", "reel", 100, 1000, 1, 1),
		post("b", "reel", 100, 1000, 1, 1),
		post("c", "reel", 100, 1000, 1, 1),
	}
	res := r.Rank(Input{Candidates: same, Policy: pol})
	for i, id := range []string{"a", "b", "c"} {
		if res.Ranked[i].Post.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, res.Ranked[i].Post.ID)
		}
	}

	res = r.Rank(Input{Candidates: mixedCandidates(15), Policy: pol})
	for i := 1; i < len(res.Ranked); i++ {
		if res.Ranked[i].Score > res.Ranked[i-1].Score {
			t.Fatalf("not sorted at %d", i)
		}
	}
}

func TestDeltasNilWithoutBaseline(t *testing.T) {
	r := testRanker()
	res := r.Rank(Input{Candidates: []model.CandidatePost{post("a", "reel", 100, 1000, 1, 1)}, Policy: strictPolicy(0, nil)})
	if res.All[0].DeltaInteractionsPct != nil || res.All[0].DeltaReachPct != nil {
		t.Error("expected nil deltas with zero baseline")
	}

	pol := strictPolicy(0, nil)
	pol.Thresholds.BaselineInteractions = 80
	res = r.Rank(Input{
		Candidates: []model.CandidatePost{post("a", "reel", 100, 1000, 1, 1)},
		Policy:     pol,
		Baselines:  &model.UserBaselines{MedianInteractions: 80, MedianReach: 800, SampleSize: 5},
	})
	if d := res.All[0].DeltaInteractionsPct; d == nil || *d != 25 {
		t.Errorf("expected +25%%, got %v", d)
	}
	if d := res.All[0].DeltaReachPct; d == nil || *d != 25 {
		t.Errorf("expected reach +25%%, got %v", d)
	}
}

func TestMedian(t *testing.T) {
	if Median(nil) != 0 {
		t.Error("expected 0 for empty")
	}
	if Median([]float64{3, 1, 2}) != 2 {
		t.Error("odd median")
	}
	if Median([]float64{4, 1, 3, 2}) != 2.5 {
		t.Error("even median")
	}
}

func openPolicy() policy.Policy {
	return policy.Policy{Intent: policy.IntentGenericQnA, MaxPosts: 5}
}

// metricPost builds an undated reel whose only non-zero stat is metric,
// with total interactions pinned to 1 unless metric is interactions.
func metricPost(id, metric string, v float64) model.CandidatePost {
	s := &model.PostStats{TotalInteractions: f(1)}
	switch metric {
	case "saves":
		s.Saves = f(v)
	case "shares":
		s.Shares = f(v)
	case "comments":
		s.Comments = f(v)
	case "likes":
		s.Likes = f(v)
	case "reach":
		s.Reach = f(v)
	case "interactions":
		s.TotalInteractions = f(v)
	}
	return model.CandidatePost{ID: id, Formats: []string{"reel"}, Stats: s}
}

func byID(ranked []RankedCandidate) map[string]RankedCandidate {
	out := make(map[string]RankedCandidate, len(ranked))
	for _, rc := range ranked {
		out[rc.Post.ID] = rc
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSmallSampleWeightsAndRatioClamp(t *testing.T) {
	tests := []struct {
		metric string
		w      float64
	}{
		{"saves", 0.30},
		{"shares", 0.25},
		{"comments", 0.20},
		{"interactions", 0.15},
		{"likes", 0.07},
		{"reach", 0.03},
	}
	for _, tt := range tests {
		// Median 1: the 100 post's ratio is clamped to 3, the others score 1.
		res := testRanker().Rank(Input{
			Candidates: []model.CandidatePost{
				metricPost("a", tt.metric, 1),
				metricPost("b", tt.metric, 1),
				metricPost("c", tt.metric, 100),
			},
			Policy: openPolicy(),
		})
		pinned := 0.15
		if tt.metric == "interactions" {
			pinned = 0
		}
		got := byID(res.All)
		if want := tt.w*3 + pinned; !approx(got["c"].BaseScore, want) {
			t.Errorf("%s: clamped base = %v, want %v", tt.metric, got["c"].BaseScore, want)
		}
		if want := tt.w + pinned; !approx(got["a"].BaseScore, want) {
			t.Errorf("%s: median base = %v, want %v", tt.metric, got["a"].BaseScore, want)
		}
		if !approx(got["c"].Score, got["c"].BaseScore) {
			t.Errorf("%s: unboosted score = %v, want base %v", tt.metric, got["c"].Score, got["c"].BaseScore)
		}
	}
}

func TestSmallSampleSkipsZeroMedian(t *testing.T) {
	res := testRanker().Rank(Input{
		Candidates: []model.CandidatePost{metricPost("a", "saves", 0), metricPost("b", "saves", 0), metricPost("c", "saves", 9)},
		Policy:     openPolicy(),
	})
	// Only interactions has a positive median.
	for _, rc := range res.All {
		if !approx(rc.BaseScore, 0.15) {
			t.Errorf("%s: base = %v, want 0.15", rc.Post.ID, rc.BaseScore)
		}
	}
}

// zFixture is eleven posts at 1 and one at 133: mean 12, sample std
// 11*sqrt(12), so z is -1/sqrt(12) for the ones and 11/sqrt(12) > 3 for
// the outlier.
func zFixture(metric string) []model.CandidatePost {
	var out []model.CandidatePost
	for i := 0; i < 11; i++ {
		out = append(out, metricPost(fmt.Sprintf("p%d", i), metric, 1))
	}
	return append(out, metricPost("top", metric, 133))
}

func TestZScoreWeightsAndClamp(t *testing.T) {
	tests := []struct {
		metric string
		w      float64
	}{
		{"saves", 0.35},
		{"shares", 0.30},
		{"comments", 0.20},
		{"likes", 0.10},
		{"reach", 0.05},
	}
	for _, tt := range tests {
		res := testRanker().Rank(Input{Candidates: zFixture(tt.metric), Policy: openPolicy()})
		got := byID(res.All)
		if want := tt.w * 3; !approx(got["top"].BaseScore, want) {
			t.Errorf("%s: clamped base = %v, want %v", tt.metric, got["top"].BaseScore, want)
		}
		if want := -tt.w / math.Sqrt(12); !approx(got["p0"].BaseScore, want) {
			t.Errorf("%s: low base = %v, want %v", tt.metric, got["p0"].BaseScore, want)
		}
	}
}

func TestZScoreIgnoresInteractions(t *testing.T) {
	res := testRanker().Rank(Input{Candidates: zFixture("interactions"), Policy: openPolicy()})
	for _, rc := range res.All {
		if rc.BaseScore != 0 {
			t.Errorf("%s: base = %v, want 0", rc.Post.ID, rc.BaseScore)
		}
	}
}

func TestZScoreDegenerateColumns(t *testing.T) {
	var flat, single []model.CandidatePost
	for i := 0; i < 12; i++ {
		flat = append(flat, metricPost(fmt.Sprintf("f%d", i), "saves", 5))
		v := 0.0
		if i == 0 {
			v = 50
		}
		single = append(single, metricPost(fmt.Sprintf("s%d", i), "saves", v))
	}
	for name, posts := range map[string][]model.CandidatePost{"zero std": flat, "one positive": single} {
		res := testRanker().Rank(Input{Candidates: posts, Policy: openPolicy()})
		for _, rc := range res.All {
			if rc.BaseScore != 0 || math.IsNaN(rc.Score) {
				t.Errorf("%s: %s base = %v, score = %v", name, rc.Post.ID, rc.BaseScore, rc.Score)
			}
		}
	}
}

func TestFormatPreferenceBoost(t *testing.T) {
	reel := metricPost("reel", "saves", 2)
	carousel := metricPost("carousel", "saves", 2)
	carousel.Formats = []string{"carrossel"}
	res := testRanker().Rank(Input{
		Candidates: []model.CandidatePost{carousel, reel},
		Policy:     openPolicy(),
		Profile:    &model.ProfileSignals{PreferredFormats: []string{"Reel"}},
	})
	got := byID(res.All)
	if got["reel"].FormatBoost != 1.15 || got["carousel"].FormatBoost != 1 {
		t.Fatalf("format boosts = %v, %v", got["reel"].FormatBoost, got["carousel"].FormatBoost)
	}
	if !approx(got["reel"].Score, got["reel"].BaseScore*1.15) {
		t.Errorf("score = %v, want base*1.15 = %v", got["reel"].Score, got["reel"].BaseScore*1.15)
	}
	if res.All[0].Post.ID != "reel" {
		t.Errorf("expected boosted reel first, got %s", res.All[0].Post.ID)
	}
}

func TestObjectiveBoostPerGoal(t *testing.T) {
	level := func(id string, v float64) model.CandidatePost {
		return model.CandidatePost{ID: id, Formats: []string{"reel"}, Stats: &model.PostStats{
			TotalInteractions: f(10), Reach: f(100 * v), Saves: f(v), Shares: f(v), Comments: f(v),
		}}
	}
	candidates := []model.CandidatePost{level("low", 1), level("mid", 2), level("high", 3)}

	tests := []struct {
		goal model.Goal
		want float64
	}{
		{model.GoalGrowth, 1.1},
		{model.GoalMonetization, 1.12},
		{model.GoalEngagement, 1.1},
		{model.GoalNone, 1},
	}
	for _, tt := range tests {
		res := testRanker().Rank(Input{
			Candidates: candidates,
			Policy:     openPolicy(),
			Profile:    &model.ProfileSignals{Goal: tt.goal},
		})
		got := byID(res.All)
		if got["high"].ObjectiveBoost != tt.want {
			t.Errorf("goal %q: above-median boost = %v, want %v", tt.goal, got["high"].ObjectiveBoost, tt.want)
		}
		// The median post is not strictly above the median.
		if got["mid"].ObjectiveBoost != 1 || got["low"].ObjectiveBoost != 1 {
			t.Errorf("goal %q: median/low boosts = %v, %v", tt.goal, got["mid"].ObjectiveBoost, got["low"].ObjectiveBoost)
		}
		if want := got["high"].BaseScore * tt.want; !approx(got["high"].Score, want) {
			t.Errorf("goal %q: score = %v, want %v", tt.goal, got["high"].Score, want)
		}
	}

	res := testRanker().Rank(Input{Candidates: candidates, Policy: openPolicy()})
	for _, rc := range res.All {
		if rc.ObjectiveBoost != 1 {
			t.Errorf("nil profile: %s boost = %v", rc.Post.ID, rc.ObjectiveBoost)
		}
	}
}
