package policy

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/answerengine/internal/model"
)

func testResolver() *Resolver {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewResolver(DefaultOptions(), logger)
}

func intPtr(n int) *int { return &n }

func TestMinAbsoluteByFollowers(t *testing.T) {
	tests := []struct {
		followers *int
		want      float64
	}{
		{nil, 30},
		{intPtr(5_000), 30},
		{intPtr(9_999), 30},
		{intPtr(10_000), 80},
		{intPtr(20_000), 80},
		{intPtr(50_000), 200},
		{intPtr(100_000), 200},
		{intPtr(200_000), 500},
		{intPtr(500_000), 500},
	}
	for _, tt := range tests {
		if got := MinAbsoluteByFollowers(tt.followers); got != tt.want {
			t.Errorf("MinAbsoluteByFollowers(%v) = %v, want %v", tt.followers, got, tt.want)
		}
	}
}

func TestEffectiveInteractionsIsMaxOfRelativeAndAbsolute(t *testing.T) {
	r := testResolver()
	b := &model.UserBaselines{MedianInteractions: 100, MedianEngagementRate: 0.04, SampleSize: 20}

	p := r.Resolve(ResolveInput{Intent: IntentGenericQnA, Query: "como estou indo?", Baselines: b, Followers: intPtr(8_000)})
	th := p.Thresholds
	if th.MinRelativeInteractions != 125 {
		t.Errorf("expected relative floor 125, got %v", th.MinRelativeInteractions)
	}
	if th.MinAbsoluteInteractions != 30 {
		t.Errorf("expected absolute floor 30, got %v", th.MinAbsoluteInteractions)
	}
	if th.EffectiveInteractions != 125 {
		t.Errorf("expected effective 125, got %v", th.EffectiveInteractions)
	}
	if th.EffectiveInteractions != max(th.MinRelativeInteractions, th.MinAbsoluteInteractions) {
		t.Error("effective must be max(relative, absolute)")
	}
	if th.EffectiveEngagementRate == nil || *th.EffectiveEngagementRate < 0.0459 || *th.EffectiveEngagementRate > 0.0461 {
		t.Errorf("expected effective ER 0.046, got %v", th.EffectiveEngagementRate)
	}
	if th.BaselineSource != SourceGlobal {
		t.Errorf("expected global source, got %q", th.BaselineSource)
	}
}

func TestAbsoluteFloorWinsForLargeAccounts(t *testing.T) {
	r := testResolver()
	b := &model.UserBaselines{MedianInteractions: 100, SampleSize: 20}
	p := r.Resolve(ResolveInput{Query: "x", Baselines: b, Followers: intPtr(500_000)})
	if p.Thresholds.EffectiveInteractions != 500 {
		t.Errorf("expected 500, got %v", p.Thresholds.EffectiveInteractions)
	}
	if p.Thresholds.EffectiveEngagementRate != nil {
		t.Error("expected ER gate disabled without a positive baseline ER")
	}
}

func TestMissingBaselinesWarnAndUseAbsoluteFloor(t *testing.T) {
	r := testResolver()
	for _, b := range []*model.UserBaselines{nil, {SampleSize: 0}} {
		p := r.Resolve(ResolveInput{Query: "meus reels", Baselines: b, Followers: intPtr(20_000)})
		if p.Thresholds.EffectiveInteractions != 80 {
			t.Errorf("expected 80, got %v", p.Thresholds.EffectiveInteractions)
		}
		if p.Thresholds.BaselineSource != SourceNone {
			t.Errorf("expected source none, got %q", p.Thresholds.BaselineSource)
		}
		if len(p.Warnings) != 1 {
			t.Errorf("expected 1 warning, got %v", p.Warnings)
		}
	}
}

func TestPerFormatBaselineWhenLocked(t *testing.T) {
	r := testResolver()
	b := &model.UserBaselines{
		MedianInteractions:   100,
		MedianEngagementRate: 0.04,
		SampleSize:           30,
		PerFormat: map[string]model.FormatBaseline{
			"reel": {MedianInteractions: 400, MedianEngagementRate: 0.08, SampleSize: 10},
		},
	}
	p := r.Resolve(ResolveInput{Query: "me traga reels top", Baselines: b})
	if p.FormatLock != "reel" {
		t.Fatalf("expected reel lock, got %q", p.FormatLock)
	}
	if p.Thresholds.BaselineSource != "format:reel" {
		t.Errorf("expected format source, got %q", p.Thresholds.BaselineSource)
	}
	if p.Thresholds.EffectiveInteractions != 500 {
		t.Errorf("expected 500, got %v", p.Thresholds.EffectiveInteractions)
	}

	p = r.Resolve(ResolveInput{Query: "meus carrosséis", Baselines: b})
	if p.FormatLock != "carrossel" {
		t.Fatalf("expected carrossel lock, got %q", p.FormatLock)
	}
	if p.Thresholds.BaselineSource != SourceGlobal {
		t.Errorf("expected fallback to global without format sample, got %q", p.Thresholds.BaselineSource)
	}
}

func TestDetectRequiredMetrics(t *testing.T) {
	tests := []struct {
		intent Intent
		query  string
		want   []Metric
		high   bool
	}{
		{IntentTopReach, "posts com mais alcance", []Metric{MetricReach, MetricShares}, false},
		{IntentTopSaves, "o que mais salvaram", []Metric{MetricSaves, MetricShares}, false},
		{IntentTopPerformanceInspirations, "me inspira", []Metric{MetricInteractions, MetricEngagementRate}, true},
		{IntentGenericQnA, "posts com engajamento alto e compartilhamentos", []Metric{MetricInteractions, MetricEngagementRate, MetricShares}, true},
		{IntentGenericQnA, "como melhorar?", nil, false},
	}
	for _, tt := range tests {
		got, high := DetectRequiredMetrics(tt.intent, tt.query)
		if high != tt.high {
			t.Errorf("%q: high = %v, want %v", tt.query, high, tt.high)
		}
		if len(got) != len(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.query, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q: got %v, want %v", tt.query, got, tt.want)
			}
		}
	}
}

func TestDetectFormatLock(t *testing.T) {
	tests := map[string]string{
		"me traga reels top":     "reel",
		"quais carrosséis foram": "carrossel",
		"best carousel":          "carrossel",
		"minhas fotos":           "foto",
		"o que postar amanhã":    "",
	}
	for q, want := range tests {
		if got := DetectFormatLock(q); got != want {
			t.Errorf("DetectFormatLock(%q) = %q, want %q", q, got, want)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := testResolver()
	b := &model.UserBaselines{MedianInteractions: 77, MedianEngagementRate: 0.03, SampleSize: 12}
	in := ResolveInput{Intent: IntentTopReach, Query: "reels com alcance", Baselines: b, Followers: intPtr(15_000)}
	a, _ := json.Marshal(r.Resolve(in))
	c, _ := json.Marshal(r.Resolve(in))
	if string(a) != string(c) {
		t.Errorf("expected identical policies:\n%s\n%s", a, c)
	}
}

func TestCopyConstructorsDoNotAlias(t *testing.T) {
	p := Policy{RequiredMetrics: []Metric{MetricReach}}
	q := p.WithMetricRequirement(MetricSaves)
	if len(p.RequiredMetrics) != 1 {
		t.Errorf("original mutated: %v", p.RequiredMetrics)
	}
	if !q.Requires(MetricSaves) || !q.Requires(MetricReach) {
		t.Errorf("expected reach and saves, got %v", q.RequiredMetrics)
	}
	l := q.WithFormatLock("reel")
	if q.FormatLock != "" || l.FormatLock != "reel" {
		t.Error("WithFormatLock should only change the copy")
	}
}

func TestIntentRoundTrip(t *testing.T) {
	for _, i := range AllIntents {
		got, err := ParseIntent(i.String())
		if err != nil || got != i {
			t.Errorf("ParseIntent(%q) = %v, %v", i.String(), got, err)
		}
	}
	if _, err := ParseIntent("nope"); err == nil {
		t.Error("expected error for unknown intent")
	}
}
