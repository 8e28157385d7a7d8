package policy

import (
	"fmt"
	"strings"
)

// Intent is the closed set of question types the engine answers.
type Intent int

const (
	IntentGenericQnA Intent = iota
	IntentTopPerformanceInspirations
	IntentTopReach
	IntentTopSaves
	IntentUnderperformanceDiagnosis
	IntentBestFormatsForUser
	IntentContentIdeasForGoal
	IntentWhyMyContentFlopped
	IntentGrowthPlan
	IntentCommunityExamples
	IntentPricingSuggestion
)

// AllIntents lists every intent in declaration order.
var AllIntents = []Intent{
	IntentGenericQnA,
	IntentTopPerformanceInspirations,
	IntentTopReach,
	IntentTopSaves,
	IntentUnderperformanceDiagnosis,
	IntentBestFormatsForUser,
	IntentContentIdeasForGoal,
	IntentWhyMyContentFlopped,
	IntentGrowthPlan,
	IntentCommunityExamples,
	IntentPricingSuggestion,
}

func (i Intent) String() string {
	switch i {
	case IntentGenericQnA:
		return "generic_qna"
	case IntentTopPerformanceInspirations:
		return "top_performance_inspirations"
	case IntentTopReach:
		return "top_reach"
	case IntentTopSaves:
		return "top_saves"
	case IntentUnderperformanceDiagnosis:
		return "underperformance_diagnosis"
	case IntentBestFormatsForUser:
		return "best_formats_for_user"
	case IntentContentIdeasForGoal:
		return "content_ideas_for_goal"
	case IntentWhyMyContentFlopped:
		return "why_my_content_flopped"
	case IntentGrowthPlan:
		return "growth_plan"
	case IntentCommunityExamples:
		return "community_examples"
	case IntentPricingSuggestion:
		return "pricing_suggestion"
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// ParseIntent maps a wire name back to an Intent.
func ParseIntent(s string) (Intent, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, i := range AllIntents {
		if i.String() == name {
			return i, nil
		}
	}
	return IntentGenericQnA, fmt.Errorf("unknown intent %q", s)
}

// MarshalText encodes the intent by name.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText decodes an intent name.
func (i *Intent) UnmarshalText(b []byte) error {
	v, err := ParseIntent(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Metric names a post statistic a policy can require.
type Metric string

const (
	MetricInteractions   Metric = "interactions"
	MetricEngagementRate Metric = "engagement_rate"
	MetricReach          Metric = "reach"
	MetricSaves          Metric = "saves"
	MetricShares         Metric = "shares"
	MetricComments       Metric = "comments"
	MetricLikes          Metric = "likes"
)

var metricOrder = []Metric{
	MetricInteractions,
	MetricEngagementRate,
	MetricReach,
	MetricSaves,
	MetricShares,
	MetricComments,
	MetricLikes,
}
