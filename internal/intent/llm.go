package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/answerengine/internal/llm"
	"github.com/TobiSchelling/answerengine/internal/policy"
	"github.com/TobiSchelling/answerengine/internal/profile"
)

const classifyPrompt = `You classify questions that Instagram creators ask about their own content performance.

Pick exactly one intent:
%s

Question: %s

Respond with ONLY this JSON:
{
    "intent": "<one of the intents above>",
    "anchor": "the core phrase of the question, without filler words",
    "metrics": ["reach" | "saves" | "shares" | "comments" | "interactions" | "engagement_rate"],
    "format": "reel" | "carrossel" | "foto" | "",
    "timeframe": "timeframe phrase from the question, or empty"
}`

// LLMClassifier asks a text generator to classify the question and falls
// back to keyword rules when the reply is unusable.
type LLMClassifier struct {
	provider llm.Provider
	fallback *KeywordClassifier
	logger   logrus.FieldLogger
}

// NewLLMClassifier creates a model-backed classifier.
func NewLLMClassifier(provider llm.Provider, logger logrus.FieldLogger) *LLMClassifier {
	return &LLMClassifier{provider: provider, fallback: NewKeywordClassifier(), logger: logger}
}

// Classify returns the model's classification merged over the keyword one.
// Provider errors are returned so callers can tell an outage from a miss.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (Classification, error) {
	base, _ := c.fallback.Classify(ctx, query)
	if c.provider == nil {
		return base, nil
	}

	prompt := fmt.Sprintf(classifyPrompt, intentList(), query)
	reply, err := c.provider.Generate(ctx, prompt, 256)
	if err != nil {
		return base, fmt.Errorf("classifying question: %w", err)
	}

	parsed := llm.ParseJSONResponse(reply)
	if parsed == nil {
		c.logger.Warn("Classifier reply was not JSON, using keyword rules")
		return base, nil
	}

	out := base
	if in, err := policy.ParseIntent(llm.String(parsed, "intent", "")); err == nil {
		out.Intent = in
	} else {
		c.logger.WithError(err).Debug("Classifier returned unknown intent")
	}
	if a := strings.TrimSpace(llm.String(parsed, "anchor", "")); a != "" {
		out.Focus.Anchor = Anchor(a)
	}
	if f := llm.String(parsed, "format", ""); f != "" && out.Focus.Format == "" {
		out.Focus.Format = profile.CanonicalFormat(f)
	}
	if tf := strings.TrimSpace(llm.String(parsed, "timeframe", "")); tf != "" && out.Focus.Timeframe == "" {
		out.Focus.Timeframe = tf
	}
	for _, m := range llm.Strings(parsed, "metrics") {
		metric := policy.Metric(strings.ToLower(m))
		if !containsMetric(out.Focus.Metrics, metric) && knownMetric(metric) {
			out.Focus.Metrics = append(out.Focus.Metrics, metric)
		}
	}
	out.Focus.Missing = missingSlots(out.Focus)
	return out, nil
}

func intentList() string {
	var b strings.Builder
	for _, i := range policy.AllIntents {
		b.WriteString("- ")
		b.WriteString(i.String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func missingSlots(f Focus) []string {
	var out []string
	if f.Format == "" {
		out = append(out, "format")
	}
	if len(f.Metrics) == 0 {
		out = append(out, "metric")
	}
	if f.Timeframe == "" {
		out = append(out, "timeframe")
	}
	return out
}

func containsMetric(ms []policy.Metric, m policy.Metric) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func knownMetric(m policy.Metric) bool {
	switch m {
	case policy.MetricInteractions, policy.MetricEngagementRate, policy.MetricReach,
		policy.MetricSaves, policy.MetricShares, policy.MetricComments, policy.MetricLikes:
		return true
	}
	return false
}
