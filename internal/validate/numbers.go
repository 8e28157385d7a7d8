package validate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/TobiSchelling/answerengine/internal/policy"
	"github.com/TobiSchelling/answerengine/internal/textnorm"
)

var (
	urlRe        = regexp.MustCompile("https?://[^\\s<>()\\[\\]\"'`]+")
	idRefRe      = regexp.MustCompile(`(?i)\b(?:post|id)[:#]([a-z0-9_\-]+)`)
	numberRe     = regexp.MustCompile(`\d+(?:[.,]\d+)*(?:\s*(?:(?:milhoes|milhao|mil|mi|k)\b|%))?`)
	listMarkerRe = regexp.MustCompile(`^\s*(?:[-*+]\s+)?\d+[.)]\s+`)
	clauseRe     = regexp.MustCompile(`[;()!?]|[,.:](?:\s|$)`)
)

// numberClaim is a number in the answer tied to a metric term, or to a
// post count or analysis window when Metric is EvidenceContext.
type numberClaim struct {
	Raw     string
	Value   float64
	Metric  policy.Metric
	Percent bool
}

// extractClaims returns every number that sits next to a metric term in
// the same clause, plus post counts and analysis windows. URLs, id
// references, list markers and dates are ignored.
func extractClaims(text string) []numberClaim {
	var out []numberClaim
	for _, line := range strings.Split(text, "\n") {
		line = urlRe.ReplaceAllString(line, " ")
		line = idRefRe.ReplaceAllString(line, " ")
		line = listMarkerRe.ReplaceAllString(line, " ")
		line = textnorm.Fold(line)

		for _, loc := range numberRe.FindAllStringIndex(line, -1) {
			start, end := loc[0], loc[1]
			if !standalone(line, start, end) {
				continue
			}
			raw := line[start:end]
			v, ok := parseNumber(raw)
			if !ok {
				continue
			}
			before, after := clauseBefore(line[:start]), clauseAfter(line[end:])
			percent := strings.HasSuffix(raw, "%")
			var m policy.Metric
			unit := false
			if !percent {
				m, unit = contextOf(before, after)
			}
			if !unit {
				m = nearestMetric(before, after)
			}
			if m == "" {
				continue
			}
			out = append(out, numberClaim{Raw: strings.TrimSpace(raw), Value: v, Metric: m, Percent: percent})
		}
	}
	return out
}

// standalone rejects numbers glued to words ("p123", "3x") and date parts.
func standalone(line string, start, end int) bool {
	if start > 0 {
		prev := rune(line[start-1])
		if unicode.IsLetter(prev) || prev == '_' || prev == '/' || prev == ':' || prev == '#' {
			return false
		}
		if prev == '-' && start > 1 && unicode.IsDigit(rune(line[start-2])) {
			return false
		}
	}
	if end < len(line) {
		next := rune(line[end])
		if unicode.IsLetter(next) || next == '/' || next == ':' {
			return false
		}
		if next == '-' && end+1 < len(line) && unicode.IsDigit(rune(line[end+1])) {
			return false
		}
	}
	return true
}

func clauseBefore(s string) string {
	if locs := clauseRe.FindAllStringIndex(s, -1); len(locs) > 0 {
		return s[locs[len(locs)-1][1]:]
	}
	return s
}

func clauseAfter(s string) string {
	if loc := clauseRe.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

// contentTokens drops connectors so "12 mil de alcance" ties 12 mil to reach.
func contentTokens(s string) []string {
	var out []string
	for _, tok := range textnorm.Tokens(s) {
		if !claimConnectors[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// contextOf tags "3 posts" as a count and "nos ultimos 30 dias" as a window.
// unit reports a number followed by a count or day unit; such numbers are
// never tied to a metric, so "a cada 2 dias" stays untied.
func contextOf(before, after string) (m policy.Metric, unit bool) {
	a := contentTokens(after)
	if len(a) == 0 {
		return "", false
	}
	if countUnits[a[0]] {
		return EvidenceContext, true
	}
	if !windowUnits[a[0]] {
		return "", false
	}
	b := textnorm.Tokens(before)
	for i := len(b) - 1; i >= 0 && i >= len(b)-2; i-- {
		if windowCues[b[i]] {
			return EvidenceContext, true
		}
	}
	return "", true
}

func nearestMetric(before, after string) policy.Metric {
	b := contentTokens(before)
	a := contentTokens(after)
	for d := 0; d < 4; d++ {
		if d < len(a) {
			if m := metricOf(a[d]); m != "" {
				return m
			}
		}
		if i := len(b) - 1 - d; i >= 0 {
			if m := metricOf(b[i]); m != "" {
				return m
			}
		}
	}
	return ""
}

func metricOf(tok string) policy.Metric {
	for _, m := range []policy.Metric{
		policy.MetricReach, policy.MetricSaves, policy.MetricShares, policy.MetricComments,
		policy.MetricLikes, policy.MetricInteractions, policy.MetricEngagementRate, metricFollowers,
	} {
		for _, stem := range metricStems[m] {
			if strings.HasPrefix(tok, stem) {
				return m
			}
		}
	}
	return ""
}

// parseNumber reads pt-BR and English number forms: "1.234", "1,234",
// "12,5", "4.6", "12k", "12,5 mil", "3 milhoes", "4,6%".
func parseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "%"):
		s = strings.TrimSuffix(s, "%")
	case strings.HasSuffix(s, "milhoes"):
		s, mult = strings.TrimSuffix(s, "milhoes"), 1e6
	case strings.HasSuffix(s, "milhao"):
		s, mult = strings.TrimSuffix(s, "milhao"), 1e6
	case strings.HasSuffix(s, "mil"):
		s, mult = strings.TrimSuffix(s, "mil"), 1e3
	case strings.HasSuffix(s, "mi"):
		s, mult = strings.TrimSuffix(s, "mi"), 1e6
	case strings.HasSuffix(s, "k"):
		s, mult = strings.TrimSuffix(s, "k"), 1e3
	}
	s = normalizeSeparators(strings.TrimSpace(s))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

// normalizeSeparators converts a number with "." and "," separators into
// Go's float syntax. When both appear the last one is the decimal mark. A
// single separator followed by exactly three digits is a thousands mark,
// unless the integer part is 0.
func normalizeSeparators(s string) string {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
		}
		return strings.ReplaceAll(s, ",", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	case commas == 1:
		if len(s)-strings.Index(s, ",")-1 == 3 && !strings.HasPrefix(s, "0,") {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.ReplaceAll(s, ",", ".")
	case dots == 1:
		if len(s)-strings.Index(s, ".")-1 == 3 && !strings.HasPrefix(s, "0.") {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// withinTolerance accepts ±8% relative or ±1 absolute, widened to ±100
// for evidence values of 1000 or more.
func withinTolerance(claim, evidence float64) bool {
	diff := math.Abs(claim - evidence)
	if diff <= 1 {
		return true
	}
	if diff <= 0.08*math.Abs(evidence) {
		return true
	}
	return math.Abs(evidence) >= 1000 && diff <= 100
}

// withinRateTolerance compares engagement rates in percentage points:
// ±0.1 absolute or ±8% relative.
func withinRateTolerance(claim, evidence float64) bool {
	diff := math.Abs(claim - evidence)
	return diff <= 0.1 || diff <= 0.08*math.Abs(evidence)
}

// matchesEvidence checks a claim only against the evidence of its own kind.
// Percentages other than engagement rate must be deltas. Engagement rate
// evidence is in percent, so "0,053" is read as 5.3%.
func matchesEvidence(c numberClaim, evidence map[policy.Metric][]float64) bool {
	switch {
	case c.Metric == EvidenceContext:
		return anyMatch(evidence[EvidenceContext], c.Value, func(claim, ev float64) bool { return claim == ev })
	case c.Metric == policy.MetricEngagementRate:
		v := c.Value
		if !c.Percent && v < 1 {
			v *= 100
		}
		if anyMatch(evidence[policy.MetricEngagementRate], v, withinRateTolerance) {
			return true
		}
		return c.Percent && anyMatch(evidence[EvidenceDeltas], v, withinTolerance)
	case c.Percent:
		return anyMatch(evidence[EvidenceDeltas], c.Value, withinTolerance)
	default:
		return anyMatch(evidence[c.Metric], c.Value, withinTolerance)
	}
}

func anyMatch(values []float64, claim float64, match func(claim, ev float64) bool) bool {
	for _, v := range values {
		if match(claim, v) {
			return true
		}
	}
	return false
}
