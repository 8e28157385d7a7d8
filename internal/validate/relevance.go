package validate

import (
	"slices"
	"strings"

	"github.com/TobiSchelling/answerengine/internal/textnorm"
)

// Issue codes reported by Relevance.
const (
	IssueMissingAnchor          = "missing_anchor"
	IssueMissingSections        = "missing_sections"
	IssueMissingAny             = "missing_any"
	IssueMissingPersonalization = "missing_personalization"
	IssueURLOutOfPack           = "url_out_of_pack"
	IssueIDOutOfPack            = "id_out_of_pack"
	IssueStrongClaim            = "strong_claim_without_evidence"
	IssueRecommendation         = "recommendation_without_evidence"
	IssueMetricNumber           = "metric_number_without_evidence"
	IssueContradiction          = "contradiction_with_pack"
)

// Validation is the outcome of Relevance.
type Validation struct {
	Passed bool     `json:"passed"`
	Score  int      `json:"score"`
	Issues []string `json:"issues"`
}

// Relevance checks text against spec without modifying it.
func Relevance(text string, spec AnswerSpec) Validation {
	var issues []string
	add := func(code string) {
		if !slices.Contains(issues, code) {
			issues = append(issues, code)
		}
	}

	if spec.Anchor != "" && !addressesAnchor(firstSentence(text, spec.RequiredSections), spec.Anchor) {
		add(IssueMissingAnchor)
	}

	for _, section := range spec.RequiredSections {
		if !textnorm.ContainsPhrase(text, section) {
			add(IssueMissingSections)
			break
		}
	}

	for _, g := range spec.RequiredAnyOf {
		if !textnorm.ContainsAny(text, g.Tokens) {
			add(IssueMissingAny + ":" + g.Name)
		}
	}

	if len(spec.PersonalizationTokens) > 0 && !textnorm.ContainsAny(text, spec.PersonalizationTokens) {
		add(IssueMissingPersonalization)
	}

	allowedURLs := urlSet(spec.AllowedURLs)
	for _, u := range urlRe.FindAllString(text, -1) {
		if !allowedURLs[normalizeURL(u)] {
			add(IssueURLOutOfPack)
			break
		}
	}
	for _, m := range idRefRe.FindAllStringSubmatch(text, -1) {
		if !containsFold(spec.AllowedIDs, m[1]) {
			add(IssueIDOutOfPack)
			break
		}
	}

	insufficient := textnorm.ContainsAny(text, insufficientDataPhrases)
	claims := extractClaims(text)
	if spec.EvidencePosts == 0 {
		if !insufficient {
			if textnorm.ContainsAny(text, strongClaims) {
				add(IssueStrongClaim)
			}
			if textnorm.ContainsAny(text, recommendationVerbs) {
				add(IssueRecommendation)
			}
			if len(claims) > 0 {
				add(IssueMetricNumber)
			}
		}
	} else {
		for _, c := range claims {
			if !matchesEvidence(c, spec.Evidence) {
				add(IssueMetricNumber)
				break
			}
		}
		if insufficient && !mentionsUncoveredTopic(text) {
			add(IssueContradiction)
		}
	}

	if issues == nil {
		issues = []string{}
	}
	return Validation{Passed: len(issues) == 0, Score: Score(issues), Issues: issues}
}

// Score is 100 minus 30 per distinct issue type, floored at 0. Issues that
// share a prefix before ":" count once.
func Score(issues []string) int {
	types := map[string]bool{}
	for _, is := range issues {
		kind, _, _ := strings.Cut(is, ":")
		types[kind] = true
	}
	return max(0, 100-30*len(types))
}

func mentionsUncoveredTopic(text string) bool {
	return textnorm.HasPrefixToken(text, exceptionStems) || textnorm.ContainsAny(text, exceptionPhrases)
}

// firstSentence returns the first sentence of the first line that is not a
// bare section header. A header followed by ":" and content yields that content.
func firstSentence(text string, sections []string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "#*_>- "))
		if line == "" {
			continue
		}
		norm := textnorm.Normalize(line)
		for _, s := range sections {
			if strings.HasPrefix(norm, textnorm.Normalize(s)) {
				if _, rest, ok := strings.Cut(line, ":"); ok {
					line = strings.TrimSpace(strings.Trim(rest, "*_ "))
				} else if norm == textnorm.Normalize(s) {
					line = ""
				}
				break
			}
		}
		if line == "" {
			continue
		}
		for i := 1; i < len(line)-1; i++ {
			if strings.IndexByte(".!?", line[i]) >= 0 && line[i+1] == ' ' {
				return line[:i+1]
			}
		}
		return line
	}
	return ""
}

// addressesAnchor is true on an exact phrase match or when the sentence
// shares at least two significant anchor tokens (or all of them, when the
// anchor has fewer than two).
func addressesAnchor(sentence, anchor string) bool {
	if sentence == "" {
		return false
	}
	if textnorm.ContainsPhrase(sentence, anchor) {
		return true
	}
	want := significantTokens(anchor)
	if len(want) == 0 {
		return true
	}
	have := map[string]bool{}
	for _, tok := range significantTokens(sentence) {
		have[tok] = true
	}
	shared := 0
	for _, tok := range want {
		if have[tok] {
			shared++
		}
	}
	return shared >= min(2, len(want))
}

func significantTokens(s string) []string {
	var out []string
	for _, tok := range textnorm.Tokens(s) {
		if len(tok) < 4 || anchorStopwords[tok] {
			continue
		}
		stem := strings.TrimSuffix(tok, "s")
		if !slices.Contains(out, stem) {
			out = append(out, stem)
		}
	}
	return out
}

func containsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
