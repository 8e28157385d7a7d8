// Package validate checks generated answers against the evidence pack.
// Findings are returned as values; callers decide whether to regenerate or
// fall back.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/policy"
)

// SanitizeResult is the outcome of SanitizeWithContext.
type SanitizeResult struct {
	Text         string `json:"text"`
	RemovedLines int    `json:"removed_lines"`
	UsedFallback bool   `json:"used_fallback"`
}

// SanitizeWithContext removes every line that carries a URL outside the
// pack's permalinks. An empty pack, or a draft with nothing left after
// removal, is replaced by FallbackMessage.
func SanitizeWithContext(text string, pack *contextpack.ContextPack) SanitizeResult {
	lines := strings.Split(text, "\n")

	if pack.Empty() {
		return SanitizeResult{
			Text:         FallbackMessage(pack),
			RemovedLines: countContent(lines),
			UsedFallback: true,
		}
	}

	allowed := urlSet(pack.Permalinks())
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, line := range lines {
		if hasForeignURL(line, allowed) {
			removed++
			continue
		}
		kept = append(kept, line)
	}

	if countContent(kept) == 0 {
		return SanitizeResult{Text: FallbackMessage(pack), RemovedLines: removed, UsedFallback: true}
	}
	if removed == 0 {
		return SanitizeResult{Text: text}
	}
	return SanitizeResult{Text: strings.Join(kept, "\n"), RemovedLines: removed}
}

func hasForeignURL(line string, allowed map[string]bool) bool {
	for _, u := range urlRe.FindAllString(line, -1) {
		if !allowed[normalizeURL(u)] {
			return true
		}
	}
	return false
}

func urlSet(urls []string) map[string]bool {
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[normalizeURL(u)] = true
	}
	return set
}

// normalizeURL drops trailing punctuation, a trailing slash and the scheme
// case so "https://instagram.com/p/abc/." equals "https://instagram.com/p/abc".
func normalizeURL(u string) string {
	u = strings.TrimRight(u, ".,;:!?*_")
	u = strings.TrimSuffix(u, "/")
	return strings.ToLower(u)
}

func countContent(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

// FallbackMessage is the deterministic answer used when the evidence cannot
// support a generated one. It names the cutoffs and offers to relax them.
func FallbackMessage(pack *contextpack.ContextPack) string {
	var b strings.Builder
	b.WriteString("Não encontrei posts suficientes no seu histórico que passem pelos critérios desta pergunta, ")
	b.WriteString("então não vou inventar números nem recomendações sem evidência (dados insuficientes).")

	if pack != nil {
		th := pack.Policy.Thresholds
		var criteria []string
		criteria = append(criteria, fmt.Sprintf("mínimo de %s interações", formatCount(th.EffectiveInteractions)))
		if th.EffectiveEngagementRate != nil {
			criteria = append(criteria, fmt.Sprintf("taxa de engajamento de pelo menos %s", formatPercent(*th.EffectiveEngagementRate)))
		}
		if pack.Policy.FormatLock != "" {
			criteria = append(criteria, "apenas "+pack.Policy.FormatLock)
		}
		for _, m := range pack.Policy.RequiredMetrics {
			switch m {
			case policy.MetricReach:
				criteria = append(criteria, "alcance registrado")
			case policy.MetricSaves:
				criteria = append(criteria, "salvamentos registrados")
			case policy.MetricShares:
				criteria = append(criteria, "compartilhamentos registrados")
			}
		}
		fmt.Fprintf(&b, "\n\nCritérios usados (últimos %d dias): %s.", pack.Policy.WindowDays, strings.Join(criteria, "; "))
		if pack.Baselines == nil || pack.Baselines.SampleSize == 0 {
			b.WriteString(" Ainda não há histórico suficiente para calcular sua média.")
		}
	}

	b.WriteString("\n\nSe quiser, posso relaxar esses critérios (reduzir o mínimo de interações, liberar outros formatos ou ampliar o período) e mostrar os melhores posts disponíveis.")
	return b.String()
}

// formatCount renders an integer count with pt-BR thousands separators.
func formatCount(v float64) string {
	s := strconv.FormatInt(int64(math.Round(v)), 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// formatPercent renders a ratio as a pt-BR percentage ("0.046" -> "4,60%").
func formatPercent(ratio float64) string {
	return strings.Replace(strconv.FormatFloat(ratio*100, 'f', 2, 64), ".", ",", 1) + "%"
}
