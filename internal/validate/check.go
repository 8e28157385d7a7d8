package validate

import (
	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/intent"
)

// Report is the outcome of an offline check of an existing answer.
type Report struct {
	Sanitized SanitizeResult `json:"sanitized"`
	// Validation is nil when sanitizing left only the fallback message,
	// which is not scored.
	Validation *Validation `json:"validation,omitempty"`
	Spec       AnswerSpec  `json:"spec"`
}

// Check sanitizes text against pack and scores what remains, unless only
// the fallback message is left. An empty
// focus anchor is derived from the pack's query.
func Check(text string, pack *contextpack.ContextPack, focus intent.Focus) Report {
	if focus.Anchor == "" && pack != nil && pack.Query != "" {
		derived := intent.ParseFocus(pack.Query)
		focus.Anchor = derived.Anchor
		if focus.Format == "" {
			focus.Format = derived.Format
		}
		if len(focus.Metrics) == 0 {
			focus.Metrics = derived.Metrics
		}
	}
	spec := BuildSpec(focus, pack, nil)
	report := Report{Sanitized: SanitizeWithContext(text, pack), Spec: spec}
	if !report.Sanitized.UsedFallback {
		v := Relevance(report.Sanitized.Text, spec)
		report.Validation = &v
	}
	return report
}
