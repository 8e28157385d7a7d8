// Package profile turns raw onboarding answers into the compact signal set
// the ranker and validator consume.
package profile

import (
	"strings"

	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/textnorm"
)

// Onboarding is the raw preference data a creator filled in.
type Onboarding struct {
	Niche            string   `json:"niche,omitempty"`
	Niches           []string `json:"niches,omitempty"`
	Goal             string   `json:"goal,omitempty"`
	PreferredFormats []string `json:"preferred_formats,omitempty"`
	Pains            []string `json:"pains,omitempty"`
	Tone             string   `json:"tone,omitempty"`
	FollowerCount    *int     `json:"follower_count,omitempty"`
}

var goalSynonyms = map[string]model.Goal{
	"growth":        model.GoalGrowth,
	"grow":          model.GoalGrowth,
	"crescimento":   model.GoalGrowth,
	"crescer":       model.GoalGrowth,
	"seguidores":    model.GoalGrowth,
	"alcance":       model.GoalGrowth,
	"monetization":  model.GoalMonetization,
	"monetize":      model.GoalMonetization,
	"monetizacao":   model.GoalMonetization,
	"monetizar":     model.GoalMonetization,
	"vendas":        model.GoalMonetization,
	"vender":        model.GoalMonetization,
	"publis":        model.GoalMonetization,
	"parcerias":     model.GoalMonetization,
	"engagement":    model.GoalEngagement,
	"engajamento":   model.GoalEngagement,
	"engajar":       model.GoalEngagement,
	"comunidade":    model.GoalEngagement,
	"community":     model.GoalEngagement,
}

var formatSynonyms = map[string]string{
	"reel":       "reel",
	"reels":      "reel",
	"video":      "reel",
	"videos":     "reel",
	"carrossel":  "carrossel",
	"carrosseis": "carrossel",
	"carousel":   "carrossel",
	"carousels":  "carrossel",
	"foto":       "foto",
	"fotos":      "foto",
	"photo":      "foto",
	"photos":     "foto",
	"imagem":     "foto",
	"image":      "foto",
	"story":      "story",
	"stories":    "story",
	"storys":     "story",
	"live":       "live",
	"lives":      "live",
}

// Build normalizes onboarding data. Values are lowercased, trimmed and
// de-duplicated with their first-seen order preserved.
func Build(o Onboarding) model.ProfileSignals {
	niches := make([]string, 0, len(o.Niches)+1)
	if o.Niche != "" {
		niches = append(niches, o.Niche)
	}
	niches = append(niches, o.Niches...)

	formats := make([]string, 0, len(o.PreferredFormats))
	for _, f := range o.PreferredFormats {
		formats = append(formats, CanonicalFormat(f))
	}

	return model.ProfileSignals{
		Niches:           dedupe(niches),
		Goal:             NormalizeGoal(o.Goal),
		PreferredFormats: dedupe(formats),
		Pains:            dedupe(o.Pains),
		Tone:             strings.ToLower(strings.TrimSpace(o.Tone)),
		FollowerCount:    o.FollowerCount,
	}
}

// NormalizeGoal maps a free-text goal onto one of the known objectives.
// The first recognised token wins; unknown goals map to GoalNone.
func NormalizeGoal(goal string) model.Goal {
	for _, tok := range textnorm.Tokens(goal) {
		if g, ok := goalSynonyms[tok]; ok {
			return g
		}
	}
	return model.GoalNone
}

// CanonicalFormat maps a format name to its canonical tag. Unknown formats
// are returned folded and trimmed.
func CanonicalFormat(format string) string {
	folded := strings.TrimSpace(textnorm.Fold(format))
	if f, ok := formatSynonyms[folded]; ok {
		return f
	}
	return folded
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
