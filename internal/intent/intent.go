// Package intent classifies a creator's question and extracts the slots the
// validator needs: anchor phrase, metrics, format and timeframe.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/TobiSchelling/answerengine/internal/policy"
	"github.com/TobiSchelling/answerengine/internal/textnorm"
)

// Focus is the parsed shape of a question.
type Focus struct {
	Anchor    string          `json:"anchor"`
	Metrics   []policy.Metric `json:"metrics,omitempty"`
	Format    string          `json:"format,omitempty"`
	Timeframe string          `json:"timeframe,omitempty"`
	Missing   []string        `json:"missing,omitempty"`
}

// Classification is a classifier's output.
type Classification struct {
	Intent policy.Intent `json:"intent"`
	Focus  Focus         `json:"focus"`
}

// Classifier maps a question to an intent and its focus slots.
type Classifier interface {
	Classify(ctx context.Context, query string) (Classification, error)
}

type rule struct {
	intent  policy.Intent
	phrases []string
}

// Rules are checked in order; the first match wins.
var rules = []rule{
	{policy.IntentPricingSuggestion, []string{
		"quanto cobrar", "quanto devo cobrar", "preco", "precificar", "cobrar por", "media kit",
		"valor da publi", "tabela de precos", "pricing", "how much to charge", "how much should i charge",
	}},
	{policy.IntentWhyMyContentFlopped, []string{
		"flopou", "floparam", "flop", "nao performou", "nao bombou", "nao foi bem", "por que caiu",
		"por que meus posts caiu", "flopped", "why did my",
	}},
	{policy.IntentUnderperformanceDiagnosis, []string{
		"baixo desempenho", "pior desempenho", "piores posts", "performando mal", "queda de",
		"caiu o alcance", "caiu meu engajamento", "underperform", "underperforming",
	}},
	{policy.IntentTopReach, []string{
		"mais alcance", "maior alcance", "alcancaram mais", "mais alcancaram", "most reach", "top reach",
		"highest reach",
	}},
	{policy.IntentTopSaves, []string{
		"mais salvos", "mais salvamentos", "salvaram mais", "mais salvaram", "most saved", "top saves",
	}},
	{policy.IntentBestFormatsForUser, []string{
		"melhor formato", "melhores formatos", "qual formato", "que formato", "quais formatos",
		"best format", "best formats", "which format",
	}},
	{policy.IntentGrowthPlan, []string{
		"plano de crescimento", "estrategia de crescimento", "ganhar seguidores", "crescer no instagram",
		"crescer meu perfil", "como crescer", "growth plan", "grow my account",
	}},
	{policy.IntentContentIdeasForGoal, []string{
		"ideias de conteudo", "ideia de conteudo", "ideias de post", "o que postar", "sugestoes de conteudo",
		"pautas", "content ideas", "what should i post",
	}},
	{policy.IntentCommunityExamples, []string{
		"exemplos da comunidade", "outros criadores", "criadores parecidos", "criadores do meu nicho",
		"community examples", "other creators",
	}},
	{policy.IntentTopPerformanceInspirations, []string{
		"top", "melhores posts", "mais engajados", "inspiracao", "inspiracoes", "bombaram", "viralizaram",
		"destaques", "best posts", "top posts", "best performing",
	}},
}

// KeywordClassifier is the deterministic rule-based classifier.
type KeywordClassifier struct{}

// NewKeywordClassifier creates a keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify never fails.
func (KeywordClassifier) Classify(_ context.Context, query string) (Classification, error) {
	return Classification{Intent: DetectIntent(query), Focus: ParseFocus(query)}, nil
}

// DetectIntent returns the first intent whose phrases occur in query.
func DetectIntent(query string) policy.Intent {
	for _, r := range rules {
		if textnorm.ContainsAny(query, r.phrases) {
			return r.intent
		}
	}
	return policy.IntentGenericQnA
}

var fillerPrefixes = []string{
	"me traga", "me traz", "me mostre", "me mostra", "me diga", "me diz", "quero saber",
	"quero ver", "voce pode", "pode me", "por favor", "quais sao", "quais foram", "qual e", "qual foi",
	"show me", "tell me", "what are", "what is", "which are",
}

var timeframeRe = regexp.MustCompile(`(?:(?:nos|nas|dos|das)\s+)?(?:ultim[oa]s?\s+)?\d+\s+(?:dias|semanas|meses|days|weeks|months)|ultim[oa]s?\s+(?:semana|mes|ano|trimestre)|(?:este|esse|neste|nesse)\s+(?:mes|ano|trimestre|semana)|(?:last|this)\s+(?:week|month|year|quarter)|\b(?:hoje|ontem|semana passada|mes passado)\b`)

// ParseFocus extracts the anchor and slots from a question.
func ParseFocus(query string) Focus {
	metrics, _ := policy.DetectRequiredMetrics(policy.IntentGenericQnA, query)
	f := Focus{
		Anchor:  Anchor(query),
		Metrics: metrics,
		Format:  policy.DetectFormatLock(query),
	}
	if m := timeframeRe.FindString(textnorm.Normalize(query)); m != "" {
		f.Timeframe = m
	}
	f.Missing = missingSlots(f)
	return f
}

// Anchor strips conversational filler from the question, leaving the core
// phrase the answer's opening sentence must address.
func Anchor(query string) string {
	a := textnorm.Normalize(query)
	for changed := true; changed; {
		changed = false
		for _, p := range fillerPrefixes {
			if a == p {
				continue
			}
			if strings.HasPrefix(a, p+" ") {
				a = strings.TrimPrefix(a, p+" ")
				changed = true
			}
		}
	}
	return a
}
