// Package generate turns a context pack into a draft answer through an LLM.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/llm"
	"github.com/TobiSchelling/answerengine/internal/validate"
)

// ErrNoProvider is returned when no text generator is configured.
var ErrNoProvider = errors.New("no text generator configured")

const answerPrompt = `Você é um estrategista de conteúdo para criadores no Instagram. Responda em português do Brasil.

Pergunta do criador: %s

Use SOMENTE os dados do pacote de evidências abaixo. Regras:
- Comece a primeira frase respondendo diretamente a pergunta ("%s").
- Organize a resposta nas seções: %s.
- Cite apenas números que aparecem no pacote (métricas dos posts, médias, limites, deltas).
- Cite apenas links de posts que aparecem em top_posts. Nunca invente links ou ids.
- Se top_posts estiver vazio, diga que há dados insuficientes e não faça recomendações.
- Mencione o nicho ou as dores do criador quando existirem no perfil.
%s%s
Pacote de evidências (JSON):
%s

Responda apenas com o texto final em markdown, ou com JSON {"answer": "..."}.`

// Request is one draft request.
type Request struct {
	Pack *contextpack.ContextPack
	Spec validate.AnswerSpec
	// PreviousIssues are the validator findings on the last draft, if any.
	PreviousIssues []string
}

// Generator wraps an llm.Provider with the answer prompt.
type Generator struct {
	provider  llm.Provider
	maxTokens int
	logger    logrus.FieldLogger
}

// NewGenerator creates a Generator. provider may be nil, in which case Draft
// always returns ErrNoProvider.
func NewGenerator(provider llm.Provider, maxTokens int, logger logrus.FieldLogger) *Generator {
	if maxTokens <= 0 {
		maxTokens = 900
	}
	return &Generator{provider: provider, maxTokens: maxTokens, logger: logger}
}

// Available reports whether a provider is configured.
func (g *Generator) Available() bool {
	return g != nil && g.provider != nil
}

// Draft asks the provider for an answer grounded in req.Pack.
func (g *Generator) Draft(ctx context.Context, req Request) (string, error) {
	if !g.Available() {
		return "", ErrNoProvider
	}
	if req.Pack == nil {
		return "", fmt.Errorf("drafting answer: nil context pack")
	}

	prompt, err := BuildPrompt(req)
	if err != nil {
		return "", err
	}

	g.logger.WithFields(logrus.Fields{
		"pack_id":   req.Pack.ID,
		"retry":     len(req.PreviousIssues) > 0,
		"top_posts": len(req.Pack.TopPosts),
	}).Debug("Requesting draft")

	text, err := g.provider.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return "", fmt.Errorf("generating draft: %w", err)
	}
	return extractAnswer(text), nil
}

// BuildPrompt renders the prompt for req.
func BuildPrompt(req Request) (string, error) {
	packJSON, err := req.Pack.JSON()
	if err != nil {
		return "", fmt.Errorf("encoding context pack: %w", err)
	}

	sections := req.Spec.RequiredSections
	if len(sections) == 0 {
		sections = validate.DefaultSections
	}
	anchor := req.Spec.Anchor
	if anchor == "" {
		anchor = req.Pack.Query
	}

	var required string
	for _, g := range req.Spec.RequiredAnyOf {
		required += fmt.Sprintf("- Mencione pelo menos um destes termos (%s): %s.\n", g.Name, strings.Join(g.Tokens, ", "))
	}

	var feedback string
	if len(req.PreviousIssues) > 0 {
		feedback = "\nA versão anterior foi rejeitada pelo verificador pelos motivos: " +
			strings.Join(req.PreviousIssues, ", ") + ". Corrija todos eles.\n"
	}

	return fmt.Sprintf(answerPrompt,
		req.Pack.Query,
		anchor,
		strings.Join(sections, ", "),
		required,
		feedback,
		string(packJSON),
	), nil
}

// extractAnswer accepts raw markdown, a fenced block, or a {"answer": "..."} object.
func extractAnswer(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "```") {
		if parsed := llm.ParseJSONResponse(trimmed); parsed != nil {
			if answer := llm.String(parsed, "answer", ""); answer != "" {
				return strings.TrimSpace(answer)
			}
		}
	}
	if strings.HasPrefix(trimmed, "```") {
		lines := strings.Split(trimmed, "\n")
		if len(lines) > 2 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}
	return trimmed
}
