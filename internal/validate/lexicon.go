package validate

import "github.com/TobiSchelling/answerengine/internal/policy"

// Section headers every answer must carry.
var DefaultSections = []string{"Diagnóstico", "Plano Estratégico", "Próximo Passo"}

var strongClaims = []string{
	"melhor", "melhores", "sempre", "com certeza", "certamente", "garantido", "garantida",
	"garanto", "definitivamente", "o segredo", "nunca falha", "sem duvida",
	"best", "always", "guaranteed", "definitely",
}

var recommendationVerbs = []string{
	"recomendo", "recomendamos", "recomendaria", "poste", "postar mais", "priorize", "priorizar",
	"aposte", "invista", "foque", "focar em", "faca mais", "repita", "use mais",
	"i recommend", "you should post", "prioritize", "focus on",
}

var insufficientDataPhrases = []string{
	"dados insuficientes", "nao ha dados suficientes", "sem dados suficientes", "nao tenho dados",
	"nao temos dados", "nao encontrei posts", "nao encontrei dados", "historico insuficiente",
	"amostra insuficiente", "poucos dados", "evidencia insuficiente", "sem evidencias",
	"insufficient data", "not enough data",
}

// Topics the pack never covers; admitting a gap about them is not a
// contradiction.
var exceptionStems = []string{
	"retenc", "retention", "demograf", "demographic", "benchmark", "concorren", "competitor",
}

var exceptionPhrases = []string{"faixa etaria", "idade do publico", "genero do publico", "localizacao do publico"}

// metricStems tie a number to a metric when one appears next to it.
var metricStems = map[policy.Metric][]string{
	policy.MetricReach:          {"alcanc", "reach", "impress", "visualiz", "views", "contas"},
	policy.MetricSaves:          {"salv", "saves", "saved"},
	policy.MetricShares:         {"compartilh", "shares", "envio", "enviad"},
	policy.MetricComments:       {"coment", "comment"},
	policy.MetricLikes:          {"curtid", "likes", "like"},
	policy.MetricInteractions:   {"interac", "interact"},
	policy.MetricEngagementRate: {"engaj", "engag", "taxa"},
	metricFollowers:             {"seguidor", "follower"},
}

// metricSynonyms are the tokens that satisfy a required metric group.
var metricSynonyms = map[policy.Metric][]string{
	policy.MetricReach:          {"alcance", "alcancou", "alcancaram", "contas alcancadas", "reach"},
	policy.MetricSaves:          {"salvamentos", "salvos", "salvaram", "salvar", "saves"},
	policy.MetricShares:         {"compartilhamentos", "compartilhados", "compartilharam", "envios", "shares"},
	policy.MetricComments:       {"comentarios", "comentaram", "comments"},
	policy.MetricLikes:          {"curtidas", "likes"},
	policy.MetricInteractions:   {"interacoes", "interacao", "engajamento", "interactions"},
	policy.MetricEngagementRate: {"taxa de engajamento", "engajamento", "engagement rate", "engagement"},
}

var formatSynonyms = map[string][]string{
	"reel":      {"reel", "reels"},
	"carrossel": {"carrossel", "carrosseis", "carousel"},
	"foto":      {"foto", "fotos", "imagem", "imagens"},
	"story":     {"story", "stories"},
	"live":      {"live", "lives"},
}

var timeframeUnits = []string{
	"dia", "dias", "semana", "semanas", "mes", "meses", "ano", "anos", "trimestre",
	"hoje", "ontem", "day", "days", "week", "weeks", "month", "months", "year", "quarter",
}

// claimConnectors are skipped when measuring how far a number sits from
// its metric term.
var claimConnectors = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true, "em": true, "no": true,
	"na": true, "nos": true, "nas": true, "com": true, "e": true, "a": true, "o": true,
	"as": true, "os": true, "um": true, "uma": true, "of": true, "in": true, "the": true, "and": true,
}

var (
	countUnits  = map[string]bool{"posts": true, "post": true, "publicacoes": true, "publicacao": true}
	windowUnits = map[string]bool{"dias": true, "dia": true, "days": true}
	windowCues  = map[string]bool{"ultimos": true, "ultimas": true, "last": true, "past": true, "janela": true, "periodo": true, "em": true, "in": true, "durante": true}
)

var anchorStopwords = map[string]bool{
	"quais": true, "qual": true, "como": true, "para": true, "pra": true, "meus": true, "minhas": true,
	"minha": true, "mais": true, "menos": true, "sobre": true, "esse": true, "essa": true, "isso": true,
	"este": true, "esta": true, "voce": true, "voces": true, "quando": true, "onde": true,
	"porque": true, "pelo": true, "pela": true, "posts": true, "post": true, "conteudo": true,
	"what": true, "which": true, "with": true, "from": true, "have": true, "about": true, "that": true,
	"this": true, "your": true,
}

const metricFollowers policy.Metric = "followers"
