// Package contextpack assembles the evidence pack every generated answer is
// checked against.
package contextpack

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/policy"
	"github.com/TobiSchelling/answerengine/internal/rank"
)

// Post is the public-safe view of a qualifying candidate.
type Post struct {
	ID                     string   `json:"id"`
	Permalink              string   `json:"permalink,omitempty"`
	Formats                []string `json:"formats"`
	Topics                 []string `json:"topics,omitempty"`
	PostedAt               string   `json:"posted_at,omitempty"`
	Interactions           float64  `json:"interactions"`
	EngagementRate         *float64 `json:"engagement_rate,omitempty"`
	Reach                  *float64 `json:"reach,omitempty"`
	Saves                  *float64 `json:"saves,omitempty"`
	Shares                 *float64 `json:"shares,omitempty"`
	Comments               *float64 `json:"comments,omitempty"`
	Likes                  *float64 `json:"likes,omitempty"`
	DeltaInteractionsPct   *float64 `json:"delta_interactions_pct,omitempty"`
	DeltaEngagementRatePct *float64 `json:"delta_engagement_rate_pct,omitempty"`
	DeltaReachPct          *float64 `json:"delta_reach_pct,omitempty"`
	Score                  float64  `json:"score"`
}

// PolicySummary is the subset of the policy the pack exposes.
type PolicySummary struct {
	Intent          policy.Intent     `json:"intent"`
	MaxPosts        int               `json:"max_posts"`
	WindowDays      int               `json:"window_days"`
	FormatLock      string            `json:"format_lock,omitempty"`
	RequiredMetrics []policy.Metric   `json:"required_metrics,omitempty"`
	Thresholds      policy.Thresholds `json:"thresholds"`
}

// ContextPack is the single serializable unit of evidence for one answer.
type ContextPack struct {
	ID             string                `json:"id"`
	GeneratedAt    time.Time             `json:"generated_at"`
	Query          string                `json:"query"`
	Intent         policy.Intent         `json:"intent"`
	Profile        *model.ProfileSignals `json:"profile,omitempty"`
	Baselines      *model.UserBaselines  `json:"baselines,omitempty"`
	Policy         PolicySummary         `json:"policy"`
	TopPosts       []Post                `json:"top_posts"`
	CandidateCount int                   `json:"candidate_count"`
	QualifiedCount int                   `json:"qualified_count"`
	Notes          []string              `json:"notes,omitempty"`
	Relaxations    []string              `json:"relaxations,omitempty"`
}

// Input carries the assembler's inputs.
type Input struct {
	// ID is generated when empty.
	ID          string
	Query       string
	Policy      policy.Policy
	Ranking     rank.Result
	Baselines   *model.UserBaselines
	Profile     *model.ProfileSignals
	Relaxations []string
	Now         time.Time
}

// Assemble builds the pack. Only passing candidates are included, capped at
// the policy's MaxPosts, and every number is copied from the ranking.
func Assemble(in Input) *ContextPack {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	pack := &ContextPack{
		ID:          id,
		GeneratedAt: in.Now,
		Query:       in.Query,
		Intent:      in.Policy.Intent,
		Profile:     in.Profile,
		Baselines:   in.Baselines,
		Policy: PolicySummary{
			Intent:          in.Policy.Intent,
			MaxPosts:        in.Policy.MaxPosts,
			WindowDays:      in.Policy.WindowDays,
			FormatLock:      in.Policy.FormatLock,
			RequiredMetrics: in.Policy.RequiredMetrics,
			Thresholds:      in.Policy.Thresholds,
		},
		TopPosts:       []Post{},
		CandidateCount: len(in.Ranking.All),
		Relaxations:    in.Relaxations,
	}

	for _, rc := range in.Ranking.All {
		if rc.PassesThreshold {
			pack.QualifiedCount++
		}
	}
	for _, rc := range in.Ranking.Ranked {
		if !rc.PassesThreshold {
			continue
		}
		if in.Policy.MaxPosts > 0 && len(pack.TopPosts) >= in.Policy.MaxPosts {
			break
		}
		pack.TopPosts = append(pack.TopPosts, publicPost(rc))
	}

	pack.Notes = notes(in)
	return pack
}

func publicPost(rc rank.RankedCandidate) Post {
	p := Post{
		ID:                     rc.Post.ID,
		Permalink:              rc.Post.Permalink,
		Formats:                rc.Post.Formats,
		Topics:                 rc.Post.Tags,
		Interactions:           rc.Interactions,
		EngagementRate:         rc.EngagementRate,
		DeltaInteractionsPct:   rc.DeltaInteractionsPct,
		DeltaEngagementRatePct: rc.DeltaEngagementRatePct,
		DeltaReachPct:          rc.DeltaReachPct,
		Score:                  rc.Score,
	}
	if !rc.Post.PostedAt.IsZero() {
		p.PostedAt = rc.Post.PostedAt.Format("2006-01-02")
	}
	if s := rc.Post.Stats; s != nil {
		p.Reach = s.Reach
		p.Saves = s.Saves
		p.Shares = s.Shares
		p.Comments = s.Comments
		p.Likes = s.Likes
	}
	return p
}

func notes(in Input) []string {
	var out []string
	if in.Policy.FormatLock != "" {
		out = append(out, "format_locked="+in.Policy.FormatLock)
	}
	if len(in.Policy.RequiredMetrics) > 0 {
		names := make([]string, len(in.Policy.RequiredMetrics))
		for i, m := range in.Policy.RequiredMetrics {
			names[i] = string(m)
		}
		out = append(out, "required_metrics="+strings.Join(names, ","))
	}
	out = append(out, fmt.Sprintf("strict_mode=%t", in.Policy.Thresholds.StrictMode))

	sample := 0
	if in.Baselines != nil {
		sample = in.Baselines.SampleSize
	}
	out = append(out, fmt.Sprintf("baseline_sample=%d", sample))
	if sample == 0 {
		out = append(out, "insufficient_baseline")
	}
	if in.Policy.Thresholds.EffectiveEngagementRate == nil {
		out = append(out, "er_gate_disabled")
	}
	out = append(out, in.Policy.Warnings...)
	return out
}

// Empty reports whether the pack holds no qualifying posts.
func (p *ContextPack) Empty() bool {
	return p == nil || len(p.TopPosts) == 0
}

// Permalinks returns the permalinks of the qualifying posts.
func (p *ContextPack) Permalinks() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, tp := range p.TopPosts {
		if tp.Permalink != "" {
			out = append(out, tp.Permalink)
		}
	}
	return out
}

// PostIDs returns the ids of the qualifying posts.
func (p *ContextPack) PostIDs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.TopPosts))
	for i, tp := range p.TopPosts {
		out[i] = tp.ID
	}
	return out
}

// JSON serializes the pack for prompts and storage.
func (p *ContextPack) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding context pack: %w", err)
	}
	return data, nil
}

// Parse decodes a pack previously produced by JSON.
func Parse(data []byte) (*ContextPack, error) {
	var p ContextPack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding context pack: %w", err)
	}
	return &p, nil
}
