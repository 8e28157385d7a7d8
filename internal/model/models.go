package model

import (
	"math"
	"strings"
	"time"
)

// PostStats holds the metrics of a single post. Every field is optional.
type PostStats struct {
	TotalInteractions *float64 `json:"total_interactions,omitempty"`
	EngagementRate    *float64 `json:"engagement_rate,omitempty"`
	Reach             *float64 `json:"reach,omitempty"`
	Saves             *float64 `json:"saves,omitempty"`
	Shares            *float64 `json:"shares,omitempty"`
	Comments          *float64 `json:"comments,omitempty"`
	Likes             *float64 `json:"likes,omitempty"`
	WatchTime         *float64 `json:"watch_time,omitempty"`
	RetentionRate     *float64 `json:"retention_rate,omitempty"`
}

// CandidatePost is one historical post under consideration.
type CandidatePost struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id,omitempty"`
	Permalink string     `json:"permalink,omitempty"`
	PostedAt  time.Time  `json:"posted_at"`
	Formats   []string   `json:"formats"`
	Tags      []string   `json:"tags"`
	Stats     *PostStats `json:"stats"`
}

// Interactions returns the pre-aggregated total when present, otherwise the
// sum of likes, comments, shares and saves.
func (p CandidatePost) Interactions() float64 {
	if p.Stats == nil {
		return 0
	}
	if v := Value(p.Stats.TotalInteractions); v > 0 {
		return v
	}
	return Value(p.Stats.Likes) + Value(p.Stats.Comments) + Value(p.Stats.Shares) + Value(p.Stats.Saves)
}

// EngagementRate prefers the stored reach-based rate, falls back to
// interactions/reach, and returns nil when neither is available.
func (p CandidatePost) EngagementRate() *float64 {
	if p.Stats == nil {
		return nil
	}
	if er := p.Stats.EngagementRate; er != nil && finite(*er) {
		v := *er
		return &v
	}
	reach := Value(p.Stats.Reach)
	if reach <= 0 {
		return nil
	}
	v := p.Interactions() / reach
	return &v
}

// Metric returns a stat by name, coercing missing values to zero.
func (p CandidatePost) Metric(name string) float64 {
	if p.Stats == nil {
		return 0
	}
	switch name {
	case "saves":
		return Value(p.Stats.Saves)
	case "shares":
		return Value(p.Stats.Shares)
	case "comments":
		return Value(p.Stats.Comments)
	case "likes":
		return Value(p.Stats.Likes)
	case "reach":
		return Value(p.Stats.Reach)
	case "interactions":
		return p.Interactions()
	}
	return 0
}

// HasFormat reports whether the post carries the given format tag.
func (p CandidatePost) HasFormat(format string) bool {
	for _, f := range p.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// FormatBaseline is the baseline for posts of a single format.
type FormatBaseline struct {
	MedianInteractions   float64 `json:"median_interactions"`
	MedianEngagementRate float64 `json:"median_engagement_rate"`
	SampleSize           int     `json:"sample_size"`
}

// UserBaselines is a point-in-time snapshot of a user's rolling medians.
type UserBaselines struct {
	MedianInteractions   float64                   `json:"median_interactions"`
	MedianEngagementRate float64                   `json:"median_engagement_rate"`
	MedianReach          float64                   `json:"median_reach"`
	PerFormat            map[string]FormatBaseline `json:"per_format"`
	SampleSize           int                       `json:"sample_size"`
	ComputedAt           time.Time                 `json:"computed_at"`
	WindowDays           int                       `json:"window_days"`
}

// HasData reports whether the snapshot was computed from at least one post.
// A zero-sample snapshot means "insufficient data", not "target is zero".
func (b *UserBaselines) HasData() bool {
	return b != nil && b.SampleSize > 0
}

// Goal is the creator's stated primary objective.
type Goal string

const (
	GoalNone         Goal = ""
	GoalGrowth       Goal = "growth"
	GoalMonetization Goal = "monetization"
	GoalEngagement   Goal = "engagement"
)

// ProfileSignals is the compact, normalized view of a creator's onboarding data.
type ProfileSignals struct {
	Niches           []string `json:"niches,omitempty"`
	Goal             Goal     `json:"goal,omitempty"`
	PreferredFormats []string `json:"preferred_formats,omitempty"`
	Pains            []string `json:"pains,omitempty"`
	Tone             string   `json:"tone,omitempty"`
	FollowerCount    *int     `json:"follower_count,omitempty"`
}

// PrefersFormat reports whether any of formats is among the preferred ones.
func (s *ProfileSignals) PrefersFormat(formats []string) bool {
	if s == nil {
		return false
	}
	for _, pf := range s.PreferredFormats {
		for _, f := range formats {
			if strings.EqualFold(pf, f) {
				return true
			}
		}
	}
	return false
}

// PersonalizationTokens returns niche and pain terms an answer can reuse to
// show it was written for this creator.
func (s *ProfileSignals) PersonalizationTokens() []string {
	if s == nil {
		return nil
	}
	var out []string
	out = append(out, s.Niches...)
	out = append(out, s.Pains...)
	return out
}

// Value dereferences an optional metric, mapping nil and non-finite values to zero.
func Value(v *float64) float64 {
	if v == nil || !finite(*v) {
		return 0
	}
	return *v
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
