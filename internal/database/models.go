package database

import "time"

// AnswerRun is one recorded pass through the answer pipeline.
type AnswerRun struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Query        string    `json:"query"`
	Intent       string    `json:"intent"`
	Passed       bool      `json:"passed"`
	Score        int       `json:"score"`
	Issues       []string  `json:"issues"`
	UsedFallback bool      `json:"used_fallback"`
	Attempts     int       `json:"attempts"`
	Text         string    `json:"text"`
	Pack         []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Users           int
	Posts           int
	Profiles        int
	CachedBaselines int
	AnswerRuns      int
	PassedRuns      int
	FallbackRuns    int
	LastRunAt       *time.Time
}
