package database

import (
	"context"
	"database/sql"
	"encoding/json"
)

// InsertAnswerRun records a pipeline run. CreatedAt defaults to now.
func (db *DB) InsertAnswerRun(ctx context.Context, r AnswerRun) error {
	issues, err := json.Marshal(r.Issues)
	if err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = db.now()
	}
	if r.Attempts == 0 {
		r.Attempts = 1
	}
	var pack *string
	if len(r.Pack) > 0 {
		s := string(r.Pack)
		pack = &s
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO answer_runs
		(id, user_id, query, intent, passed, score, issues, used_fallback, attempts, answer_text, pack, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Query, r.Intent, boolInt(r.Passed), r.Score, string(issues),
		boolInt(r.UsedFallback), r.Attempts, r.Text, pack, formatTime(r.CreatedAt),
	)
	return err
}

const runColumns = `id, user_id, query, intent, passed, score, issues, used_fallback, attempts, answer_text, pack, created_at`

// GetAnswerRun returns a run by id, or nil.
func (db *DB) GetAnswerRun(ctx context.Context, id string) (*AnswerRun, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+runColumns+" FROM answer_runs WHERE id = ?", id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListAnswerRuns returns the most recent runs, newest first. userID filters when set.
func (db *DB) ListAnswerRuns(ctx context.Context, userID string, limit int) ([]AnswerRun, error) {
	query := "SELECT " + runColumns + " FROM answer_runs"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []AnswerRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(DISTINCT user_id) FROM posts", &s.Users},
		{"SELECT COUNT(*) FROM posts", &s.Posts},
		{"SELECT COUNT(*) FROM profiles", &s.Profiles},
		{"SELECT COUNT(*) FROM baseline_snapshots", &s.CachedBaselines},
		{"SELECT COUNT(*) FROM answer_runs", &s.AnswerRuns},
		{"SELECT COUNT(*) FROM answer_runs WHERE passed = 1", &s.PassedRuns},
		{"SELECT COUNT(*) FROM answer_runs WHERE used_fallback = 1", &s.FallbackRuns},
	}
	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var last *string
	if err := db.conn.QueryRowContext(ctx, "SELECT MAX(created_at) FROM answer_runs").Scan(&last); err != nil {
		return nil, err
	}
	if last != nil {
		t := parseTime(*last)
		s.LastRunAt = &t
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*AnswerRun, error) {
	var r AnswerRun
	var passed, fallback int
	var issues, pack *string
	var createdAt string
	if err := row.Scan(&r.ID, &r.UserID, &r.Query, &r.Intent, &passed, &r.Score, &issues,
		&fallback, &r.Attempts, &r.Text, &pack, &createdAt); err != nil {
		return nil, err
	}
	r.Passed = passed != 0
	r.UsedFallback = fallback != 0
	r.CreatedAt = parseTime(createdAt)
	if issues != nil {
		if err := json.Unmarshal([]byte(*issues), &r.Issues); err != nil {
			r.Issues = nil
		}
	}
	if pack != nil {
		r.Pack = []byte(*pack)
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

