package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/answerengine/internal/baseline"
	"github.com/TobiSchelling/answerengine/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertPost inserts a post or replaces the stored copy with the same user and id.
func (db *DB) UpsertPost(ctx context.Context, p model.CandidatePost) error {
	return upsertPost(ctx, db.conn, p)
}

// UpsertPosts stores a batch of posts in one transaction and returns how many were written.
func (db *DB) UpsertPosts(ctx context.Context, posts []model.CandidatePost) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, p := range posts {
		if err := upsertPost(ctx, tx, p); err != nil {
			return 0, fmt.Errorf("post %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(posts), nil
}

func upsertPost(ctx context.Context, ex execer, p model.CandidatePost) error {
	if p.UserID == "" || p.ID == "" {
		return fmt.Errorf("post needs user_id and id")
	}
	formats, err := json.Marshal(lowerAll(p.Formats))
	if err != nil {
		return err
	}
	tags, err := json.Marshal(lowerAll(p.Tags))
	if err != nil {
		return err
	}
	var stats *string
	if p.Stats != nil {
		data, err := json.Marshal(p.Stats)
		if err != nil {
			return err
		}
		s := string(data)
		stats = &s
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO posts (user_id, id, permalink, posted_at, formats, tags, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			permalink = excluded.permalink,
			posted_at = excluded.posted_at,
			formats = excluded.formats,
			tags = excluded.tags,
			stats = excluded.stats`,
		p.UserID, p.ID, nullable(p.Permalink), formatTime(p.PostedAt), string(formats), string(tags), stats,
	)
	return err
}

// ListPosts returns a user's posts inside [Since, Until], most recent first.
// Formats and Tags match when the post carries any of the given values.
func (db *DB) ListPosts(ctx context.Context, q baseline.PostQuery) ([]model.CandidatePost, error) {
	query := `SELECT user_id, id, permalink, posted_at, formats, tags, stats FROM posts WHERE user_id = ?`
	args := []any{q.UserID}

	if !q.Since.IsZero() {
		query += " AND posted_at >= ?"
		args = append(args, formatTime(q.Since))
	}
	if !q.Until.IsZero() {
		query += " AND posted_at <= ?"
		args = append(args, formatTime(q.Until))
	}
	if clause, vals := anyOf("formats", q.Formats); clause != "" {
		query += clause
		args = append(args, vals...)
	}
	if clause, vals := anyOf("tags", q.Tags); clause != "" {
		query += clause
		args = append(args, vals...)
	}
	query += " ORDER BY posted_at DESC, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// GetPost returns a single post.
func (db *DB) GetPost(ctx context.Context, userID, postID string) (*model.CandidatePost, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id, id, permalink, posted_at, formats, tags, stats FROM posts WHERE user_id = ? AND id = ?`,
		userID, postID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, nil
	}
	return &posts[0], nil
}

// anyOf builds a clause matching rows whose JSON array column holds any value.
func anyOf(column string, values []string) (string, []any) {
	vals := lowerAll(values)
	if len(vals) == 0 {
		return "", nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return fmt.Sprintf(" AND EXISTS (SELECT 1 FROM json_each(posts.%s) WHERE lower(json_each.value) IN (%s))", column, placeholders), args
}

func scanPosts(rows *sql.Rows) ([]model.CandidatePost, error) {
	var posts []model.CandidatePost
	for rows.Next() {
		var p model.CandidatePost
		var permalink, stats *string
		var postedAt, formats, tags string
		if err := rows.Scan(&p.UserID, &p.ID, &permalink, &postedAt, &formats, &tags, &stats); err != nil {
			return nil, err
		}
		if permalink != nil {
			p.Permalink = *permalink
		}
		p.PostedAt = parseTime(postedAt)
		if err := json.Unmarshal([]byte(formats), &p.Formats); err != nil {
			p.Formats = nil
		}
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			p.Tags = nil
		}
		if stats != nil {
			var s model.PostStats
			if err := json.Unmarshal([]byte(*stats), &s); err == nil {
				p.Stats = &s
			}
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
