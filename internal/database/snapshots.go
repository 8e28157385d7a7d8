package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/TobiSchelling/answerengine/internal/model"
)

// Get returns an unexpired baseline snapshot, or nil. Together with Set it
// lets the database stand in for Redis as the baseline cache.
func (db *DB) Get(ctx context.Context, userID string, windowDays int) (*model.UserBaselines, error) {
	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT snapshot FROM baseline_snapshots
		WHERE user_id = ? AND window_days = ? AND expires_at > ?`,
		userID, windowDays, formatTime(db.now()),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var b model.UserBaselines
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Set stores a snapshot, replacing any earlier one for the same window.
func (db *DB) Set(ctx context.Context, userID string, b *model.UserBaselines, ttl time.Duration) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO baseline_snapshots (user_id, window_days, snapshot, expires_at)
		VALUES (?, ?, ?, ?)`,
		userID, b.WindowDays, string(data), formatTime(db.now().Add(ttl)),
	)
	return err
}

// InvalidateBaselines removes every cached snapshot for a user.
func (db *DB) InvalidateBaselines(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM baseline_snapshots WHERE user_id = ?", userID)
	return err
}

// PurgeExpiredBaselines deletes expired snapshots and returns how many were removed.
func (db *DB) PurgeExpiredBaselines(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM baseline_snapshots WHERE expires_at <= ?", formatTime(db.now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
