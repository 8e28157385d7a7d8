package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/TobiSchelling/answerengine/internal/model"
)

// UpsertProfile stores the normalized profile signals for a user.
func (db *DB) UpsertProfile(ctx context.Context, userID string, signals model.ProfileSignals) error {
	data, err := json.Marshal(signals)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, signals, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET signals = excluded.signals, updated_at = excluded.updated_at`,
		userID, string(data), formatTime(db.now()),
	)
	return err
}

// GetProfile returns a user's profile signals, or nil when none was imported.
func (db *DB) GetProfile(ctx context.Context, userID string) (*model.ProfileSignals, error) {
	var data string
	err := db.conn.QueryRowContext(ctx, "SELECT signals FROM profiles WHERE user_id = ?", userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s model.ProfileSignals
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
