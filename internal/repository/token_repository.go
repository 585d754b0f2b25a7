package repository

import (
	"context"
	"database/sql"
	"fmt"

	"timersync/backend/internal/model"
)

type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Upsert registers or refreshes the push token of an activity and marks it active.
func (r *TokenRepository) Upsert(ctx context.Context, token *model.ActivityToken) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO activity_tokens (
			activity_id, user_id, push_token, topic, environment, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(activity_id) DO UPDATE SET
			push_token = excluded.push_token,
			topic = excluded.topic,
			environment = excluded.environment,
			active = 1,
			updated_at = excluded.updated_at
		WHERE activity_tokens.user_id = excluded.user_id`,
		token.ActivityID,
		token.UserID,
		token.PushToken,
		token.Topic,
		token.Environment,
		formatTime(token.CreatedAt),
		formatTime(token.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert activity token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, activityID string) (*model.ActivityToken, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT activity_id, user_id, push_token, topic, environment, active, created_at, updated_at
		 FROM activity_tokens
		 WHERE activity_id = ?`,
		activityID,
	)

	var token model.ActivityToken
	var active int
	var createdAt, updatedAt string
	if err := row.Scan(
		&token.ActivityID,
		&token.UserID,
		&token.PushToken,
		&token.Topic,
		&token.Environment,
		&active,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get activity token: %w", err)
	}
	token.Active = active == 1

	var err error
	if token.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse token created_at: %w", err)
	}
	if token.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse token updated_at: %w", err)
	}
	return &token, nil
}

func (r *TokenRepository) DeactivateToken(ctx context.Context, activityID string) error {
	if _, err := r.db.ExecContext(
		ctx,
		`UPDATE activity_tokens SET active = 0 WHERE activity_id = ?`,
		activityID,
	); err != nil {
		return fmt.Errorf("deactivate activity token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Delete(ctx context.Context, userID, activityID string) error {
	result, err := r.db.ExecContext(
		ctx,
		`DELETE FROM activity_tokens WHERE activity_id = ? AND user_id = ?`,
		activityID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete activity token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete activity token: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
