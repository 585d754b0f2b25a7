package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"timersync/backend/internal/model"
)

type TimerRepository struct {
	db *sql.DB
}

func NewTimerRepository(db *sql.DB) *TimerRepository {
	return &TimerRepository{db: db}
}

const timerSessionColumns = `id, user_id, activity_id, timer_type, mode, label,
		started_at, paused_at, total_paused_ms, planned_duration_ms, status,
		ended_at, last_action_at, version, created_at, updated_at`

func (r *TimerRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// GetActiveTx returns the running or paused session of one timer type.
func (r *TimerRepository) GetActiveTx(ctx context.Context, tx *sql.Tx, userID, timerType string) (*model.TimerSession, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+timerSessionColumns+`
		 FROM timer_sessions
		 WHERE user_id = ? AND timer_type = ? AND status IN ('running', 'paused')
		 ORDER BY started_at DESC
		 LIMIT 1`,
		userID,
		timerType,
	)
	return scanTimerSession(row)
}

func (r *TimerRepository) GetByIDTx(ctx context.Context, tx *sql.Tx, sessionID string) (*model.TimerSession, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT `+timerSessionColumns+` FROM timer_sessions WHERE id = ?`,
		sessionID,
	)
	return scanTimerSession(row)
}

func (r *TimerRepository) InsertTx(ctx context.Context, tx *sql.Tx, session *model.TimerSession) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO timer_sessions (`+timerSessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID,
		session.UserID,
		session.ActivityID,
		session.TimerType,
		string(session.Mode),
		session.Label,
		formatTime(session.StartedAt),
		nullableTime(session.PausedAt),
		session.TotalPausedDuration.Milliseconds(),
		session.PlannedDuration.Milliseconds(),
		session.Status,
		nullableTime(session.EndedAt),
		formatTime(session.LastActionAt),
		session.Version,
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert timer session: %w", err)
	}
	return nil
}

func (r *TimerRepository) UpdateTx(ctx context.Context, tx *sql.Tx, session *model.TimerSession) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE timer_sessions
		 SET activity_id = ?,
		     label = ?,
		     paused_at = ?,
		     total_paused_ms = ?,
		     status = ?,
		     ended_at = ?,
		     last_action_at = ?,
		     version = ?,
		     updated_at = ?
		 WHERE id = ?`,
		session.ActivityID,
		session.Label,
		nullableTime(session.PausedAt),
		session.TotalPausedDuration.Milliseconds(),
		session.Status,
		nullableTime(session.EndedAt),
		formatTime(session.LastActionAt),
		session.Version,
		formatTime(session.UpdatedAt),
		session.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update timer session: %w", err)
	}
	return nil
}

// ListHistory returns ended sessions, newest first.
func (r *TimerRepository) ListHistory(ctx context.Context, userID string, limit int) ([]model.TimerSession, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+timerSessionColumns+`
		 FROM timer_sessions
		 WHERE user_id = ? AND status IN ('stopped', 'completed')
		 ORDER BY started_at DESC
		 LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	return collectTimerSessions(rows, limit)
}

// ListRunning returns every session that is currently counting.
func (r *TimerRepository) ListRunning(ctx context.Context) ([]model.TimerSession, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+timerSessionColumns+`
		 FROM timer_sessions
		 WHERE status = 'running'
		 ORDER BY started_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}
	defer rows.Close()
	return collectTimerSessions(rows, 0)
}

func collectTimerSessions(rows *sql.Rows, capacity int) ([]model.TimerSession, error) {
	sessions := make([]model.TimerSession, 0, capacity)
	for rows.Next() {
		session, err := scanTimerSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timer sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTimerSession(s scanner) (*model.TimerSession, error) {
	session := model.TimerSession{}
	var mode string
	var startedAt, lastActionAt, createdAt, updatedAt string
	var pausedAt, endedAt sql.NullString
	var totalPausedMs, plannedMs int64
	err := s.Scan(
		&session.SessionID,
		&session.UserID,
		&session.ActivityID,
		&session.TimerType,
		&mode,
		&session.Label,
		&startedAt,
		&pausedAt,
		&totalPausedMs,
		&plannedMs,
		&session.Status,
		&endedAt,
		&lastActionAt,
		&session.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan timer session: %w", err)
	}

	session.Mode = model.SessionMode(mode)
	session.TotalPausedDuration = time.Duration(totalPausedMs) * time.Millisecond
	session.PlannedDuration = time.Duration(plannedMs) * time.Millisecond

	if session.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse session started_at: %w", err)
	}
	if session.LastActionAt, err = parseTime(lastActionAt); err != nil {
		return nil, fmt.Errorf("parse session last_action_at: %w", err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse session updated_at: %w", err)
	}
	if session.PausedAt, err = parseNullableTime(pausedAt, "session paused_at"); err != nil {
		return nil, err
	}
	if session.EndedAt, err = parseNullableTime(endedAt, "session ended_at"); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetLatestByActivity returns the newest session bound to a status surface.
func (r *TimerRepository) GetLatestByActivity(ctx context.Context, userID, activityID string) (*model.TimerSession, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+timerSessionColumns+`
		 FROM timer_sessions
		 WHERE user_id = ? AND activity_id = ?
		 ORDER BY started_at DESC
		 LIMIT 1`,
		userID,
		activityID,
	)
	return scanTimerSession(row)
}
