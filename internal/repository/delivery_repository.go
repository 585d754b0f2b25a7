package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"timersync/backend/internal/model"
)

type DeliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) CreateDelivery(ctx context.Context, record *model.DeliveryRecord) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO push_deliveries (
			id, activity_id, session_id, update_type, payload, status, attempt_count,
			last_error, last_status_code, apns_id, created_at, updated_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ActivityID,
		record.SessionID,
		string(record.UpdateType),
		string(record.Payload),
		record.Status,
		record.AttemptCount,
		record.LastError,
		record.LastStatusCode,
		record.APNsID,
		formatTime(record.CreatedAt),
		formatTime(record.UpdatedAt),
		nullableTime(record.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) UpdateDelivery(ctx context.Context, record *model.DeliveryRecord) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE push_deliveries
		 SET status = ?,
		     attempt_count = ?,
		     last_error = ?,
		     last_status_code = ?,
		     apns_id = ?,
		     updated_at = ?,
		     finished_at = ?
		 WHERE id = ?`,
		record.Status,
		record.AttemptCount,
		record.LastError,
		record.LastStatusCode,
		record.APNsID,
		formatTime(record.UpdatedAt),
		nullableTime(record.FinishedAt),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	return nil
}

// ListByActivity returns the most recent deliveries of one activity, newest first.
func (r *DeliveryRepository) ListByActivity(ctx context.Context, activityID string, limit int) ([]model.DeliveryRecord, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, activity_id, session_id, update_type, payload, status, attempt_count,
		        last_error, last_status_code, apns_id, created_at, updated_at, finished_at
		 FROM push_deliveries
		 WHERE activity_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		activityID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	records := make([]model.DeliveryRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanDelivery(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return records, nil
}

// PruneFinished deletes acknowledged and terminally failed records that
// finished before the cutoff.
func (r *DeliveryRepository) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(
		ctx,
		`DELETE FROM push_deliveries
		 WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		model.DeliveryAcknowledged,
		model.DeliveryFailedTerminal,
		formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return result.RowsAffected()
}

func scanDelivery(s scanner) (*model.DeliveryRecord, error) {
	record := model.DeliveryRecord{}
	var updateType, payload, createdAt, updatedAt string
	var finishedAt sql.NullString
	err := s.Scan(
		&record.ID,
		&record.ActivityID,
		&record.SessionID,
		&updateType,
		&payload,
		&record.Status,
		&record.AttemptCount,
		&record.LastError,
		&record.LastStatusCode,
		&record.APNsID,
		&createdAt,
		&updatedAt,
		&finishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	record.UpdateType = model.UpdateType(updateType)
	record.Payload = []byte(payload)

	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse delivery created_at: %w", err)
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse delivery updated_at: %w", err)
	}
	if record.FinishedAt, err = parseNullableTime(finishedAt, "delivery finished_at"); err != nil {
		return nil, err
	}
	return &record, nil
}
