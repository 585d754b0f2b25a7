package sharedstore

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"timersync/backend/internal/model"
)

// Timestamps are stored as seconds since the Unix epoch with millisecond
// precision so every process decodes exactly the instant that was written.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func fromEpochSeconds(v float64) time.Time {
	return time.UnixMilli(int64(math.Round(v * 1000))).UTC()
}

// Truncate rounds t to the precision the store keeps.
func Truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

func durationSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

func fromDurationSeconds(v float64) time.Duration {
	return time.Duration(math.Round(v*1000)) * time.Millisecond
}

type sessionRecord struct {
	SessionID           string   `json:"sessionId"`
	ActivityID          string   `json:"activityId,omitempty"`
	TimerType           string   `json:"timerType"`
	Mode                string   `json:"mode"`
	Label               string   `json:"label"`
	StartedAt           float64  `json:"startedAt"`
	PausedAt            *float64 `json:"pausedAt,omitempty"`
	TotalPausedDuration float64  `json:"totalPausedDuration"`
	PlannedDuration     float64  `json:"plannedDuration"`
	Status              string   `json:"status"`
	EndedAt             *float64 `json:"endedAt,omitempty"`
	LastActionAt        float64  `json:"lastActionAt"`
	Version             int      `json:"version"`
}

func encodeSession(s model.TimerSession) ([]byte, error) {
	record := sessionRecord{
		SessionID:           s.SessionID,
		ActivityID:          s.ActivityID,
		TimerType:           s.TimerType,
		Mode:                string(s.Mode),
		Label:               s.Label,
		StartedAt:           epochSeconds(s.StartedAt),
		TotalPausedDuration: durationSeconds(s.TotalPausedDuration),
		PlannedDuration:     durationSeconds(s.PlannedDuration),
		Status:              s.Status,
		LastActionAt:        epochSeconds(s.LastActionAt),
		Version:             s.Version,
	}
	if s.PausedAt != nil {
		v := epochSeconds(*s.PausedAt)
		record.PausedAt = &v
	}
	if s.EndedAt != nil {
		v := epochSeconds(*s.EndedAt)
		record.EndedAt = &v
	}
	return json.Marshal(record)
}

func decodeSession(raw []byte) (*model.TimerSession, error) {
	var record sessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	if record.SessionID == "" || record.StartedAt <= 0 {
		return nil, fmt.Errorf("session record missing anchor fields")
	}
	mode := model.SessionMode(record.Mode)
	if !model.IsValidMode(mode) {
		return nil, fmt.Errorf("unknown session mode %q", record.Mode)
	}

	s := &model.TimerSession{
		SessionID:           record.SessionID,
		ActivityID:          record.ActivityID,
		TimerType:           model.NormalizeTimerType(record.TimerType),
		Mode:                mode,
		Label:               record.Label,
		StartedAt:           fromEpochSeconds(record.StartedAt),
		TotalPausedDuration: fromDurationSeconds(record.TotalPausedDuration),
		PlannedDuration:     fromDurationSeconds(record.PlannedDuration),
		Status:              record.Status,
		Version:             record.Version,
	}
	if record.LastActionAt > 0 {
		s.LastActionAt = fromEpochSeconds(record.LastActionAt)
	}
	if record.PausedAt != nil {
		t := fromEpochSeconds(*record.PausedAt)
		s.PausedAt = &t
	}
	if record.EndedAt != nil {
		t := fromEpochSeconds(*record.EndedAt)
		s.EndedAt = &t
	}
	return s, nil
}

type completionRecord struct {
	ElapsedTime float64 `json:"elapsedTime"`
	StartTime   float64 `json:"startTime"`
	MethodName  string  `json:"methodName"`
	Timestamp   float64 `json:"timestamp"`
}

func encodeCompletion(c model.CompletionSnapshot) ([]byte, error) {
	return json.Marshal(completionRecord{
		ElapsedTime: durationSeconds(c.ElapsedTime),
		StartTime:   epochSeconds(c.StartTime),
		MethodName:  c.MethodName,
		Timestamp:   epochSeconds(c.Timestamp),
	})
}

func decodeCompletion(raw []byte) (*model.CompletionSnapshot, error) {
	var record completionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &model.CompletionSnapshot{
		ElapsedTime: fromDurationSeconds(record.ElapsedTime),
		StartTime:   fromEpochSeconds(record.StartTime),
		MethodName:  record.MethodName,
		Timestamp:   fromEpochSeconds(record.Timestamp),
	}, nil
}

func encodeString(v string) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

func encodeBool(v bool) []byte {
	if v {
		return []byte("true")
	}
	return []byte("false")
}

func encodeTime(t time.Time) []byte {
	raw, _ := json.Marshal(epochSeconds(t))
	return raw
}

func encodeDuration(d time.Duration) []byte {
	raw, _ := json.Marshal(durationSeconds(d))
	return raw
}

func decodeString(raw []byte) (string, error) {
	var v string
	err := json.Unmarshal(raw, &v)
	return v, err
}

func decodeBool(raw []byte) (bool, error) {
	var v bool
	err := json.Unmarshal(raw, &v)
	return v, err
}

func decodeTime(raw []byte) (time.Time, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, err
	}
	return fromEpochSeconds(v), nil
}

func decodeDuration(raw []byte) (time.Duration, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return fromDurationSeconds(v), nil
}
