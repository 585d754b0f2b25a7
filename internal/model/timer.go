package model

import "time"

type SessionMode string

const (
	ModeCountdown SessionMode = "countdown"
	ModeOpenEnded SessionMode = "open_ended"
)

const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusStopped   = "stopped"
	StatusCompleted = "completed"
)

const (
	TimerTypeMain  = "main"
	TimerTypeQuick = "quick"
)

const DefaultLabel = "Practice"

// TimerSession is the authoritative state of one timed activity. Elapsed and
// remaining time are never stored; they are derived from the anchor fields.
type TimerSession struct {
	SessionID           string        `json:"sessionId"`
	UserID              string        `json:"userId,omitempty"`
	ActivityID          string        `json:"activityId,omitempty"`
	TimerType           string        `json:"timerType"`
	Mode                SessionMode   `json:"mode"`
	Label               string        `json:"label"`
	StartedAt           time.Time     `json:"startedAt"`
	PausedAt            *time.Time    `json:"pausedAt,omitempty"`
	TotalPausedDuration time.Duration `json:"totalPausedDuration"`
	PlannedDuration     time.Duration `json:"plannedDuration"`
	Status              string        `json:"status"`
	EndedAt             *time.Time    `json:"endedAt,omitempty"`
	LastActionAt        time.Time     `json:"lastActionAt"`
	Version             int           `json:"version"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

func (s TimerSession) IsPaused() bool {
	return s.PausedAt != nil
}

// IsEnded reports whether the session has been stopped or completed.
func (s TimerSession) IsEnded() bool {
	return s.Status == StatusStopped || s.Status == StatusCompleted
}

func (s TimerSession) IsCountdown() bool {
	return s.Mode == ModeCountdown
}

func IsValidMode(mode SessionMode) bool {
	return mode == ModeCountdown || mode == ModeOpenEnded
}

func NormalizeTimerType(timerType string) string {
	if timerType == "" {
		return TimerTypeMain
	}
	return timerType
}
