// Package anchor derives timer state from timestamps. Nothing here reads the
// clock: every function takes the current instant explicitly, so the same
// inputs always produce the same outputs in every process.
package anchor

import (
	"time"

	"timersync/backend/internal/model"
)

// Snapshot is the derived view of a session at one instant.
type Snapshot struct {
	Elapsed       time.Duration `json:"elapsed"`
	Remaining     time.Duration `json:"remaining"`
	IsRunning     bool          `json:"isRunning"`
	IsPaused      bool          `json:"isPaused"`
	IsCompleted   bool          `json:"isCompleted"`
	Progress      float64       `json:"progress"`
	ElapsedText   string        `json:"elapsedText"`
	RemainingText string        `json:"remainingText,omitempty"`
}

func Compute(s model.TimerSession, now time.Time) Snapshot {
	elapsed := Elapsed(s, now)
	remaining := Remaining(s, now)
	completed := IsCompleted(s, now)

	snap := Snapshot{
		Elapsed:     elapsed,
		Remaining:   remaining,
		IsPaused:    s.IsPaused(),
		IsCompleted: completed,
		IsRunning:   !s.IsEnded() && !s.IsPaused() && !completed,
		Progress:    Progress(s, now),
		ElapsedText: FormatClock(elapsed),
	}
	if s.IsCountdown() {
		snap.RemainingText = FormatClock(remaining)
	}
	return snap
}

// Reference is the instant elapsed time is measured up to: the end of the
// session, the start of the open pause, or now.
func Reference(s model.TimerSession, now time.Time) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	if s.PausedAt != nil {
		return *s.PausedAt
	}
	return now
}

func Elapsed(s model.TimerSession, now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	elapsed := Reference(s, now).Sub(s.StartedAt) - s.TotalPausedDuration
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Remaining is zero for open-ended sessions.
func Remaining(s model.TimerSession, now time.Time) time.Duration {
	if !s.IsCountdown() {
		return 0
	}
	remaining := s.PlannedDuration - Elapsed(s, now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func IsCompleted(s model.TimerSession, now time.Time) bool {
	if s.Status == model.StatusCompleted {
		return true
	}
	return s.IsCountdown() && !s.StartedAt.IsZero() && Remaining(s, now) == 0
}

func Progress(s model.TimerSession, now time.Time) float64 {
	if !s.IsCountdown() || s.PlannedDuration <= 0 {
		return 0
	}
	progress := float64(Elapsed(s, now)) / float64(s.PlannedDuration)
	if progress > 1 {
		return 1
	}
	return progress
}

// EndTime is the instant a countdown reaches zero given its current pause
// history. It is the only computation of the legacy endTime field.
func EndTime(s model.TimerSession, now time.Time) (time.Time, bool) {
	if !s.IsCountdown() || s.StartedAt.IsZero() {
		return time.Time{}, false
	}
	return Reference(s, now).Add(Remaining(s, now)), true
}

// Pause freezes the session. A countdown that already ran out is completed
// instead, so it can never sit paused at zero.
func Pause(s model.TimerSession, now time.Time) model.TimerSession {
	if s.IsEnded() || s.IsPaused() {
		return s
	}
	if IsCompleted(s, now) {
		return Complete(s, now)
	}
	at := clampToStart(s, now)
	s.PausedAt = &at
	s.Status = model.StatusPaused
	return s
}

func Resume(s model.TimerSession, now time.Time) model.TimerSession {
	if s.IsEnded() || !s.IsPaused() {
		return s
	}
	if IsCompleted(s, now) {
		return Complete(s, now)
	}
	s.TotalPausedDuration += pausedFor(s, now)
	s.PausedAt = nil
	s.Status = model.StatusRunning
	return s
}

// Stop ends the session. A countdown that already ran out is completed at the
// instant it reached zero instead.
func Stop(s model.TimerSession, now time.Time) model.TimerSession {
	if s.IsEnded() {
		return s
	}
	if IsCompleted(s, now) {
		return Complete(s, now)
	}
	if s.IsPaused() {
		s.TotalPausedDuration += pausedFor(s, now)
		s.PausedAt = nil
	}
	at := clampToStart(s, now)
	s.EndedAt = &at
	s.Status = model.StatusStopped
	return s
}

func Complete(s model.TimerSession, now time.Time) model.TimerSession {
	if s.IsEnded() || !IsCompleted(s, now) {
		return s
	}
	at := s.StartedAt.Add(s.TotalPausedDuration + s.PlannedDuration)
	s.PausedAt = nil
	s.EndedAt = &at
	s.Status = model.StatusCompleted
	return s
}

// Apply dispatches a control action. Actions that do not fit the current
// state return the session unchanged.
func Apply(s model.TimerSession, action model.ControlAction, now time.Time) model.TimerSession {
	switch action {
	case model.ActionPause:
		return Pause(s, now)
	case model.ActionResume:
		return Resume(s, now)
	case model.ActionStop:
		return Stop(s, now)
	case model.ActionComplete:
		return Complete(s, now)
	default:
		return s
	}
}

func pausedFor(s model.TimerSession, now time.Time) time.Duration {
	if s.PausedAt == nil {
		return 0
	}
	d := now.Sub(*s.PausedAt)
	if d < 0 {
		return 0
	}
	return d
}

func clampToStart(s model.TimerSession, now time.Time) time.Time {
	if now.Before(s.StartedAt) {
		return s.StartedAt
	}
	return now
}
