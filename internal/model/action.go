package model

import (
	"fmt"
	"time"
)

type ControlAction string

const (
	ActionPause  ControlAction = "pause"
	ActionResume ControlAction = "resume"
	ActionStop   ControlAction = "stop"

	// ActionComplete is never issued by a control surface; it records a
	// countdown reaching zero.
	ActionComplete ControlAction = "complete"
)

const SourceExtension = "extension"

func ParseControlAction(raw string) (ControlAction, error) {
	switch ControlAction(raw) {
	case ActionPause, ActionResume, ActionStop:
		return ControlAction(raw), nil
	default:
		return "", fmt.Errorf("unknown control action %q", raw)
	}
}

// ParseTransitionAction accepts every action a session can go through,
// including completion.
func ParseTransitionAction(raw string) (ControlAction, error) {
	if ControlAction(raw) == ActionComplete {
		return ActionComplete, nil
	}
	return ParseControlAction(raw)
}

// Priority orders actions for supersession: a pending stop is never replaced
// by a later pause or resume.
func (a ControlAction) Priority() int {
	if a == ActionStop || a == ActionComplete {
		return 2
	}
	return 1
}

// PendingAction is the control envelope written by the extension and consumed
// by the application. The payload always travels through the shared store.
type PendingAction struct {
	Action     ControlAction `json:"action"`
	SessionID  string        `json:"sessionId,omitempty"`
	ActivityID string        `json:"activityId"`
	TimerType  string        `json:"timerType"`
	IssuedAt   time.Time     `json:"issuedAt"`
	Source     string        `json:"source"`
}

// Key identifies one delivery of an action; re-delivery of the same key is a no-op.
func (a PendingAction) Key() string {
	return fmt.Sprintf("%s:%s:%d", a.SessionID, a.Action, a.IssuedAt.UnixMilli())
}

// CompletionSnapshot lets the foregrounded application render a summary
// before it has re-derived the session.
type CompletionSnapshot struct {
	ElapsedTime time.Duration `json:"elapsedTime"`
	StartTime   time.Time     `json:"startTime"`
	MethodName  string        `json:"methodName"`
	Timestamp   time.Time     `json:"timestamp"`
}
