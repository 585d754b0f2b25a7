package push

import (
	"encoding/json"
	"fmt"
	"time"

	"timersync/backend/internal/model"
)

const (
	PriorityHigh   = 10
	PriorityNormal = 5

	completionLinger = 5 * time.Minute
	runningStaleness = 10 * time.Second
	defaultStaleness = time.Minute
)

// PriorityFor maps an update type to the APNs priority header.
func PriorityFor(t model.UpdateType) int {
	if t == model.UpdatePeriodic {
		return PriorityNormal
	}
	return PriorityHigh
}

type Update struct {
	Type  model.UpdateType
	State ContentState
	// End dismisses the activity instead of updating it.
	End bool
}

type alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type aps struct {
	Timestamp      int64           `json:"timestamp"`
	Event          string          `json:"event"`
	ContentState   json.RawMessage `json:"content-state"`
	StaleDate      int64           `json:"stale-date,omitempty"`
	DismissalDate  int64           `json:"dismissal-date,omitempty"`
	RelevanceScore float64         `json:"relevance-score,omitempty"`
	Alert          *alert          `json:"alert,omitempty"`
}

type notification struct {
	APS aps `json:"aps"`
}

// BuildNotification wraps a content state in the aps envelope. The timestamp
// lets the device drop updates older than one it already applied.
func BuildNotification(u Update, now time.Time) ([]byte, error) {
	state, err := u.State.Encode(EpochSeconds)
	if err != nil {
		return nil, fmt.Errorf("encode content state: %w", err)
	}

	payload := aps{
		Timestamp:      now.Unix(),
		Event:          "update",
		ContentState:   state,
		RelevanceScore: 50,
	}
	if PriorityFor(u.Type) == PriorityHigh {
		payload.RelevanceScore = 100
	}

	switch {
	case u.Type == model.UpdateCompletion || u.State.IsCompleted:
		payload.StaleDate = now.Add(completionLinger).Unix()
		payload.DismissalDate = now.Add(completionLinger).Unix()
		payload.Alert = &alert{Title: "Session complete", Body: u.State.CompletionMessage}
	case u.End:
		payload.Event = "end"
		payload.DismissalDate = now.Unix()
	case u.State.SessionType == SessionTypeCountdown && !u.State.IsPaused:
		payload.StaleDate = u.State.EndTime.Add(runningStaleness).Unix()
	default:
		payload.StaleDate = now.Add(defaultStaleness).Unix()
	}

	return json.Marshal(notification{APS: payload})
}
