// Package push builds live activity payloads from timer sessions and delivers
// them through a rate limited, retrying pipeline.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"timersync/backend/internal/anchor"
	"timersync/backend/internal/model"
)

var ErrUnknownShape = errors.New("unrecognized content state")

const (
	SessionTypeCountdown = "countdown"
	SessionTypeCountup   = "countup"
)

// openEndedHorizon is how far ahead the legacy endTime is placed for sessions
// without a planned duration.
const openEndedHorizon = 8 * time.Hour

type Encoding int

const (
	// EpochSeconds is used on the push channel.
	EpochSeconds Encoding = iota
	// ISO8601 is used by the HTTP API.
	ISO8601
)

// ContentState is the dynamic state of a live activity. The first block is
// the current schema; the second is the legacy projection older clients read.
type ContentState struct {
	StartedAt           time.Time
	PausedAt            *time.Time
	Duration            time.Duration
	MethodName          string
	SessionType         string
	IsCompleted         bool
	CompletionMessage   string
	TotalPausedDuration time.Duration

	StartTime             time.Time
	EndTime               time.Time
	IsPaused              bool
	LastUpdateTime        time.Time
	ElapsedAtLastUpdate   time.Duration
	RemainingAtLastUpdate time.Duration

	// Migrated is set when the state was decoded from a legacy-only payload.
	Migrated bool
}

func BuildContentState(s model.TimerSession, now time.Time) ContentState {
	snap := anchor.Compute(s, now)
	ref := anchor.Reference(s, now)

	cs := ContentState{
		StartedAt:           s.StartedAt,
		PausedAt:            s.PausedAt,
		MethodName:          s.Label,
		SessionType:         SessionTypeCountup,
		IsCompleted:         snap.IsCompleted,
		TotalPausedDuration: s.TotalPausedDuration,

		StartTime:             ref.Add(-snap.Elapsed),
		IsPaused:              snap.IsPaused,
		LastUpdateTime:        now,
		ElapsedAtLastUpdate:   snap.Elapsed,
		RemainingAtLastUpdate: snap.Remaining,
	}
	if s.IsCountdown() {
		cs.SessionType = SessionTypeCountdown
		cs.Duration = s.PlannedDuration
	}
	if end, ok := anchor.EndTime(s, now); ok {
		cs.EndTime = end
	} else {
		cs.EndTime = ref.Add(openEndedHorizon)
	}
	if cs.IsCompleted {
		cs.CompletionMessage = CompletionMessage(s.Label)
		cs.PausedAt = nil
		cs.IsPaused = false
	}
	return cs
}

func CompletionMessage(label string) string {
	if label == "" {
		label = "training"
	}
	return fmt.Sprintf("Great job completing your %s session!", label)
}

type stamp struct {
	t   time.Time
	enc Encoding
}

func (s stamp) MarshalJSON() ([]byte, error) {
	if s.enc == ISO8601 {
		return json.Marshal(s.t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	}
	return json.Marshal(float64(s.t.UnixMilli()) / 1000)
}

func (s *stamp) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return err
		}
		s.t, s.enc = t.UTC(), ISO8601
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return err
	}
	s.t, s.enc = time.UnixMilli(int64(math.Round(seconds*1000))).UTC(), EpochSeconds
	return nil
}

type wireState struct {
	StartedAt           *stamp   `json:"startedAt,omitempty"`
	PausedAt            *stamp   `json:"pausedAt"`
	Duration            *float64 `json:"duration,omitempty"`
	MethodName          string   `json:"methodName"`
	SessionType         string   `json:"sessionType"`
	IsCompleted         *bool    `json:"isCompleted,omitempty"`
	CompletionMessage   *string  `json:"completionMessage"`
	TotalPausedDuration *float64 `json:"totalPausedDuration,omitempty"`

	StartTime                 *stamp   `json:"startTime,omitempty"`
	EndTime                   *stamp   `json:"endTime,omitempty"`
	IsPaused                  *bool    `json:"isPaused,omitempty"`
	LastUpdateTime            *stamp   `json:"lastUpdateTime,omitempty"`
	ElapsedTimeAtLastUpdate   *float64 `json:"elapsedTimeAtLastUpdate,omitempty"`
	RemainingTimeAtLastUpdate *float64 `json:"remainingTimeAtLastUpdate,omitempty"`
}

func seconds(d time.Duration) *float64 {
	v := float64(d.Milliseconds()) / 1000
	return &v
}

func duration(v *float64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(math.Round(*v*1000)) * time.Millisecond
}

func boolPtr(v bool) *bool { return &v }

// Encode renders both schemas with timestamps in the given encoding.
func (cs ContentState) Encode(enc Encoding) ([]byte, error) {
	return json.Marshal(cs.wire(enc))
}

func (cs ContentState) wire(enc Encoding) wireState {
	w := wireState{
		StartedAt:           &stamp{cs.StartedAt, enc},
		Duration:            seconds(cs.Duration),
		MethodName:          cs.MethodName,
		SessionType:         cs.SessionType,
		IsCompleted:         boolPtr(cs.IsCompleted),
		TotalPausedDuration: seconds(cs.TotalPausedDuration),

		StartTime:                 &stamp{cs.StartTime, enc},
		EndTime:                   &stamp{cs.EndTime, enc},
		IsPaused:                  boolPtr(cs.IsPaused),
		LastUpdateTime:            &stamp{cs.LastUpdateTime, enc},
		ElapsedTimeAtLastUpdate:   seconds(cs.ElapsedAtLastUpdate),
		RemainingTimeAtLastUpdate: seconds(cs.RemainingAtLastUpdate),
	}
	if cs.PausedAt != nil {
		w.PausedAt = &stamp{*cs.PausedAt, enc}
	}
	if cs.CompletionMessage != "" {
		msg := cs.CompletionMessage
		w.CompletionMessage = &msg
	}
	return w
}

// DecodeContentState accepts either encoding. Payloads carrying only the
// legacy fields are migrated to the current schema; anything else is rejected.
func DecodeContentState(raw []byte) (ContentState, error) {
	var w wireState
	if err := json.Unmarshal(raw, &w); err != nil {
		return ContentState{}, fmt.Errorf("%w: %v", ErrUnknownShape, err)
	}
	if w.SessionType != SessionTypeCountdown && w.SessionType != SessionTypeCountup {
		return ContentState{}, fmt.Errorf("%w: session type %q", ErrUnknownShape, w.SessionType)
	}

	switch {
	case w.StartedAt != nil:
		return decodeCurrent(w), nil
	case w.StartTime != nil && w.EndTime != nil:
		return migrateLegacy(w), nil
	default:
		return ContentState{}, fmt.Errorf("%w: no session anchor", ErrUnknownShape)
	}
}

func decodeCurrent(w wireState) ContentState {
	cs := ContentState{
		StartedAt:           w.StartedAt.t,
		Duration:            duration(w.Duration),
		MethodName:          w.MethodName,
		SessionType:         w.SessionType,
		TotalPausedDuration: duration(w.TotalPausedDuration),
	}
	if w.PausedAt != nil {
		t := w.PausedAt.t
		cs.PausedAt = &t
	}
	if w.IsCompleted != nil {
		cs.IsCompleted = *w.IsCompleted
	}
	if w.CompletionMessage != nil {
		cs.CompletionMessage = *w.CompletionMessage
	}

	session := cs.session()
	now := cs.StartedAt
	if w.LastUpdateTime != nil {
		now = w.LastUpdateTime.t
	}
	projected := BuildContentState(session, now)
	cs.StartTime = projected.StartTime
	cs.EndTime = projected.EndTime
	cs.IsPaused = cs.PausedAt != nil
	cs.LastUpdateTime = now
	cs.ElapsedAtLastUpdate = projected.ElapsedAtLastUpdate
	cs.RemainingAtLastUpdate = projected.RemainingAtLastUpdate
	return cs
}

func migrateLegacy(w wireState) ContentState {
	cs := ContentState{
		StartedAt:   w.StartTime.t,
		MethodName:  w.MethodName,
		SessionType: w.SessionType,
		StartTime:   w.StartTime.t,
		EndTime:     w.EndTime.t,
		Migrated:    true,
	}
	if w.SessionType == SessionTypeCountdown {
		cs.Duration = w.EndTime.t.Sub(w.StartTime.t)
	}
	if w.LastUpdateTime != nil {
		cs.LastUpdateTime = w.LastUpdateTime.t
	}
	cs.ElapsedAtLastUpdate = duration(w.ElapsedTimeAtLastUpdate)
	cs.RemainingAtLastUpdate = duration(w.RemainingTimeAtLastUpdate)

	if w.IsPaused != nil && *w.IsPaused {
		cs.IsPaused = true
		pausedAt := cs.StartedAt.Add(cs.ElapsedAtLastUpdate)
		cs.PausedAt = &pausedAt
	}
	if w.IsCompleted != nil {
		cs.IsCompleted = *w.IsCompleted
	}
	return cs
}

// session rebuilds the anchor fields carried by the current schema.
func (cs ContentState) session() model.TimerSession {
	s := model.TimerSession{
		Mode:                model.ModeOpenEnded,
		Label:               cs.MethodName,
		StartedAt:           cs.StartedAt,
		PausedAt:            cs.PausedAt,
		TotalPausedDuration: cs.TotalPausedDuration,
		Status:              model.StatusRunning,
	}
	if cs.SessionType == SessionTypeCountdown {
		s.Mode = model.ModeCountdown
		s.PlannedDuration = cs.Duration
	}
	if cs.PausedAt != nil {
		s.Status = model.StatusPaused
	}
	return s
}
