package push

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"timersync/backend/internal/model"
)

var t0 = time.Date(2025, 7, 17, 9, 0, 0, 0, time.UTC)

func countdown() model.TimerSession {
	return model.TimerSession{
		SessionID:       "s-1",
		Mode:            model.ModeCountdown,
		Label:           "Kegel",
		StartedAt:       t0,
		PlannedDuration: 10 * time.Minute,
		Status:          model.StatusRunning,
	}
}

func TestBuildContentStateLegacyProjection(t *testing.T) {
	s := countdown()
	paused := t0.Add(2 * time.Minute)
	s.PausedAt = &paused
	s.Status = model.StatusPaused
	s.TotalPausedDuration = 30 * time.Second

	cs := BuildContentState(s, t0.Add(5*time.Minute))

	if cs.SessionType != SessionTypeCountdown || cs.Duration != 10*time.Minute {
		t.Fatalf("unexpected current schema %+v", cs)
	}
	if !cs.IsPaused || cs.PausedAt == nil {
		t.Fatal("expected paused state")
	}
	if cs.ElapsedAtLastUpdate != 90*time.Second {
		t.Fatalf("expected 90s elapsed, got %s", cs.ElapsedAtLastUpdate)
	}
	if want := paused.Add(-90 * time.Second); !cs.StartTime.Equal(want) {
		t.Fatalf("legacy startTime %s, want %s", cs.StartTime, want)
	}
	if want := paused.Add(510 * time.Second); !cs.EndTime.Equal(want) {
		t.Fatalf("legacy endTime %s, want %s", cs.EndTime, want)
	}
}

func TestBuildContentStateCompletion(t *testing.T) {
	cs := BuildContentState(countdown(), t0.Add(11*time.Minute))
	if !cs.IsCompleted || cs.RemainingAtLastUpdate != 0 {
		t.Fatalf("expected completed state, got %+v", cs)
	}
	if !strings.Contains(cs.CompletionMessage, "Kegel") {
		t.Fatalf("unexpected completion message %q", cs.CompletionMessage)
	}
}

func TestOpenEndedUsesHorizon(t *testing.T) {
	s := countdown()
	s.Mode = model.ModeOpenEnded
	s.PlannedDuration = 0
	now := t0.Add(time.Minute)

	cs := BuildContentState(s, now)
	if cs.SessionType != SessionTypeCountup || cs.Duration != 0 {
		t.Fatalf("unexpected session type %+v", cs)
	}
	if !cs.EndTime.Equal(now.Add(openEndedHorizon)) {
		t.Fatalf("unexpected endTime %s", cs.EndTime)
	}
}

func TestEncodeBothEncodings(t *testing.T) {
	cs := BuildContentState(countdown(), t0.Add(time.Minute))

	for _, tc := range []struct {
		name string
		enc  Encoding
		want interface{}
	}{
		{"epoch", EpochSeconds, float64(t0.Unix())},
		{"iso", ISO8601, "2025-07-17T09:00:00.000Z"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := cs.Encode(tc.enc)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			var fields map[string]interface{}
			if err := json.Unmarshal(raw, &fields); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if fields["startedAt"] != tc.want || fields["startTime"] != tc.want {
				t.Fatalf("unexpected timestamps %v / %v", fields["startedAt"], fields["startTime"])
			}
			for _, key := range []string{"duration", "methodName", "sessionType", "isCompleted", "endTime", "isPaused"} {
				if _, ok := fields[key]; !ok {
					t.Fatalf("missing field %s", key)
				}
			}

			decoded, err := DecodeContentState(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !decoded.StartedAt.Equal(cs.StartedAt) || !decoded.EndTime.Equal(cs.EndTime) || decoded.Migrated {
				t.Fatalf("decoded state differs: %+v", decoded)
			}
		})
	}
}

func TestDecodeMigratesLegacyPayload(t *testing.T) {
	raw := []byte(`{
		"startTime": "2025-07-17T09:00:00Z",
		"endTime": "2025-07-17T09:10:00Z",
		"methodName": "Kegel",
		"sessionType": "countdown",
		"isPaused": true,
		"elapsedTimeAtLastUpdate": 120
	}`)

	cs, err := DecodeContentState(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cs.Migrated || cs.Duration != 10*time.Minute {
		t.Fatalf("unexpected migration %+v", cs)
	}
	if cs.PausedAt == nil || !cs.PausedAt.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("unexpected pausedAt %v", cs.PausedAt)
	}
}

func TestDecodeRejectsUnknownShapes(t *testing.T) {
	for _, raw := range []string{
		`{"sessionType":"countdown"}`,
		`{"startedAt": 1752742800, "sessionType":"interval"}`,
		`[1,2,3]`,
	} {
		if _, err := DecodeContentState([]byte(raw)); !errors.Is(err, ErrUnknownShape) {
			t.Fatalf("expected ErrUnknownShape for %s, got %v", raw, err)
		}
	}
}

func TestBuildNotification(t *testing.T) {
	now := t0.Add(time.Minute)
	running := BuildContentState(countdown(), now)

	tests := []struct {
		name      string
		update    Update
		event     string
		stale     int64
		dismissal int64
		alert     bool
	}{
		{"running countdown", Update{Type: model.UpdatePeriodic, State: running}, "update", t0.Add(10*time.Minute + 10*time.Second).Unix(), 0, false},
		{"stopped", Update{Type: model.UpdateStateChange, State: running, End: true}, "end", 0, now.Unix(), false},
		{"completion", Update{Type: model.UpdateCompletion, State: running}, "update", now.Add(5 * time.Minute).Unix(), now.Add(5 * time.Minute).Unix(), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := BuildNotification(tc.update, now)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			var decoded notification
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if decoded.APS.Event != tc.event || decoded.APS.Timestamp != now.Unix() {
				t.Fatalf("unexpected envelope %+v", decoded.APS)
			}
			if decoded.APS.StaleDate != tc.stale || decoded.APS.DismissalDate != tc.dismissal {
				t.Fatalf("stale %d dismissal %d", decoded.APS.StaleDate, decoded.APS.DismissalDate)
			}
			if (decoded.APS.Alert != nil) != tc.alert {
				t.Fatalf("unexpected alert %+v", decoded.APS.Alert)
			}
		})
	}
}

func TestPriorityFor(t *testing.T) {
	if PriorityFor(model.UpdatePeriodic) != PriorityNormal {
		t.Fatal("periodic updates should use normal priority")
	}
	for _, u := range []model.UpdateType{model.UpdateCompletion, model.UpdateStateChange, model.UpdateIntervalChange} {
		if PriorityFor(u) != PriorityHigh {
			t.Fatalf("%s should use high priority", u)
		}
	}
}
