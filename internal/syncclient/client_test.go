package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"timersync/backend/internal/model"
)

var issued = time.Date(2025, 7, 17, 9, 5, 0, 0, time.UTC)

func session() model.TimerSession {
	return model.TimerSession{
		SessionID:       "s-1",
		ActivityID:      "act-1",
		TimerType:       model.TimerTypeMain,
		Mode:            model.ModeCountdown,
		Label:           "Practice",
		StartedAt:       issued.Add(-5 * time.Minute),
		PlannedDuration: 10 * time.Minute,
	}
}

func TestReportStartSendsSession(t *testing.T) {
	var got map[string]interface{}
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/timer/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"state":{}}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", "secret", time.Second)
	if err := client.ReportStart(context.Background(), session()); err != nil {
		t.Fatalf("report start: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected authorization %q", auth)
	}
	if got["sessionId"] != "s-1" || got["mode"] != "countdown" || got["plannedDurationSeconds"] != float64(600) {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestTransitionReportsApplied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body transitionBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Action != "pause" || !body.IssuedAt.Equal(issued) {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"state":{},"applied":false}`))
	}))
	defer server.Close()

	result, err := New(server.URL, "", time.Second).Transition(context.Background(), session(), model.ActionPause, issued)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if result.Applied {
		t.Fatal("expected applied=false to be reported")
	}
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"session_not_found","message":"no active session"}}`))
	}))
	defer server.Close()

	err := New(server.URL, "", time.Second).ReportTransition(context.Background(), session(), model.ActionStop, issued)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusNotFound || statusErr.Code != "session_not_found" {
		t.Fatalf("unexpected error %+v", statusErr)
	}
}
