package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"timersync/backend/internal/anchor"
	"timersync/backend/internal/model"
	"timersync/backend/internal/reconciler"
)

func countdownView() reconciler.View {
	started := time.Date(2025, 7, 17, 9, 0, 0, 0, time.UTC)
	session := model.TimerSession{
		SessionID:       "session-1",
		TimerType:       model.TimerTypeMain,
		Mode:            model.ModeCountdown,
		Label:           "Scales",
		StartedAt:       started,
		PlannedDuration: 10 * time.Minute,
		Status:          model.StatusRunning,
		LastActionAt:    started,
		Version:         1,
	}
	snap := anchor.Compute(session, started.Add(90*time.Second))
	return reconciler.View{
		Available: true,
		Session:   &session,
		Snapshot:  &snap,
		PendingAction: &model.PendingAction{
			Action:   model.ActionPause,
			IssuedAt: started.Add(time.Minute),
		},
	}
}

func TestRenderStatusText(t *testing.T) {
	var buf bytes.Buffer
	if err := renderStatus(&buf, newStatusOutput(countdownView()), "text"); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Scales  running  01:30", "remaining 08:30 (15%)", "pending pause"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderStatusYAMLAndJSONAgree(t *testing.T) {
	out := newStatusOutput(countdownView())

	var yamlBuf, jsonBuf bytes.Buffer
	if err := renderStatus(&yamlBuf, out, "yaml"); err != nil {
		t.Fatalf("render yaml: %v", err)
	}
	if err := renderStatus(&jsonBuf, out, "json"); err != nil {
		t.Fatalf("render json: %v", err)
	}

	var fromYAML, fromJSON map[string]interface{}
	if err := yaml.Unmarshal(yamlBuf.Bytes(), &fromYAML); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if err := json.Unmarshal(jsonBuf.Bytes(), &fromJSON); err != nil {
		t.Fatalf("parse json: %v", err)
	}
	yamlSession := fromYAML["session"].(map[string]interface{})
	jsonSession := fromJSON["session"].(map[string]interface{})
	if yamlSession["elapsed"] != "01:30" || jsonSession["elapsed"] != "01:30" {
		t.Fatalf("unexpected elapsed yaml=%v json=%v", yamlSession["elapsed"], jsonSession["elapsed"])
	}
	if fromYAML["pendingAction"] != "pause" || fromJSON["pendingAction"] != "pause" {
		t.Fatalf("pending action missing: yaml=%v json=%v", fromYAML["pendingAction"], fromJSON["pendingAction"])
	}
}

func TestRenderStatusUnavailable(t *testing.T) {
	var buf bytes.Buffer
	view := reconciler.View{Message: "session state unavailable"}
	if err := renderStatus(&buf, newStatusOutput(view), ""); err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "session state unavailable" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestRenderStatusRejectsUnknownFormat(t *testing.T) {
	if err := renderStatus(&bytes.Buffer{}, statusOutput{}, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestPrintSurface(t *testing.T) {
	view := countdownView()
	var buf bytes.Buffer
	surface := &printSurface{w: &buf}
	if err := surface.Update(context.Background(), *view.Session, *view.Snapshot); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := buf.String(); got != "Scales  running  01:30  remaining 08:30\n" {
		t.Fatalf("unexpected line %q", got)
	}
}
