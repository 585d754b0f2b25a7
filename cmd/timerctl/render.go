package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"timersync/backend/internal/anchor"
	"timersync/backend/internal/model"
	"timersync/backend/internal/reconciler"
)

type statusOutput struct {
	Available         bool           `json:"available" yaml:"available"`
	Message           string         `json:"message,omitempty" yaml:"message,omitempty"`
	Session           *sessionOutput `json:"session,omitempty" yaml:"session,omitempty"`
	PendingAction     string         `json:"pendingAction,omitempty" yaml:"pendingAction,omitempty"`
	PendingNavigation bool           `json:"pendingNavigation" yaml:"pendingNavigation"`
}

type sessionOutput struct {
	SessionID  string    `json:"sessionId" yaml:"sessionId"`
	ActivityID string    `json:"activityId,omitempty" yaml:"activityId,omitempty"`
	TimerType  string    `json:"timerType" yaml:"timerType"`
	Mode       string    `json:"mode" yaml:"mode"`
	Label      string    `json:"label" yaml:"label"`
	Status     string    `json:"status" yaml:"status"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	Elapsed    string    `json:"elapsed" yaml:"elapsed"`
	Remaining  string    `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	Progress   float64   `json:"progress" yaml:"progress"`
	Completed  bool      `json:"completed" yaml:"completed"`
	Version    int       `json:"version" yaml:"version"`
}

func newStatusOutput(view reconciler.View) statusOutput {
	out := statusOutput{
		Available:         view.Available,
		Message:           view.Message,
		PendingNavigation: view.PendingNavigation,
	}
	if view.PendingAction != nil {
		out.PendingAction = string(view.PendingAction.Action)
	}
	if view.Session != nil && view.Snapshot != nil {
		s, snap := view.Session, view.Snapshot
		out.Session = &sessionOutput{
			SessionID:  s.SessionID,
			ActivityID: s.ActivityID,
			TimerType:  s.TimerType,
			Mode:       string(s.Mode),
			Label:      s.Label,
			Status:     s.Status,
			StartedAt:  s.StartedAt,
			Elapsed:    snap.ElapsedText,
			Remaining:  snap.RemainingText,
			Progress:   snap.Progress,
			Completed:  snap.IsCompleted,
			Version:    s.Version,
		}
	}
	return out
}

func renderStatus(w io.Writer, out statusOutput, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		_, err := io.WriteString(w, statusText(out))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func statusText(out statusOutput) string {
	var b strings.Builder
	if out.Session == nil {
		b.WriteString(out.Message + "\n")
	} else {
		s := out.Session
		fmt.Fprintf(&b, "%s  %s  %s\n", s.Label, s.Status, s.Elapsed)
		if s.Remaining != "" {
			fmt.Fprintf(&b, "remaining %s (%.0f%%)\n", s.Remaining, s.Progress*100)
		}
		fmt.Fprintf(&b, "session %s  type %s  mode %s\n", s.SessionID, s.TimerType, s.Mode)
	}
	if out.PendingAction != "" {
		fmt.Fprintf(&b, "pending %s\n", out.PendingAction)
	}
	return b.String()
}

func formatCompletion(c model.CompletionSnapshot) string {
	return fmt.Sprintf("%s finished after %s (started %s)",
		c.MethodName, anchor.FormatClock(c.ElapsedTime), c.StartTime.Local().Format(time.Kitchen))
}

// printSurface writes one line per status surface update.
type printSurface struct {
	w io.Writer
}

func (p *printSurface) Update(ctx context.Context, session model.TimerSession, snap anchor.Snapshot) error {
	_, err := fmt.Fprintf(p.w, "%s  %s  %s%s\n", session.Label, session.Status, snap.ElapsedText, remainingSuffix(snap))
	return err
}

func (p *printSurface) End(ctx context.Context, session model.TimerSession, snap anchor.Snapshot) error {
	_, err := fmt.Fprintf(p.w, "%s  ended (%s)  %s\n", session.Label, session.Status, snap.ElapsedText)
	return err
}

func remainingSuffix(snap anchor.Snapshot) string {
	if snap.RemainingText == "" {
		return ""
	}
	return "  remaining " + snap.RemainingText
}
