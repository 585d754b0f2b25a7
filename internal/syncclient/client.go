// Package syncclient reports locally applied transitions to the server so it
// can keep the status surface current while the application is suspended.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"timersync/backend/internal/model"
)

// StatusError is a non-success response from the server.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("sync server: status %d", e.Status)
	}
	return fmt.Sprintf("sync server: status %d: %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type startBody struct {
	SessionID              string    `json:"sessionId"`
	ActivityID             string    `json:"activityId,omitempty"`
	TimerType              string    `json:"timerType"`
	Mode                   string    `json:"mode"`
	Label                  string    `json:"label"`
	PlannedDurationSeconds float64   `json:"plannedDurationSeconds"`
	StartedAt              time.Time `json:"startedAt"`
}

type transitionBody struct {
	SessionID string    `json:"sessionId"`
	TimerType string    `json:"timerType"`
	Action    string    `json:"action"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// TransitionResult mirrors the server response to a transition.
type TransitionResult struct {
	Applied bool `json:"applied"`
}

func (c *Client) ReportStart(ctx context.Context, session model.TimerSession) error {
	return c.post(ctx, "/api/timer/start", startBody{
		SessionID:              session.SessionID,
		ActivityID:             session.ActivityID,
		TimerType:              session.TimerType,
		Mode:                   string(session.Mode),
		Label:                  session.Label,
		PlannedDurationSeconds: session.PlannedDuration.Seconds(),
		StartedAt:              session.StartedAt,
	}, nil)
}

func (c *Client) ReportTransition(ctx context.Context, session model.TimerSession, action model.ControlAction, issuedAt time.Time) error {
	_, err := c.Transition(ctx, session, action, issuedAt)
	return err
}

func (c *Client) Transition(ctx context.Context, session model.TimerSession, action model.ControlAction, issuedAt time.Time) (TransitionResult, error) {
	var result TransitionResult
	err := c.post(ctx, "/api/timer/transition", transitionBody{
		SessionID: session.SessionID,
		TimerType: session.TimerType,
		Action:    string(action),
		IssuedAt:  issuedAt,
	}, &result)
	return result, err
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Status: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			statusErr.Code = envelope.Error.Code
			statusErr.Message = envelope.Error.Message
		}
		return statusErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
