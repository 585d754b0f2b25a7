package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"timersync/backend/internal/anchor"
	apperrors "timersync/backend/internal/errors"
	"timersync/backend/internal/model"
	"timersync/backend/internal/push"
	"timersync/backend/internal/repository"
)

type TimerService struct {
	repo     *repository.TimerRepository
	notifier *Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type TimerView struct {
	Active                 bool            `json:"active"`
	SessionID              string          `json:"sessionId,omitempty"`
	ActivityID             string          `json:"activityId,omitempty"`
	TimerType              string          `json:"timerType"`
	Mode                   string          `json:"mode,omitempty"`
	Label                  string          `json:"label,omitempty"`
	Status                 string          `json:"status,omitempty"`
	StartedAt              *time.Time      `json:"startedAt,omitempty"`
	PausedAt               *time.Time      `json:"pausedAt,omitempty"`
	EndedAt                *time.Time      `json:"endedAt,omitempty"`
	TotalPausedSeconds     float64         `json:"totalPausedSeconds"`
	PlannedDurationSeconds float64         `json:"plannedDurationSeconds"`
	ElapsedSeconds         float64         `json:"elapsedSeconds"`
	RemainingSeconds       float64         `json:"remainingSeconds"`
	Progress               float64         `json:"progress"`
	IsCompleted            bool            `json:"isCompleted"`
	Clock                  string          `json:"clock,omitempty"`
	Version                int             `json:"version"`
	LastActionAt           *time.Time      `json:"lastActionAt,omitempty"`
	ServerTime             time.Time       `json:"serverTime"`
	ContentState           json.RawMessage `json:"contentState,omitempty"`
}

type StartInput struct {
	SessionID              string
	ActivityID             string
	TimerType              string
	Mode                   string
	Label                  string
	PlannedDurationSeconds float64
	StartedAt              *time.Time
}

type TransitionInput struct {
	SessionID string
	TimerType string
	Action    string
	IssuedAt  *time.Time
}

// TransitionResult reports whether the action changed the session. Stale and
// duplicate actions return the current state with Applied false.
type TransitionResult struct {
	State   TimerView `json:"state"`
	Applied bool      `json:"applied"`
}

func NewTimerService(repo *repository.TimerRepository, notifier *Notifier, logger *slog.Logger) *TimerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerService{repo: repo, notifier: notifier, logger: logger, now: time.Now}
}

func (s *TimerService) GetState(ctx context.Context, userID, timerType string) (*TimerView, *apperrors.APIError) {
	timerType = model.NormalizeTimerType(timerType)
	now := s.now().UTC()
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	session, err := s.repo.GetActiveTx(ctx, tx, userID, timerType)
	if errors.Is(err, repository.ErrNotFound) {
		view := inactiveView(timerType, now)
		return &view, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get session")
	}

	completed, apiErr := s.normalizeCompletedSession(ctx, tx, session, now)
	if apiErr != nil {
		return nil, apiErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}
	if completed {
		s.notifier.notifyQuietly(ctx, *session, model.UpdateCompletion)
	}

	view := s.toView(session, now)
	return &view, nil
}

func (s *TimerService) Start(ctx context.Context, userID string, input StartInput) (*TimerView, *apperrors.APIError) {
	mode := model.SessionMode(input.Mode)
	if input.Mode == "" {
		mode = model.ModeCountdown
	}
	if !model.IsValidMode(mode) {
		return nil, apperrors.BadRequest("invalid_mode", "mode must be one of countdown, open_ended")
	}
	planned := time.Duration(input.PlannedDurationSeconds * float64(time.Second))
	if mode == model.ModeCountdown && planned <= 0 {
		return nil, apperrors.BadRequest("invalid_duration", "plannedDurationSeconds must be positive for countdown sessions")
	}
	if mode == model.ModeOpenEnded {
		planned = 0
	}

	now := s.now().UTC()
	timerType := model.NormalizeTimerType(input.TimerType)
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	active, err := s.repo.GetActiveTx(ctx, tx, userID, timerType)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal("failed to get session")
	}
	if active != nil {
		if _, apiErr := s.normalizeCompletedSession(ctx, tx, active, now); apiErr != nil {
			return nil, apiErr
		}
		if input.SessionID != "" && active.SessionID == input.SessionID {
			if commitErr := tx.Commit(); commitErr != nil {
				return nil, apperrors.Internal("failed to commit transaction")
			}
			view := s.toView(active, now)
			return &view, nil
		}
		if !active.IsEnded() {
			view := s.toView(active, now)
			return nil, apperrors.Conflict("session_active", "a session of this timer type is already active", map[string]interface{}{
				"state": view,
			})
		}
	}

	if input.SessionID != "" {
		existing, err := s.repo.GetByIDTx(ctx, tx, input.SessionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal("failed to get session")
		}
		if existing != nil {
			if existing.UserID != userID {
				return nil, apperrors.Conflict("session_exists", "session id already in use", nil)
			}
			if commitErr := tx.Commit(); commitErr != nil {
				return nil, apperrors.Internal("failed to commit transaction")
			}
			view := s.toView(existing, now)
			return &view, nil
		}
	}

	startedAt := now
	if input.StartedAt != nil && !input.StartedAt.IsZero() && input.StartedAt.Before(now) {
		startedAt = input.StartedAt.UTC()
	}
	label := input.Label
	if label == "" {
		label = model.DefaultLabel
	}
	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session := model.TimerSession{
		SessionID:       sessionID,
		UserID:          userID,
		ActivityID:      input.ActivityID,
		TimerType:       timerType,
		Mode:            mode,
		Label:           label,
		StartedAt:       startedAt,
		PlannedDuration: planned,
		Status:          model.StatusRunning,
		LastActionAt:    startedAt,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertTx(ctx, tx, &session); err != nil {
		return nil, apperrors.Internal("failed to create session")
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}
	s.notifier.notifyQuietly(ctx, session, model.UpdateStateChange)

	view := s.toView(&session, now)
	return &view, nil
}

// Transition applies pause, resume, stop or complete at the instant the action
// was issued. Actions issued at or before the last applied one are stale.
func (s *TimerService) Transition(ctx context.Context, userID string, input TransitionInput) (*TransitionResult, *apperrors.APIError) {
	action, err := model.ParseTransitionAction(input.Action)
	if err != nil {
		return nil, apperrors.BadRequest("invalid_action", "action must be one of pause, resume, stop, complete")
	}

	now := s.now().UTC()
	timerType := model.NormalizeTimerType(input.TimerType)
	issuedAt := now
	if input.IssuedAt != nil && !input.IssuedAt.IsZero() && input.IssuedAt.Before(now) {
		issuedAt = input.IssuedAt.UTC()
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to start transaction")
	}
	defer tx.Rollback()

	session, apiErr := s.sessionForTransition(ctx, tx, userID, timerType, input.SessionID)
	if apiErr != nil {
		return nil, apiErr
	}

	// A countdown that ran out before the action was issued is archived first
	// so the action cannot revive it.
	expired, apiErr := s.normalizeCompletedSession(ctx, tx, session, issuedAt)
	if apiErr != nil {
		return nil, apiErr
	}

	applied := false
	if !session.IsEnded() && issuedAt.After(session.LastActionAt) {
		next := anchor.Apply(*session, action, issuedAt)
		if changed(*session, next) {
			next.LastActionAt = issuedAt
			next.Version++
			next.UpdatedAt = now
			if err := s.repo.UpdateTx(ctx, tx, &next); err != nil {
				return nil, apperrors.Internal("failed to update session")
			}
			*session = next
			applied = true
		}
	}

	completed, apiErr := s.normalizeCompletedSession(ctx, tx, session, now)
	if apiErr != nil {
		return nil, apiErr
	}
	completed = completed || expired

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apperrors.Internal("failed to commit transaction")
	}

	switch {
	case completed || (applied && session.Status == model.StatusCompleted):
		s.notifier.notifyQuietly(ctx, *session, model.UpdateCompletion)
	case applied:
		s.notifier.notifyQuietly(ctx, *session, model.UpdateStateChange)
	}
	if !applied {
		s.logger.Info("transition not applied", "sessionId", session.SessionID, "action", action, "issuedAt", issuedAt, "lastActionAt", session.LastActionAt)
	}

	return &TransitionResult{State: s.toView(session, now), Applied: applied}, nil
}

func (s *TimerService) GetHistory(ctx context.Context, userID string, limit int) ([]model.TimerSession, *apperrors.APIError) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	sessions, err := s.repo.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to get history")
	}
	return sessions, nil
}

// CompleteDueSessions archives every running countdown that has reached zero.
func (s *TimerService) CompleteDueSessions(ctx context.Context) error {
	now := s.now().UTC()
	running, err := s.repo.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, candidate := range running {
		if !anchor.IsCompleted(candidate, now) {
			continue
		}
		if err := s.completeOne(ctx, candidate.SessionID, now); err != nil {
			s.logger.Warn("complete due session", "sessionId", candidate.SessionID, "error", err)
		}
	}
	return nil
}

func (s *TimerService) completeOne(ctx context.Context, sessionID string, now time.Time) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	session, err := s.repo.GetByIDTx(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	completed, apiErr := s.normalizeCompletedSession(ctx, tx, session, now)
	if apiErr != nil {
		return apiErr
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if completed {
		s.logger.Info("session completed", "sessionId", session.SessionID, "label", session.Label)
		s.notifier.notifyQuietly(ctx, *session, model.UpdateCompletion)
	}
	return nil
}

// SendPeriodicUpdates refreshes the status surface of every running session.
func (s *TimerService) SendPeriodicUpdates(ctx context.Context) error {
	if !s.notifier.Enabled() {
		return nil
	}
	now := s.now().UTC()
	running, err := s.repo.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, session := range running {
		if session.ActivityID == "" || anchor.IsCompleted(session, now) {
			continue
		}
		s.notifier.notifyQuietly(ctx, session, model.UpdatePeriodic)
	}
	return nil
}

func (s *TimerService) sessionForTransition(ctx context.Context, tx *sql.Tx, userID, timerType, sessionID string) (*model.TimerSession, *apperrors.APIError) {
	session, err := s.repo.GetActiveTx(ctx, tx, userID, timerType)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal("failed to get session")
	}
	if session != nil && (sessionID == "" || session.SessionID == sessionID) {
		return session, nil
	}

	if sessionID != "" {
		byID, err := s.repo.GetByIDTx(ctx, tx, sessionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal("failed to get session")
		}
		if byID != nil && byID.UserID == userID {
			return byID, nil
		}
	}

	if session != nil {
		view := s.toView(session, s.now().UTC())
		return nil, apperrors.Conflict("session_mismatch", "action targets a different session", map[string]interface{}{
			"state": view,
		})
	}
	return nil, apperrors.NotFound("session_not_found", "no active session")
}

// normalizeCompletedSession lazily archives a countdown that reached
// zero. The session is updated in place.
func (s *TimerService) normalizeCompletedSession(ctx context.Context, tx *sql.Tx, session *model.TimerSession, now time.Time) (bool, *apperrors.APIError) {
	if session.IsEnded() || !anchor.IsCompleted(*session, now) {
		return false, nil
	}

	next := anchor.Complete(*session, now)
	if next.EndedAt != nil {
		next.LastActionAt = *next.EndedAt
	}
	next.Version++
	next.UpdatedAt = now
	if err := s.repo.UpdateTx(ctx, tx, &next); err != nil {
		return false, apperrors.Internal("failed to persist completed session")
	}
	*session = next
	return true, nil
}

func (s *TimerService) toView(session *model.TimerSession, now time.Time) TimerView {
	snapshot := anchor.Compute(*session, now)
	lastActionAt := session.LastActionAt
	startedAt := session.StartedAt
	view := TimerView{
		Active:                 !session.IsEnded(),
		SessionID:              session.SessionID,
		ActivityID:             session.ActivityID,
		TimerType:              session.TimerType,
		Mode:                   string(session.Mode),
		Label:                  session.Label,
		Status:                 session.Status,
		StartedAt:              &startedAt,
		PausedAt:               session.PausedAt,
		EndedAt:                session.EndedAt,
		TotalPausedSeconds:     session.TotalPausedDuration.Seconds(),
		PlannedDurationSeconds: session.PlannedDuration.Seconds(),
		ElapsedSeconds:         snapshot.Elapsed.Seconds(),
		RemainingSeconds:       snapshot.Remaining.Seconds(),
		Progress:               snapshot.Progress,
		IsCompleted:            snapshot.IsCompleted || session.Status == model.StatusCompleted,
		Version:                session.Version,
		LastActionAt:           &lastActionAt,
		ServerTime:             now,
	}
	view.Clock = snapshot.ElapsedText
	if session.IsCountdown() {
		view.Clock = snapshot.RemainingText
	}

	raw, err := push.BuildContentState(*session, now).Encode(push.ISO8601)
	if err != nil {
		s.logger.Warn("encode content state", "sessionId", session.SessionID, "error", err)
	} else {
		view.ContentState = raw
	}
	return view
}

func inactiveView(timerType string, now time.Time) TimerView {
	return TimerView{TimerType: timerType, ServerTime: now}
}

func changed(before, after model.TimerSession) bool {
	if before.Status != after.Status || before.TotalPausedDuration != after.TotalPausedDuration {
		return true
	}
	if (before.PausedAt == nil) != (after.PausedAt == nil) {
		return true
	}
	return (before.EndedAt == nil) != (after.EndedAt == nil)
}
