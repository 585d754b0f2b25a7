package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"timersync/backend/internal/model"
	"timersync/backend/internal/push"
	"timersync/backend/internal/repository"
)

// Pusher accepts delivery jobs without blocking.
type Pusher interface {
	Enqueue(req push.Request) error
}

var (
	errPushDisabled = errors.New("push delivery is not configured")
	errNoToken      = errors.New("no active push token for activity")
)

// Notifier turns session changes into push delivery jobs for the activity
// bound to the session.
type Notifier struct {
	tokens *repository.TokenRepository
	pusher Pusher
	logger *slog.Logger
	now    func() time.Time
}

func NewNotifier(tokens *repository.TokenRepository, pusher Pusher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{tokens: tokens, pusher: pusher, logger: logger, now: time.Now}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.pusher != nil
}

// Notify enqueues one update. A missing or inactive token is not an error for
// callers that fire and forget; they get errNoToken to ignore.
func (n *Notifier) Notify(ctx context.Context, session model.TimerSession, updateType model.UpdateType) error {
	if !n.Enabled() {
		return errPushDisabled
	}
	if session.ActivityID == "" {
		return errNoToken
	}
	token, err := n.tokens.Get(ctx, session.ActivityID)
	if errors.Is(err, repository.ErrNotFound) {
		return errNoToken
	}
	if err != nil {
		return err
	}
	if !token.Active || token.UserID != session.UserID {
		return errNoToken
	}

	now := n.now().UTC()
	update := push.Update{
		Type:  updateType,
		State: push.BuildContentState(session, now),
		End:   session.Status == model.StatusStopped && updateType != model.UpdateCompletion,
	}
	return n.pusher.Enqueue(push.Request{
		Token:     *token,
		SessionID: session.SessionID,
		Update:    update,
	})
}

// notifyQuietly logs enqueue failures that the caller cannot act on.
func (n *Notifier) notifyQuietly(ctx context.Context, session model.TimerSession, updateType model.UpdateType) {
	if n == nil {
		return
	}
	err := n.Notify(ctx, session, updateType)
	if err == nil || errors.Is(err, errPushDisabled) || errors.Is(err, errNoToken) {
		return
	}
	n.logger.Warn("enqueue push update", "sessionId", session.SessionID, "updateType", updateType, "error", err)
}
