// Package controls implements the pause, resume and stop operations issued
// from outside the application process. Each one records a pending action in
// the shared store and wakes the application through the relay.
package controls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"timersync/backend/internal/anchor"
	"timersync/backend/internal/model"
	"timersync/backend/internal/relay"
	"timersync/backend/internal/sharedstore"
)

type Outcome string

const (
	OutcomeRecorded   Outcome = "recorded"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeFailed     Outcome = "failed"
)

var errSuperseded = errors.New("pending action has higher priority")

type Request struct {
	ActivityID string
	TimerType  string
	SessionID  string
}

// Host brings the application to the foreground.
type Host interface {
	RequestForeground(ctx context.Context) error
}

type Policy struct {
	ForegroundOnStop bool
}

type Handler struct {
	store  *sharedstore.Store
	relay  relay.Relay
	host   Host
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Handler)

func WithHost(host Host) Option {
	return func(h *Handler) { h.host = host }
}

func WithPolicy(policy Policy) Option {
	return func(h *Handler) { h.policy = policy }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(store *sharedstore.Store, r relay.Relay, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		relay:  r,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Pause(ctx context.Context, req Request) Outcome {
	return h.record(ctx, model.ActionPause, req)
}

func (h *Handler) Resume(ctx context.Context, req Request) Outcome {
	return h.record(ctx, model.ActionResume, req)
}

// Stop records the stop action together with a completion snapshot so a
// foregrounded application can show a summary right away.
func (h *Handler) Stop(ctx context.Context, req Request) Outcome {
	return h.record(ctx, model.ActionStop, req)
}

func (h *Handler) record(ctx context.Context, action model.ControlAction, req Request) Outcome {
	timerType := model.NormalizeTimerType(req.TimerType)
	log := h.logger.With("action", action, "timerType", timerType, "activityId", req.ActivityID)

	state, err := h.store.Read(ctx)
	if err != nil && !errors.Is(err, sharedstore.ErrMalformed) {
		log.Error("shared store unavailable", "error", err)
		return OutcomeFailed
	}

	issuedAt := sharedstore.Truncate(h.now())
	if state.LastAction != nil && !issuedAt.After(state.LastAction.At) {
		issuedAt = state.LastAction.At.Add(time.Millisecond)
	}

	pending := &model.PendingAction{
		Action:     action,
		SessionID:  req.SessionID,
		ActivityID: req.ActivityID,
		TimerType:  timerType,
		IssuedAt:   issuedAt,
		Source:     model.SourceExtension,
	}
	if pending.SessionID == "" && state.Session != nil && state.Session.TimerType == timerType {
		pending.SessionID = state.Session.SessionID
	}

	mutation := sharedstore.Mutation{
		Pending: pending,
		Guard: func(current sharedstore.State) error {
			if current.HasUnappliedAction() && current.Pending.Action.Priority() > action.Priority() {
				return errSuperseded
			}
			return nil
		},
	}

	foreground := false
	if action == model.ActionStop {
		h.addCompletion(&mutation, state.Session, pending)
		if h.policy.ForegroundOnStop {
			foreground = true
			mutation.PendingNavigation = &foreground
		}
	}

	if err := h.store.Write(ctx, mutation); err != nil {
		if errors.Is(err, errSuperseded) {
			log.Info("control action superseded by pending stop")
			return OutcomeSuperseded
		}
		log.Error("record control action", "error", err)
		return OutcomeFailed
	}

	if err := h.relay.Signal(relay.TopicFor(timerType)); err != nil {
		log.Warn("wake signal failed", "error", err)
	}

	if foreground && h.host != nil {
		if err := h.host.RequestForeground(ctx); err != nil {
			log.Warn("foreground request failed", "error", err)
		}
	}

	log.Debug("control action recorded", "issuedAt", issuedAt)
	return OutcomeRecorded
}

func (h *Handler) addCompletion(m *sharedstore.Mutation, session *model.TimerSession, pending *model.PendingAction) {
	if session == nil || session.IsEnded() {
		return
	}
	if pending.SessionID != "" && pending.SessionID != session.SessionID {
		return
	}

	elapsed := anchor.Elapsed(*session, pending.IssuedAt)
	m.Completion = &sharedstore.Completion{
		IsCompleted: true,
		CompletedAt: pending.IssuedAt,
		ElapsedTime: elapsed,
	}
	m.PendingCompletion = &model.CompletionSnapshot{
		ElapsedTime: elapsed,
		StartTime:   session.StartedAt,
		MethodName:  session.Label,
		Timestamp:   pending.IssuedAt,
	}
}
