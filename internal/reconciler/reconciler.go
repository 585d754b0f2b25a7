// Package reconciler is the application-side listener. It applies pending
// control actions from the shared store to the session, one at a time, and
// pushes the result to the status surface and the server.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"timersync/backend/internal/anchor"
	"timersync/backend/internal/model"
	"timersync/backend/internal/relay"
	"timersync/backend/internal/sharedstore"
)

var (
	ErrSessionActive = errors.New("a session is already active")
	ErrInvalidStart  = errors.New("invalid session parameters")
	errConflict      = errors.New("session changed during reconcile")
)

const unavailableMessage = "session state unavailable"

// StatusSurface mirrors session state outside the application's own UI.
type StatusSurface interface {
	Update(ctx context.Context, session model.TimerSession, snap anchor.Snapshot) error
	End(ctx context.Context, session model.TimerSession, snap anchor.Snapshot) error
}

// Reporter forwards transitions to the server so it can push updates while
// the application is suspended.
type Reporter interface {
	ReportStart(ctx context.Context, session model.TimerSession) error
	ReportTransition(ctx context.Context, session model.TimerSession, action model.ControlAction, issuedAt time.Time) error
}

type Result string

const (
	ResultIdle    Result = "idle"
	ResultStale   Result = "stale"
	ResultIgnored Result = "ignored"
	ResultApplied Result = "applied"
)

type Config struct {
	TimerTypes   []string
	PollInterval time.Duration
}

type Reconciler struct {
	mu       sync.Mutex
	store    *sharedstore.Store
	relay    relay.Relay
	surface  StatusSurface
	reporter Reporter
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Reconciler)

func WithSurface(surface StatusSurface) Option {
	return func(r *Reconciler) { r.surface = surface }
}

func WithReporter(reporter Reporter) Option {
	return func(r *Reconciler) { r.reporter = reporter }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func New(store *sharedstore.Store, rel relay.Relay, cfg Config, opts ...Option) *Reconciler {
	if len(cfg.TimerTypes) == 0 {
		cfg.TimerTypes = []string{model.TimerTypeMain, model.TimerTypeQuick}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	r := &Reconciler{
		store:  store,
		relay:  rel,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run listens for wake signals and store changes until ctx is done. Polling
// alone is enough to pick up every action; signals only shorten the delay.
func (r *Reconciler) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	for _, timerType := range r.cfg.TimerTypes {
		if err := r.relay.Listen(ctx, relay.TopicFor(timerType), notify); err != nil {
			return fmt.Errorf("listen %s: %w", timerType, err)
		}
	}

	changes := r.store.Watch(ctx, r.cfg.PollInterval)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.step(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			r.step(ctx)
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			r.step(ctx)
		case <-ticker.C:
			if _, err := r.CheckCompletion(ctx); err != nil {
				r.logger.Warn("completion check failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) step(ctx context.Context) {
	result, err := r.ReconcileOnce(ctx)
	if err != nil {
		r.logger.Error("reconcile failed", "error", err)
		return
	}
	if result == ResultApplied {
		r.logger.Debug("pending action applied")
	}
}

// ReconcileOnce applies the pending action if it is newer than the last one
// applied. Duplicates and stale actions leave the session untouched.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; ; attempt++ {
		result, err := r.reconcile(ctx)
		if errors.Is(err, errConflict) && attempt == 0 {
			continue
		}
		return result, err
	}
}

func (r *Reconciler) reconcile(ctx context.Context) (Result, error) {
	state, err := r.read(ctx)
	if err != nil {
		return ResultIdle, err
	}
	if state.Pending == nil {
		return ResultIdle, nil
	}
	if !state.HasUnappliedAction() {
		return ResultStale, nil
	}

	pending := *state.Pending
	issuedAt := pending.IssuedAt
	log := r.logger.With("action", pending.Action, "issuedAt", issuedAt, "timerType", pending.TimerType)

	session := state.Session
	if session == nil || !matches(*session, pending) {
		log.Info("pending action does not match the active session")
		if err := r.store.Write(ctx, sharedstore.Mutation{AppliedActionTime: &issuedAt}); err != nil {
			return ResultIdle, fmt.Errorf("mark ignored action: %w", err)
		}
		return ResultIgnored, nil
	}
	if !issuedAt.After(session.LastActionAt) {
		if err := r.store.Write(ctx, sharedstore.Mutation{AppliedActionTime: &issuedAt}); err != nil {
			return ResultIdle, fmt.Errorf("mark stale action: %w", err)
		}
		return ResultStale, nil
	}

	updated := anchor.Apply(*session, pending.Action, issuedAt)
	changed := transitioned(*session, updated)
	if changed {
		updated.LastActionAt = issuedAt
		updated.Version++
	}

	mutation := sharedstore.Mutation{
		AppliedActionTime: &issuedAt,
		Guard:             sameVersion(session.Version),
	}
	if updated.IsEnded() {
		mutation.ClearSession = true
		if updated.Status == model.StatusCompleted || state.PendingCompletion == nil {
			addCompletion(&mutation, updated, issuedAt)
		}
	} else {
		mutation.Session = &updated
	}

	if err := r.store.Write(ctx, mutation); err != nil {
		return ResultIdle, fmt.Errorf("write reconciled session: %w", err)
	}
	if !changed {
		return ResultApplied, nil
	}

	log.Info("session transitioned", "sessionId", updated.SessionID, "status", updated.Status)
	r.publish(ctx, updated, pending.Action, issuedAt)
	return ResultApplied, nil
}

// CheckCompletion archives a countdown that has reached zero. It reports
// whether a session was completed.
func (r *Reconciler) CheckCompletion(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.read(ctx)
	if err != nil {
		return false, err
	}
	session := state.Session
	if session == nil || session.IsEnded() || !anchor.IsCompleted(*session, r.now()) {
		return false, nil
	}

	completed := anchor.Complete(*session, r.now())
	completed.LastActionAt = *completed.EndedAt
	completed.Version++

	mutation := sharedstore.Mutation{
		ClearSession: true,
		Guard:        sameVersion(session.Version),
	}
	addCompletion(&mutation, completed, *completed.EndedAt)
	if err := r.store.Write(ctx, mutation); err != nil {
		if errors.Is(err, errConflict) {
			return false, nil
		}
		return false, fmt.Errorf("archive completed session: %w", err)
	}

	r.logger.Info("session completed", "sessionId", completed.SessionID)
	r.publish(ctx, completed, model.ActionComplete, *completed.EndedAt)
	return true, nil
}

type StartRequest struct {
	ActivityID      string
	TimerType       string
	Mode            model.SessionMode
	Label           string
	PlannedDuration time.Duration
}

func (r *Reconciler) StartSession(ctx context.Context, req StartRequest) (model.TimerSession, error) {
	if req.Mode == "" {
		req.Mode = model.ModeOpenEnded
	}
	if !model.IsValidMode(req.Mode) {
		return model.TimerSession{}, fmt.Errorf("%w: mode %q", ErrInvalidStart, req.Mode)
	}
	if req.Mode == model.ModeCountdown && req.PlannedDuration <= 0 {
		return model.TimerSession{}, fmt.Errorf("%w: countdown needs a planned duration", ErrInvalidStart)
	}
	if req.Mode == model.ModeOpenEnded {
		req.PlannedDuration = 0
	}
	if req.Label == "" {
		req.Label = model.DefaultLabel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := sharedstore.Truncate(r.now())
	session := model.TimerSession{
		SessionID:       uuid.NewString(),
		ActivityID:      req.ActivityID,
		TimerType:       model.NormalizeTimerType(req.TimerType),
		Mode:            req.Mode,
		Label:           req.Label,
		StartedAt:       now,
		PlannedDuration: req.PlannedDuration,
		Status:          model.StatusRunning,
		LastActionAt:    now,
		Version:         1,
	}

	noNavigation := false
	err := r.store.Write(ctx, sharedstore.Mutation{
		Session:                &session,
		AppliedActionTime:      &now,
		ClearCompletion:        true,
		ClearPendingCompletion: true,
		PendingNavigation:      &noNavigation,
		Guard: func(current sharedstore.State) error {
			if current.Session != nil && !current.Session.IsEnded() {
				return ErrSessionActive
			}
			return nil
		},
	})
	if err != nil {
		return model.TimerSession{}, err
	}

	r.logger.Info("session started", "sessionId", session.SessionID, "mode", session.Mode)
	if r.surface != nil {
		if err := r.surface.Update(ctx, session, anchor.Compute(session, now)); err != nil {
			r.logger.Warn("status surface update failed", "error", err)
		}
	}
	if r.reporter != nil {
		if err := r.reporter.ReportStart(ctx, session); err != nil {
			r.logger.Warn("report start failed", "error", err)
		}
	}
	return session, nil
}

// TakeCompletion consumes the completion snapshot left by a stop so the
// summary is shown once.
func (r *Reconciler) TakeCompletion(ctx context.Context) (*model.CompletionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	if state.PendingCompletion == nil {
		return nil, nil
	}
	noNavigation := false
	if err := r.store.Write(ctx, sharedstore.Mutation{
		ClearPendingCompletion: true,
		PendingNavigation:      &noNavigation,
	}); err != nil {
		return nil, fmt.Errorf("consume completion: %w", err)
	}
	return state.PendingCompletion, nil
}

type View struct {
	Available         bool                 `json:"available"`
	Message           string               `json:"message,omitempty"`
	Session           *model.TimerSession  `json:"session,omitempty"`
	Snapshot          *anchor.Snapshot     `json:"snapshot,omitempty"`
	PendingAction     *model.PendingAction `json:"pendingAction,omitempty"`
	PendingNavigation bool                 `json:"pendingNavigation"`
}

// View never fails: a store that cannot be read degrades to a placeholder.
func (r *Reconciler) View(ctx context.Context) View {
	state, err := r.store.Read(ctx)
	if err != nil && state.Session == nil {
		r.logger.Warn("shared store unreadable", "error", err)
		return View{Message: unavailableMessage}
	}

	view := View{Available: true, PendingNavigation: state.PendingNavigation}
	if state.HasUnappliedAction() {
		view.PendingAction = state.Pending
	}
	if state.Session == nil {
		view.Message = "no active session"
		return view
	}
	snap := anchor.Compute(*state.Session, r.now())
	view.Session = state.Session
	view.Snapshot = &snap
	return view
}

func (r *Reconciler) read(ctx context.Context) (sharedstore.State, error) {
	state, err := r.store.Read(ctx)
	if err != nil {
		if errors.Is(err, sharedstore.ErrMalformed) {
			r.logger.Warn("ignoring malformed shared values", "error", err)
			return state, nil
		}
		return state, err
	}
	return state, nil
}

func (r *Reconciler) publish(ctx context.Context, session model.TimerSession, action model.ControlAction, at time.Time) {
	snap := anchor.Compute(session, at)
	if r.surface != nil {
		var err error
		if session.IsEnded() {
			err = r.surface.End(ctx, session, snap)
		} else {
			err = r.surface.Update(ctx, session, snap)
		}
		if err != nil {
			r.logger.Warn("status surface update failed", "error", err)
		}
	}
	if r.reporter != nil {
		if err := r.reporter.ReportTransition(ctx, session, action, at); err != nil {
			r.logger.Warn("report transition failed", "error", err)
		}
	}
}

func matches(session model.TimerSession, pending model.PendingAction) bool {
	if pending.SessionID != "" {
		return pending.SessionID == session.SessionID
	}
	return model.NormalizeTimerType(pending.TimerType) == session.TimerType
}

func transitioned(before, after model.TimerSession) bool {
	return before.Status != after.Status ||
		before.TotalPausedDuration != after.TotalPausedDuration ||
		(before.PausedAt == nil) != (after.PausedAt == nil) ||
		(before.EndedAt == nil) != (after.EndedAt == nil)
}

func sameVersion(version int) func(sharedstore.State) error {
	return func(current sharedstore.State) error {
		if current.Session == nil || current.Session.Version != version {
			return errConflict
		}
		return nil
	}
}

func addCompletion(m *sharedstore.Mutation, session model.TimerSession, at time.Time) {
	elapsed := anchor.Elapsed(session, at)
	m.Completion = &sharedstore.Completion{
		IsCompleted: true,
		CompletedAt: at,
		ElapsedTime: elapsed,
	}
	m.PendingCompletion = &model.CompletionSnapshot{
		ElapsedTime: elapsed,
		StartTime:   session.StartedAt,
		MethodName:  session.Label,
		Timestamp:   at,
	}
}
