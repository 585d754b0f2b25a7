// Package sharedstore is the durable mailbox shared by every local process of
// one install. The application owns the session fields, the extension owns
// the pending action; both go through the typed Read/Write/Watch surface.
package sharedstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timersync/backend/internal/model"
)

var ErrMalformed = errors.New("malformed shared value")

// Changes is one atomic batch applied by a Backend.
type Changes struct {
	Set    map[string][]byte
	Delete []string
}

// Backend persists raw values. Update runs fn against the current values and
// applies the returned changes atomically, bumping the version.
type Backend interface {
	Load(ctx context.Context) (map[string][]byte, int64, error)
	Update(ctx context.Context, fn func(current map[string][]byte) (Changes, error)) (int64, error)
	Version(ctx context.Context) (int64, error)
	Close() error
}

// ActionStamp is the metadata of the most recently written control action.
type ActionStamp struct {
	Action     model.ControlAction
	At         time.Time
	ActivityID string
	TimerType  string
}

type Completion struct {
	IsCompleted bool
	CompletedAt time.Time
	ElapsedTime time.Duration
}

// State is everything the store knows. A zero State with a nil Session is
// the defined "no session" value returned on first run.
type State struct {
	Session           *model.TimerSession
	Pending           *model.PendingAction
	LastAction        *ActionStamp
	AppliedActionTime time.Time
	Completion        *Completion
	PendingCompletion *model.CompletionSnapshot
	PendingNavigation bool
	Version           int64
}

// HasUnappliedAction reports whether the pending action is newer than the
// last one the application applied.
func (s State) HasUnappliedAction() bool {
	return s.Pending != nil && s.Pending.IssuedAt.After(s.AppliedActionTime)
}

// Mutation describes one write. Nil pointers leave fields untouched. Guard,
// when set, runs against the state inside the write and aborts it on error.
type Mutation struct {
	Session                *model.TimerSession
	ClearSession           bool
	Pending                *model.PendingAction
	ClearPending           bool
	AppliedActionTime      *time.Time
	Completion             *Completion
	ClearCompletion        bool
	PendingCompletion      *model.CompletionSnapshot
	ClearPendingCompletion bool
	PendingNavigation      *bool
	Guard                  func(State) error
}

type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// Read decodes the current state. Malformed keys are skipped and reported as
// an ErrMalformed error alongside the partial state.
func (s *Store) Read(ctx context.Context) (State, error) {
	values, version, err := s.backend.Load(ctx)
	if err != nil {
		return State{}, fmt.Errorf("load shared store: %w", err)
	}
	state, decodeErr := decodeState(values)
	state.Version = version
	return state, decodeErr
}

func (s *Store) Write(ctx context.Context, m Mutation) error {
	_, err := s.backend.Update(ctx, func(current map[string][]byte) (Changes, error) {
		state, _ := decodeState(current)
		if m.Guard != nil {
			if err := m.Guard(state); err != nil {
				return Changes{}, err
			}
		}
		return buildChanges(state, m)
	})
	return err
}

// Watch emits the store version whenever it changes. It is the polling path
// that makes wake signals an optimization rather than a requirement.
func (s *Store) Watch(ctx context.Context, interval time.Duration) <-chan int64 {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan int64, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last, _ := s.backend.Version(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				version, err := s.backend.Version(ctx)
				if err != nil || version == last {
					continue
				}
				last = version
				select {
				case out <- version:
				default:
				}
			}
		}
	}()
	return out
}

func buildChanges(state State, m Mutation) (Changes, error) {
	changes := Changes{Set: map[string][]byte{}}

	if m.ClearSession {
		changes.Delete = append(changes.Delete, keyTimerSession)
	}
	if m.Session != nil {
		raw, err := encodeSession(*m.Session)
		if err != nil {
			return Changes{}, fmt.Errorf("encode session: %w", err)
		}
		changes.Set[keyTimerSession] = raw
	}

	if m.ClearPending {
		changes.Delete = append(changes.Delete, pendingKeys...)
	}
	if p := m.Pending; p != nil {
		changes.Set[keyWidgetAction] = encodeString(string(p.Action))
		changes.Set[keyWidgetTimerType] = encodeString(p.TimerType)
		changes.Set[keyWidgetActionTime] = encodeTime(p.IssuedAt)
		changes.Set[keyWidgetActivityID] = encodeString(p.ActivityID)
		changes.Set[keyWidgetSessionID] = encodeString(p.SessionID)

		stamp := p.IssuedAt
		if state.LastAction != nil && state.LastAction.At.After(stamp) {
			stamp = state.LastAction.At
		}
		changes.Set[keyLastAction] = encodeString(string(p.Action))
		changes.Set[keyLastActionTime] = encodeTime(stamp)
		changes.Set[keyLastActivityID] = encodeString(p.ActivityID)
		changes.Set[keyLastTimerType] = encodeString(p.TimerType)
	}

	if m.AppliedActionTime != nil {
		applied := *m.AppliedActionTime
		if state.AppliedActionTime.After(applied) {
			applied = state.AppliedActionTime
		}
		changes.Set[keyAppliedActionTime] = encodeTime(applied)
	}

	if m.ClearCompletion {
		changes.Delete = append(changes.Delete, completionKeys...)
	}
	if c := m.Completion; c != nil {
		changes.Set[keyTimerIsCompleted] = encodeBool(c.IsCompleted)
		changes.Set[keyTimerCompletedAt] = encodeTime(c.CompletedAt)
		changes.Set[keyTimerElapsedTime] = encodeDuration(c.ElapsedTime)
	}

	if m.ClearPendingCompletion {
		changes.Delete = append(changes.Delete, keyPendingCompletion)
	}
	if m.PendingCompletion != nil {
		raw, err := encodeCompletion(*m.PendingCompletion)
		if err != nil {
			return Changes{}, fmt.Errorf("encode completion: %w", err)
		}
		changes.Set[keyPendingCompletion] = raw
	}

	if m.PendingNavigation != nil {
		changes.Set[keyPendingNavigation] = encodeBool(*m.PendingNavigation)
	}

	return changes, nil
}

func decodeState(values map[string][]byte) (State, error) {
	var state State
	var errs []error
	malformed := func(key string, err error) {
		errs = append(errs, fmt.Errorf("%w %s: %v", ErrMalformed, key, err))
	}

	if raw, ok := values[keyTimerSession]; ok {
		session, err := decodeSession(raw)
		if err != nil {
			malformed(keyTimerSession, err)
		} else {
			state.Session = session
		}
	}

	if raw, ok := values[keyWidgetAction]; ok {
		pending, err := decodePending(values, raw)
		if err != nil {
			malformed(keyWidgetAction, err)
		} else {
			state.Pending = pending
		}
	}

	if raw, ok := values[keyLastAction]; ok {
		stamp, err := decodeStamp(values, raw)
		if err != nil {
			malformed(keyLastAction, err)
		} else {
			state.LastAction = stamp
		}
	}

	if raw, ok := values[keyAppliedActionTime]; ok {
		applied, err := decodeTime(raw)
		if err != nil {
			malformed(keyAppliedActionTime, err)
		} else {
			state.AppliedActionTime = applied
		}
	}

	if raw, ok := values[keyTimerIsCompleted]; ok {
		completion, err := decodeCompletionState(values, raw)
		if err != nil {
			malformed(keyTimerIsCompleted, err)
		} else {
			state.Completion = completion
		}
	}

	if raw, ok := values[keyPendingCompletion]; ok {
		snapshot, err := decodeCompletion(raw)
		if err != nil {
			malformed(keyPendingCompletion, err)
		} else {
			state.PendingCompletion = snapshot
		}
	}

	if raw, ok := values[keyPendingNavigation]; ok {
		nav, err := decodeBool(raw)
		if err != nil {
			malformed(keyPendingNavigation, err)
		} else {
			state.PendingNavigation = nav
		}
	}

	return state, errors.Join(errs...)
}

func decodePending(values map[string][]byte, rawAction []byte) (*model.PendingAction, error) {
	rawName, err := decodeString(rawAction)
	if err != nil {
		return nil, err
	}
	action, err := model.ParseControlAction(rawName)
	if err != nil {
		return nil, err
	}
	issuedRaw, ok := values[keyWidgetActionTime]
	if !ok {
		return nil, errors.New("pending action without timestamp")
	}
	issuedAt, err := decodeTime(issuedRaw)
	if err != nil {
		return nil, err
	}

	pending := &model.PendingAction{
		Action:   action,
		IssuedAt: issuedAt,
		Source:   model.SourceExtension,
	}
	pending.TimerType = model.NormalizeTimerType(optionalString(values, keyWidgetTimerType))
	pending.ActivityID = optionalString(values, keyWidgetActivityID)
	pending.SessionID = optionalString(values, keyWidgetSessionID)
	return pending, nil
}

func decodeStamp(values map[string][]byte, rawAction []byte) (*ActionStamp, error) {
	rawName, err := decodeString(rawAction)
	if err != nil {
		return nil, err
	}
	stamp := &ActionStamp{
		Action:     model.ControlAction(rawName),
		ActivityID: optionalString(values, keyLastActivityID),
		TimerType:  optionalString(values, keyLastTimerType),
	}
	if raw, ok := values[keyLastActionTime]; ok {
		at, err := decodeTime(raw)
		if err != nil {
			return nil, err
		}
		stamp.At = at
	}
	return stamp, nil
}

func decodeCompletionState(values map[string][]byte, rawFlag []byte) (*Completion, error) {
	flag, err := decodeBool(rawFlag)
	if err != nil {
		return nil, err
	}
	completion := &Completion{IsCompleted: flag}
	if raw, ok := values[keyTimerCompletedAt]; ok {
		if completion.CompletedAt, err = decodeTime(raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := values[keyTimerElapsedTime]; ok {
		if completion.ElapsedTime, err = decodeDuration(raw); err != nil {
			return nil, err
		}
	}
	return completion, nil
}

func optionalString(values map[string][]byte, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	v, err := decodeString(raw)
	if err != nil {
		return ""
	}
	return v
}
