package sharedstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"timersync/backend/internal/model"
)

var base = time.Date(2025, 7, 17, 9, 0, 0, 0, time.UTC)

func sampleSession() model.TimerSession {
	paused := base.Add(30 * time.Second)
	return model.TimerSession{
		SessionID:           "session-1",
		ActivityID:          "activity-1",
		TimerType:           model.TimerTypeMain,
		Mode:                model.ModeCountdown,
		Label:               "Scales",
		StartedAt:           base,
		PausedAt:            &paused,
		TotalPausedDuration: 12*time.Second + 250*time.Millisecond,
		PlannedDuration:     10 * time.Minute,
		Status:              model.StatusPaused,
		LastActionAt:        paused,
		Version:             3,
	}
}

func TestReadEmptyStoreIsNoSession(t *testing.T) {
	store := New(NewMemoryBackend())

	state, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if state.Session != nil || state.Pending != nil || state.Completion != nil {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestSessionRoundTripKeepsAnchor(t *testing.T) {
	store := New(NewMemoryBackend())
	session := sampleSession()

	if err := store.Write(context.Background(), Mutation{Session: &session}); err != nil {
		t.Fatalf("write: %v", err)
	}
	state, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := state.Session
	if got == nil {
		t.Fatal("expected session")
	}
	if !got.StartedAt.Equal(session.StartedAt) || !got.PausedAt.Equal(*session.PausedAt) {
		t.Fatalf("anchor changed: %+v", got)
	}
	if got.TotalPausedDuration != session.TotalPausedDuration || got.PlannedDuration != session.PlannedDuration {
		t.Fatalf("durations changed: %+v", got)
	}
	if got.Mode != model.ModeCountdown || got.Version != 3 {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestPendingWriteStampsLastActionMonotonically(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()

	later := &model.PendingAction{Action: model.ActionStop, TimerType: "main", IssuedAt: base.Add(time.Minute)}
	if err := store.Write(ctx, Mutation{Pending: later}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	earlier := &model.PendingAction{Action: model.ActionPause, TimerType: "main", IssuedAt: base}
	if err := store.Write(ctx, Mutation{Pending: earlier}); err != nil {
		t.Fatalf("write pause: %v", err)
	}

	state, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if state.Pending.Action != model.ActionPause {
		t.Fatalf("expected pending pause, got %s", state.Pending.Action)
	}
	if !state.LastAction.At.Equal(base.Add(time.Minute)) {
		t.Fatalf("lastActionTime moved backwards to %s", state.LastAction.At)
	}
}

func TestAppliedActionTimeNeverMovesBack(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()

	later := base.Add(time.Minute)
	_ = store.Write(ctx, Mutation{AppliedActionTime: &later})
	_ = store.Write(ctx, Mutation{AppliedActionTime: &base})

	state, _ := store.Read(ctx)
	if !state.AppliedActionTime.Equal(later) {
		t.Fatalf("expected %s, got %s", later, state.AppliedActionTime)
	}
}

func TestGuardAbortsWrite(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()
	blocked := errors.New("blocked")

	pending := &model.PendingAction{Action: model.ActionPause, IssuedAt: base}
	err := store.Write(ctx, Mutation{
		Pending: pending,
		Guard:   func(State) error { return blocked },
	})
	if !errors.Is(err, blocked) {
		t.Fatalf("expected guard error, got %v", err)
	}
	state, _ := store.Read(ctx)
	if state.Pending != nil {
		t.Fatal("guarded write should not persist")
	}
}

func TestMalformedValueIsReportedNotFatal(t *testing.T) {
	backend := NewMemoryBackend()
	store := New(backend)
	ctx := context.Background()

	session := sampleSession()
	_ = store.Write(ctx, Mutation{Session: &session})
	backend.Put(keyWidgetAction, []byte(`"rewind"`))
	backend.Put(keyWidgetActionTime, []byte(`1752742800`))

	state, err := store.Read(ctx)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if state.Session == nil {
		t.Fatal("valid session should still decode")
	}
	if state.Pending != nil {
		t.Fatal("malformed pending action should be skipped")
	}
}

func TestClearPendingAndCompletion(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx := context.Background()

	_ = store.Write(ctx, Mutation{
		Pending:           &model.PendingAction{Action: model.ActionStop, IssuedAt: base},
		Completion:        &Completion{IsCompleted: true, CompletedAt: base, ElapsedTime: time.Minute},
		PendingCompletion: &model.CompletionSnapshot{ElapsedTime: time.Minute, StartTime: base, MethodName: "Practice", Timestamp: base},
	})
	state, _ := store.Read(ctx)
	if state.Pending == nil || state.Completion == nil || state.PendingCompletion == nil {
		t.Fatalf("expected all fields, got %+v", state)
	}

	_ = store.Write(ctx, Mutation{ClearPending: true, ClearCompletion: true, ClearPendingCompletion: true})
	state, _ = store.Read(ctx)
	if state.Pending != nil || state.Completion != nil || state.PendingCompletion != nil {
		t.Fatalf("expected cleared fields, got %+v", state)
	}
	if state.LastAction == nil {
		t.Fatal("last action stamp should survive clearing the pending action")
	}
}

func TestSQLiteBackendSharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	writerBackend, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer writerBackend.Close()
	readerBackend, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer readerBackend.Close()

	writer := New(writerBackend)
	reader := New(readerBackend)

	issued := base.Add(1500 * time.Millisecond)
	if err := writer.Write(ctx, Mutation{Pending: &model.PendingAction{
		Action:     model.ActionResume,
		TimerType:  model.TimerTypeQuick,
		ActivityID: "activity-9",
		IssuedAt:   issued,
	}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	state, err := reader.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if state.Pending == nil || !state.Pending.IssuedAt.Equal(issued) {
		t.Fatalf("unexpected pending %+v", state.Pending)
	}
	if state.Pending.TimerType != model.TimerTypeQuick || state.Pending.ActivityID != "activity-9" {
		t.Fatalf("unexpected pending %+v", state.Pending)
	}
	if state.Version != 1 {
		t.Fatalf("expected version 1, got %d", state.Version)
	}
}

func TestWatchEmitsOnChange(t *testing.T) {
	store := New(NewMemoryBackend())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := store.Watch(ctx, 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	_ = store.Write(ctx, Mutation{Pending: &model.PendingAction{Action: model.ActionPause, IssuedAt: base}})

	select {
	case version := <-changes:
		if version != 1 {
			t.Fatalf("expected version 1, got %d", version)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not observe the write")
	}
}
