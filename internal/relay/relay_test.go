package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTopicForDefaultsToMain(t *testing.T) {
	if got := TopicFor(""); got != "timer-control.main" {
		t.Fatalf("unexpected topic %q", got)
	}
	if TopicFor("quick") == TopicFor("main") {
		t.Fatal("timer types must not share a topic")
	}
}

func TestLocalRelayDeliversAndCoalesces(t *testing.T) {
	r := NewLocalRelay()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	block := make(chan struct{})
	if err := r.Listen(ctx, "t", func() {
		atomic.AddInt32(&calls, 1)
		<-block
	}); err != nil {
		t.Fatalf("listen: %v", err)
	}

	_ = r.Signal("t")
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 })

	for i := 0; i < 5; i++ {
		_ = r.Signal("t")
	}
	close(block)
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 2 })

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected burst to coalesce into one wake, got %d calls", got)
	}
}

func TestSecondListenerRejected(t *testing.T) {
	r := NewLocalRelay()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Listen(ctx, "t", func() {}); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := r.Listen(ctx, "t", func() {}); !errors.Is(err, ErrListenerRegistered) {
		t.Fatalf("expected ErrListenerRegistered, got %v", err)
	}
	if err := r.Listen(ctx, "other", func() {}); err != nil {
		t.Fatalf("other topic should be free: %v", err)
	}
}

func TestFileRelayWakesListener(t *testing.T) {
	dir := t.TempDir()
	listener, err := NewFileRelay(dir, nil)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	sender, err := NewFileRelay(dir, nil)
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var main, quick int32
	if err := listener.Listen(ctx, TopicFor("main"), func() { atomic.AddInt32(&main, 1) }); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := listener.Listen(ctx, TopicFor("quick"), func() { atomic.AddInt32(&quick, 1) }); err != nil {
		t.Fatalf("listen: %v", err)
	}

	if err := sender.Signal(TopicFor("main")); err != nil {
		t.Fatalf("signal: %v", err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&main) >= 1 })
	if atomic.LoadInt32(&quick) != 0 {
		t.Fatal("quick listener woke for main topic")
	}
}
