package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"timersync/backend/internal/controls"
	"timersync/backend/internal/model"
	"timersync/backend/internal/reconciler"
	"timersync/backend/internal/relay"
	"timersync/backend/internal/sharedstore"
)

func TestStopWithForegroundShowsSummaryOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := sharedstore.New(sharedstore.NewMemoryBackend())
	rel := relay.NewLocalRelay()
	r := reconciler.New(store, rel, reconciler.Config{})
	if _, err := r.StartSession(ctx, reconciler.StartRequest{Mode: model.ModeOpenEnded, Label: "Scales"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	woken := make(chan struct{}, 1)
	if err := rel.Listen(ctx, navigationTopic, func() { woken <- struct{}{} }); err != nil {
		t.Fatalf("listen: %v", err)
	}

	h := controls.NewHandler(store, rel,
		controls.WithPolicy(controls.Policy{ForegroundOnStop: true}),
		controls.WithHost(relayHost{relay: rel}),
	)
	if out := h.Stop(ctx, controls.Request{}); out != controls.OutcomeRecorded {
		t.Fatalf("expected stop recorded, got %v", out)
	}

	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not signal the navigation topic")
	}

	var out bytes.Buffer
	shown, err := showCompletion(ctx, r, &out)
	if err != nil || !shown {
		t.Fatalf("expected summary, got shown=%v err=%v", shown, err)
	}
	if !strings.HasPrefix(out.String(), "Scales finished after") {
		t.Fatalf("unexpected summary %q", out.String())
	}

	out.Reset()
	if shown, _ := showCompletion(ctx, r, &out); shown || out.Len() != 0 {
		t.Fatalf("summary should be consumed once, got %q", out.String())
	}
}

func TestStopWithoutForegroundLeavesSummaryForCompleteCommand(t *testing.T) {
	ctx := context.Background()
	store := sharedstore.New(sharedstore.NewMemoryBackend())
	rel := relay.NewLocalRelay()
	r := reconciler.New(store, rel, reconciler.Config{})
	if _, err := r.StartSession(ctx, reconciler.StartRequest{Mode: model.ModeOpenEnded, Label: "Scales"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	h := controls.NewHandler(store, rel)
	h.Stop(ctx, controls.Request{})

	var out bytes.Buffer
	if shown, _ := showCompletion(ctx, r, &out); shown {
		t.Fatalf("watch should not show the summary unasked, got %q", out.String())
	}
	if snapshot, err := r.TakeCompletion(ctx); err != nil || snapshot == nil {
		t.Fatalf("expected the summary to remain, got %v %v", snapshot, err)
	}
}
