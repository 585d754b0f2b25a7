package main

import (
	"context"
	"fmt"
	"io"

	"timersync/backend/internal/reconciler"
	"timersync/backend/internal/relay"
)

// navigationTopic wakes a watching process that should show the completion
// summary left by a stop.
const navigationTopic = "timer-navigation"

// relayHost stands in for the application window: bringing it forward means
// signalling whichever watch process is running.
type relayHost struct {
	relay relay.Relay
}

func (h relayHost) RequestForeground(ctx context.Context) error {
	return h.relay.Signal(navigationTopic)
}

// showCompletion prints and consumes the completion summary when a stop asked
// for it. It reports whether anything was printed.
func showCompletion(ctx context.Context, r *reconciler.Reconciler, w io.Writer) (bool, error) {
	if !r.View(ctx).PendingNavigation {
		return false, nil
	}
	snapshot, err := r.TakeCompletion(ctx)
	if err != nil || snapshot == nil {
		return false, err
	}
	fmt.Fprintln(w, formatCompletion(*snapshot))
	return true, nil
}
