// Package relay carries payload-less wake signals between local processes.
// A signal only means "something changed, re-read the shared store"; it may
// be dropped, duplicated or coalesced.
package relay

import (
	"context"
	"errors"

	"timersync/backend/internal/model"
)

var ErrListenerRegistered = errors.New("listener already registered for topic")

type Relay interface {
	// Signal is fire-and-forget.
	Signal(topic string) error
	// Listen invokes fn for every observed signal until ctx is done. Only one
	// listener per topic is allowed per relay.
	Listen(ctx context.Context, topic string, fn func()) error
}

const topicPrefix = "timer-control."

func TopicFor(timerType string) string {
	return topicPrefix + model.NormalizeTimerType(timerType)
}
