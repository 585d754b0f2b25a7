package relay

import (
	"context"
	"sync"
)

// LocalRelay delivers signals inside one process. Bursts collapse into a
// single pending wake per topic.
type LocalRelay struct {
	mu     sync.Mutex
	topics map[string]chan struct{}
	listen map[string]bool
}

func NewLocalRelay() *LocalRelay {
	return &LocalRelay{
		topics: make(map[string]chan struct{}),
		listen: make(map[string]bool),
	}
}

func (r *LocalRelay) channel(topic string) chan struct{} {
	ch, ok := r.topics[topic]
	if !ok {
		ch = make(chan struct{}, 1)
		r.topics[topic] = ch
	}
	return ch
}

func (r *LocalRelay) Signal(topic string) error {
	r.mu.Lock()
	ch := r.channel(topic)
	r.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

func (r *LocalRelay) Listen(ctx context.Context, topic string, fn func()) error {
	r.mu.Lock()
	if r.listen[topic] {
		r.mu.Unlock()
		return ErrListenerRegistered
	}
	r.listen[topic] = true
	ch := r.channel(topic)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.listen, topic)
			r.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				fn()
			}
		}
	}()
	return nil
}
