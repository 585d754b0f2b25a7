package push

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"timersync/backend/internal/model"
)

type countingDeliverer struct {
	count int32
	block chan struct{}
}

func (c *countingDeliverer) Deliver(ctx context.Context, req Request) (*model.DeliveryRecord, error) {
	if c.block != nil {
		<-c.block
	}
	atomic.AddInt32(&c.count, 1)
	return &model.DeliveryRecord{}, nil
}

func TestDispatcherDrainsOnStop(t *testing.T) {
	deliverer := &countingDeliverer{}
	d := NewDispatcher(deliverer, 3, 16, nil)
	d.Start(context.Background())

	for i := 0; i < 10; i++ {
		if err := d.Enqueue(Request{}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	d.Stop()

	if got := atomic.LoadInt32(&deliverer.count); got != 10 {
		t.Fatalf("expected 10 deliveries, got %d", got)
	}
	if err := d.Enqueue(Request{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcherRejectsWhenFull(t *testing.T) {
	deliverer := &countingDeliverer{block: make(chan struct{})}
	d := NewDispatcher(deliverer, 1, 1, nil)
	d.Start(context.Background())

	var full bool
	for i := 0; i < 5; i++ {
		if errors.Is(d.Enqueue(Request{}), ErrQueueFull) {
			full = true
			break
		}
	}
	close(deliverer.block)
	d.Stop()

	if !full {
		t.Fatal("expected the queue to fill up")
	}
}

func TestSchedulerRunsTasksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	runs := 0

	s := NewScheduler(nil, Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			mu.Lock()
			runs++
			if runs == 3 {
				cancel()
			}
			mu.Unlock()
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if runs < 3 {
		t.Fatalf("expected at least 3 runs, got %d", runs)
	}
}
