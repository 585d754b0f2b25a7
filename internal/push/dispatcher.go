package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"timersync/backend/internal/model"
)

var (
	ErrQueueFull        = errors.New("push queue is full")
	ErrDispatcherClosed = errors.New("push dispatcher is closed")
)

type Deliverer interface {
	Deliver(ctx context.Context, req Request) (*model.DeliveryRecord, error)
}

// Dispatcher runs deliveries on a fixed pool of workers so request handlers
// never wait on the push service.
type Dispatcher struct {
	deliverer Deliverer
	jobs      chan Request
	workers   int
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(deliverer Deliverer, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		deliverer: deliverer,
		jobs:      make(chan Request, queueSize),
		workers:   workers,
		logger:    logger,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for req := range d.jobs {
		if _, err := d.deliverer.Deliver(ctx, req); err != nil {
			d.logger.Warn("push delivery failed", "worker", id, "activityId", req.Token.ActivityID, "error", err)
		}
	}
}

// Enqueue never blocks.
func (d *Dispatcher) Enqueue(req Request) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains queued jobs and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
