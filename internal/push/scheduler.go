package push

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs background tasks on fixed intervals until its context ends.
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{tasks: tasks, logger: logger}
}

func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			continue
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			ticker := time.NewTicker(task.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := task.Run(ctx); err != nil {
						s.logger.Warn("scheduled task failed", "task", task.Name, "error", err)
					}
				}
			}
		}(task)
	}
	wg.Wait()
}
