package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chain-relay.backend/pkg/logger"
)

// Task is one periodic relay worker cycle
type Task interface {
	Name() string
	RunOnce(ctx context.Context)
}

// Runner drives a Task on a recurring timer. Cycles run sequentially so a
// slow cycle can never overlap itself. The interval function is re-read each
// cycle, so operator retunes of the config snapshot apply without a restart.
type Runner struct {
	task     Task
	interval func() time.Duration
	stop     chan struct{}
}

// NewRunner creates a runner for a task
func NewRunner(task Task, interval func() time.Duration) *Runner {
	return &Runner{
		task:     task,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start blocks, running the task until the context is cancelled or Stop is
// called.
func (r *Runner) Start(ctx context.Context) {
	logger.Info(ctx, "starting worker", zap.String("task", r.task.Name()))

	for {
		timer := time.NewTimer(r.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(ctx, "worker stopped", zap.String("task", r.task.Name()))
			return
		case <-r.stop:
			timer.Stop()
			logger.Info(ctx, "worker stopped", zap.String("task", r.task.Name()))
			return
		case <-timer.C:
			r.task.RunOnce(ctx)
		}
	}
}

// Stop terminates the runner after the in-flight cycle, if any, finishes
func (r *Runner) Stop() {
	close(r.stop)
}
