package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingTask struct {
	runs atomic.Int32
}

func (c *countingTask) Name() string { return "counting" }

func (c *countingTask) RunOnce(ctx context.Context) {
	c.runs.Add(1)
}

func TestRunner_RunsUntilStopped(t *testing.T) {
	task := &countingTask{}
	runner := NewRunner(task, func() time.Duration { return time.Millisecond })

	done := make(chan struct{})
	go func() {
		runner.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return task.runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	runner.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_ContextCancelStops(t *testing.T) {
	task := &countingTask{}
	runner := NewRunner(task, func() time.Duration { return time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return task.runs.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not exit on context cancel")
	}
}
