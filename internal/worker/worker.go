package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one cycle of a periodic worker
type Task func(ctx context.Context, now time.Time)

// Worker runs a task on a fixed interval until stopped
type Worker struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// New creates a new worker
func New(name string, interval time.Duration, task Task, logger *slog.Logger) *Worker {
	return &Worker{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.With("worker", name),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background loop
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("worker started", "interval", w.interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background loop and waits for the current cycle
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
	return nil
}

// run is the main worker loop
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case now := <-ticker.C:
			w.task(ctx, now)
		}
	}
}

// IsRunning returns whether the worker is currently running
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single cycle (useful for manual triggers)
func (w *Worker) RunOnce(ctx context.Context) {
	w.task(ctx, time.Now())
}
