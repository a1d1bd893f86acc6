// ============================================================================
// coresched Worker - Simulation Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that runs simulations, each Worker runs in an independent goroutine
//
// How it works:
//   1. Receive task from taskCh (blocking wait)
//   2. Build a simulator for the task and run it (with timeout control)
//   3. Send result to resultCh
//   4. Repeat until taskCh is closed
//
// Timeout Control:
//   Each task gets its own Context derived from the pool context:
//   - Task.Timeout > 0 adds a deadline
//   - The simulator checks the Context every simulated tick
//   - Timeout returns context.DeadlineExceeded wrapped in the result error
//
// Result delivery:
//   Results are sent with a blocking send. Callers must drain results
//   (ReceiveResult / RunAll) or size the buffer for all submitted tasks.
//
// ============================================================================

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/ChuLiYu/coresched/internal/metrics"
	"github.com/ChuLiYu/coresched/internal/report"
	"github.com/ChuLiYu/coresched/internal/scheduler"
	"github.com/ChuLiYu/coresched/internal/simulator"
)

// Worker represents a work execution unit
type Worker struct {
	id        int                // Worker unique identifier, used for logging
	ctx       context.Context    // Pool context, cancelled on shutdown
	taskCh    <-chan Task        // Task channel (read-only)
	resultCh  chan<- Result      // Result channel (write-only)
	collector *metrics.Collector // optional
	log       *slog.Logger
}

// newWorker creates a new Worker instance
func newWorker(ctx context.Context, id int, taskCh <-chan Task, resultCh chan<- Result, collector *metrics.Collector, logger *slog.Logger) *Worker {
	return &Worker{
		id:        id,
		ctx:       ctx,
		taskCh:    taskCh,
		resultCh:  resultCh,
		collector: collector,
		log:       logger.With("worker", id),
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()

		ctx, cancel := w.taskContext(task)
		rep, err := w.execute(ctx, task)
		cancel()

		result := Result{
			TaskID:   task.ID,
			Report:   rep,
			Error:    err,
			Duration: time.Since(start),
		}
		if w.collector != nil {
			w.collector.RecordRun(task.Config.Scheme, result.Duration, err)
		}
		if err != nil {
			w.log.Warn("Simulation failed", "task", task.ID, "error", err)
		} else {
			w.log.Debug("Simulation done", "task", task.ID, "duration", result.Duration)
		}

		w.resultCh <- result
	}
}

func (w *Worker) taskContext(task Task) (context.Context, context.CancelFunc) {
	if task.Timeout > 0 {
		return context.WithTimeout(w.ctx, task.Timeout)
	}
	return context.WithCancel(w.ctx)
}

// execute runs one simulation. Per-task observers come from the task
// config; the pool collector is added on top.
func (w *Worker) execute(ctx context.Context, task Task) (*report.Report, error) {
	cfg := task.Config
	if w.collector != nil {
		cfg.Observer = scheduler.MultiObserver(cfg.Observer, w.collector.Observer(cfg.Scheme))
	}
	if cfg.Logger == nil {
		cfg.Logger = w.log
	}

	sim, err := simulator.New(cfg)
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx, task.Workload)
}
