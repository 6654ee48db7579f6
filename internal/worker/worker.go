// Package worker executes claimed monitoring jobs pulled from the processor queue.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	queuememory "github.com/JakeFAU/competitor-monitor/internal/queue/memory"
)

// Queue is the hand-off workers consume from.
type Queue interface {
	Dequeue(ctx context.Context) (monitor.Job, error)
}

// Runner executes one claimed job.
type Runner interface {
	Execute(ctx context.Context, job monitor.Job) Outcome
}

// DoneFunc is called after every job a worker picks up, whatever the outcome.
type DoneFunc func(Outcome)

// Worker consumes claimed jobs and runs them one at a time.
type Worker struct {
	queue  Queue
	runner Runner
	done   DoneFunc
	logger *zap.Logger
}

// New constructs a Worker. done may be nil.
func New(queue Queue, runner Runner, done DoneFunc, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if done == nil {
		done = func(Outcome) {}
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		done:   done,
		logger: logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queuememory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job monitor.Job) {
	outcome := Outcome{Job: job}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job execution panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
			outcome.Err = errors.New("execution panicked")
			outcome.Panicked = true
		}
		w.done(outcome)
	}()
	outcome = w.runner.Execute(ctx, job)
}
