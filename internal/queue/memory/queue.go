// Package memory provides the bounded hand-off between the processor tick
// loop and its workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

// ErrClosed is returned by Dequeue once the queue is closed and empty.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded channel of claimed jobs with context-aware operations.
type Queue struct {
	ch      chan monitor.Job
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan monitor.Job, capacity),
	}
}

// Enqueue pushes a claimed job or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, job monitor.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (monitor.Job, error) {
	select {
	case <-ctx.Done():
		return monitor.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return monitor.Job{}, ErrClosed
		}
		return job, nil
	}
}

// Drain removes and returns every job still buffered without blocking.
func (q *Queue) Drain() []monitor.Job {
	var out []monitor.Job
	for {
		select {
		case job, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, job)
		default:
			return out
		}
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
