package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const defaultExecutionCapacity = 10_000

// ExecutionStore keeps the most recent executions in insertion order.
type ExecutionStore struct {
	mu       sync.RWMutex
	results  []monitor.ExecutionResult
	capacity int
}

// NewExecutionStore keeps at most capacity results; older ones are dropped.
func NewExecutionStore(capacity int) *ExecutionStore {
	if capacity <= 0 {
		capacity = defaultExecutionCapacity
	}
	return &ExecutionStore{capacity: capacity}
}

// RecordExecution appends a result.
func (s *ExecutionStore) RecordExecution(_ context.Context, result monitor.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	if over := len(s.results) - s.capacity; over > 0 {
		s.results = append([]monitor.ExecutionResult(nil), s.results[over:]...)
	}
	return nil
}

// ListExecutions returns matching results, newest first.
func (s *ExecutionStore) ListExecutions(_ context.Context, filter monitor.ExecutionFilter) ([]monitor.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.ExecutionResult, 0)
	for i := len(s.results) - 1; i >= 0; i-- {
		r := s.results[i]
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.JobID != "" && r.JobID != filter.JobID {
			continue
		}
		if !filter.Since.IsZero() && r.CompletedAt.Before(filter.Since) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
