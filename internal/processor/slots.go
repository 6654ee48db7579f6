package processor

import "sync"

// slotTracker bounds in-flight executions globally and per user. Both
// counters move together under one lock.
type slotTracker struct {
	mu         sync.Mutex
	maxGlobal  int
	maxPerUser int
	inFlight   int
	perUser    map[string]int
}

func newSlotTracker(maxGlobal, maxPerUser int) *slotTracker {
	return &slotTracker{
		maxGlobal:  maxGlobal,
		maxPerUser: maxPerUser,
		perUser:    make(map[string]int),
	}
}

// tryAcquire reserves a slot for userID. It reports false when either cap is reached.
func (s *slotTracker) tryAcquire(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight >= s.maxGlobal {
		return false
	}
	if s.maxPerUser > 0 && s.perUser[userID] >= s.maxPerUser {
		return false
	}
	s.inFlight++
	s.perUser[userID]++
	return true
}

func (s *slotTracker) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perUser[userID] > 0 {
		s.perUser[userID]--
		if s.perUser[userID] == 0 {
			delete(s.perUser, userID)
		}
		s.inFlight--
	}
}

func (s *slotTracker) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight >= s.maxGlobal
}

func (s *slotTracker) snapshot() (int, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make(map[string]int, len(s.perUser))
	for u, n := range s.perUser {
		users[u] = n
	}
	return s.inFlight, users
}
