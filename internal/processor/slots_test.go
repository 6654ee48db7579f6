package processor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotTrackerCaps(t *testing.T) {
	t.Parallel()

	s := newSlotTracker(3, 2)
	require.True(t, s.tryAcquire("alice"))
	require.True(t, s.tryAcquire("alice"))
	require.False(t, s.tryAcquire("alice"), "per-user cap")
	require.True(t, s.tryAcquire("bob"))
	require.True(t, s.full())
	require.False(t, s.tryAcquire("carol"), "global cap")

	inFlight, users := s.snapshot()
	require.Equal(t, 3, inFlight)
	require.Equal(t, map[string]int{"alice": 2, "bob": 1}, users)

	s.release("alice")
	require.False(t, s.full())
	require.True(t, s.tryAcquire("carol"))

	// Releasing a user with nothing in flight is a no-op.
	s.release("nobody")
	inFlight, _ = s.snapshot()
	require.Equal(t, 3, inFlight)
}

func TestSlotTrackerUnlimitedPerUser(t *testing.T) {
	t.Parallel()

	s := newSlotTracker(4, 0)
	for i := 0; i < 4; i++ {
		require.True(t, s.tryAcquire("alice"))
	}
	require.False(t, s.tryAcquire("alice"))
}

func TestSlotTrackerConcurrentAcquireNeverOverAdmits(t *testing.T) {
	t.Parallel()

	s := newSlotTracker(5, 2)
	users := []string{"a", "b", "c", "d"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted = map[string]int{}
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if s.tryAcquire(user) {
				mu.Lock()
				granted[user]++
				mu.Unlock()
			}
		}(users[i%len(users)])
	}
	wg.Wait()

	total := 0
	for user, n := range granted {
		require.LessOrEqual(t, n, 2, user)
		total += n
	}
	require.Equal(t, 5, total)
	inFlight, _ := s.snapshot()
	require.Equal(t, 5, inFlight)
}
