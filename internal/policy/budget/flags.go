// Package budget provides the feature-flag caps that bound how many jobs a
// user may create.
package budget

import (
	"context"
	"strings"
	"sync"
)

// StaticFlags serves hourly job-creation caps from configuration, with
// optional per-user overrides. A cap of zero or less means unlimited. User IDs
// are matched case-insensitively since viper lowercases map keys.
type StaticFlags struct {
	mu         sync.RWMutex
	defaultCap int
	userCaps   map[string]int
}

// NewStaticFlags builds a provider from a default cap and overrides.
func NewStaticFlags(defaultCap int, userCaps map[string]int) *StaticFlags {
	caps := make(map[string]int, len(userCaps))
	for user, limit := range userCaps {
		caps[strings.ToLower(user)] = limit
	}
	return &StaticFlags{defaultCap: defaultCap, userCaps: caps}
}

// HourlyJobCap implements monitor.FlagProvider.
func (f *StaticFlags) HourlyJobCap(_ context.Context, userID string) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit, ok := f.userCaps[strings.ToLower(userID)]; ok {
		return limit, nil
	}
	return f.defaultCap, nil
}

// SetUserCap overrides the cap for one user at runtime.
func (f *StaticFlags) SetUserCap(userID string, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCaps[strings.ToLower(userID)] = limit
}
