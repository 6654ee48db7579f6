package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrJobNotFound is returned when a job ID does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job with a duplicate ID.
	ErrJobExists = errors.New("job already exists")
	// ErrStatusConflict is returned when a guarded update finds the job in another status.
	ErrStatusConflict = errors.New("job status conflict")
)

// ValidationError rejects a malformed job spec at admission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// AuthorizationError rejects callers without a valid identity or ownership.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "unauthorized: " + e.Reason
}

// BudgetExceededError rejects job creation beyond the user's cap.
type BudgetExceededError struct {
	UserID string
	Limit  int
	Window time.Duration
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: user %s may create %d jobs per %s", e.UserID, e.Limit, e.Window)
}

// NetworkError covers transport failures, timeouts, and bad HTTP statuses.
type NetworkError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err)
	case e.StatusCode != 0 && e.Err == nil:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ExtractionError means the page was fetched but the snapshot could not be built.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction: %s: %v", e.Reason, e.Err)
	}
	return "extraction: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RobotsDisallowedError is terminal; the job is not retried.
type RobotsDisallowedError struct {
	URL string
}

func (e *RobotsDisallowedError) Error() string {
	return "robots.txt disallows " + e.URL
}

// PersistenceError wraps a store write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed execution should be rescheduled.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		robots     *RobotsDisallowedError
		validation *ValidationError
		auth       *AuthorizationError
	)
	if errors.As(err, &robots) || errors.As(err, &validation) || errors.As(err, &auth) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// ErrorKind classifies err for execution records and metrics labels.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		netErr      *NetworkError
		extraction  *ExtractionError
		robots      *RobotsDisallowedError
		validation  *ValidationError
		persistence *PersistenceError
		rawNet      net.Error
	)
	switch {
	case errors.As(err, &robots):
		return "robots"
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "timeout"
		}
		return "network"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &rawNet):
		if rawNet.Timeout() {
			return "timeout"
		}
		return "network"
	case errors.As(err, &extraction):
		return "extraction"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &persistence):
		return "persistence"
	default:
		return "unknown"
	}
}
