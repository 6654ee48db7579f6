// Package scheduler decides when monitoring jobs run next and which jobs are
// due on a tick.
package scheduler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const minInterval = time.Minute

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config holds scheduling knobs.
type Config struct {
	// InitialJitter spreads first runs of newly created jobs.
	InitialJitter time.Duration
	// DueBatchSize bounds how many due jobs one tick looks at.
	DueBatchSize int
}

// Scheduler computes next runs and lists due jobs from a JobStore.
type Scheduler struct {
	store  monitor.JobStore
	cfg    Config
	jitter func(limit time.Duration) time.Duration
}

// New constructs a Scheduler.
func New(store monitor.JobStore, cfg Config) *Scheduler {
	if cfg.DueBatchSize <= 0 {
		cfg.DueBatchSize = 500
	}
	return &Scheduler{store: store, cfg: cfg, jitter: randomJitter}
}

// DueJobs returns pending jobs with NextRunAt <= now, highest priority first
// and oldest first within a priority.
func (s *Scheduler) DueJobs(ctx context.Context, now time.Time) ([]monitor.Job, error) {
	jobs, err := s.store.ListDue(ctx, now, s.cfg.DueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	return jobs, nil
}

// InitialRun returns the first run time for a new job, or nil for manual jobs.
func (s *Scheduler) InitialRun(job monitor.Job, now time.Time) *time.Time {
	if job.Frequency.Type == monitor.FrequencyManual {
		return nil
	}
	return monitor.PointerTime(now.Add(s.jitter(s.cfg.InitialJitter)))
}

// ComputeNextRun returns the next run strictly after now, or nil for manual jobs.
func ComputeNextRun(job monitor.Job, now time.Time) (*time.Time, error) {
	switch job.Frequency.Type {
	case monitor.FrequencyManual:
		return nil, nil
	case monitor.FrequencyInterval, "":
		d, err := ParseInterval(job.Frequency.Value)
		if err != nil {
			return nil, err
		}
		return monitor.PointerTime(now.Add(d)), nil
	case monitor.FrequencyCron:
		sched, loc, err := parseCron(job.Frequency)
		if err != nil {
			return nil, err
		}
		next := sched.Next(now.In(loc))
		if next.IsZero() {
			return nil, &monitor.ValidationError{Field: "frequency.value", Reason: "cron expression never fires"}
		}
		return monitor.PointerTime(next.UTC()), nil
	default:
		return nil, &monitor.ValidationError{Field: "frequency.type", Reason: "is unknown"}
	}
}

// ValidateFrequency checks interval syntax, cron expressions, and timezones.
func ValidateFrequency(f monitor.Frequency) error {
	if _, err := loadLocation(f.Timezone); err != nil {
		return err
	}
	switch f.Type {
	case monitor.FrequencyManual:
		return nil
	case monitor.FrequencyInterval, "":
		_, err := ParseInterval(f.Value)
		return err
	case monitor.FrequencyCron:
		_, _, err := parseCron(f)
		return err
	default:
		return &monitor.ValidationError{Field: "frequency.type", Reason: "is unknown"}
	}
}

// ParseInterval accepts Go durations plus "d" (days) and "w" (weeks) suffixes,
// e.g. "15m", "1h30m", "2d", "1w". Intervals shorter than a minute are rejected.
func ParseInterval(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return 0, &monitor.ValidationError{Field: "frequency.value", Reason: "is required"}
	}
	var (
		d   time.Duration
		err error
	)
	switch unit := value[len(value)-1]; unit {
	case 'd', 'w':
		n, convErr := strconv.Atoi(value[:len(value)-1])
		if convErr != nil {
			err = convErr
			break
		}
		d = time.Duration(n) * 24 * time.Hour
		if unit == 'w' {
			d *= 7
		}
	default:
		d, err = time.ParseDuration(value)
	}
	if err != nil {
		return 0, &monitor.ValidationError{Field: "frequency.value", Reason: fmt.Sprintf("invalid interval %q", value)}
	}
	if d < minInterval {
		return 0, &monitor.ValidationError{Field: "frequency.value", Reason: "interval must be at least 1m"}
	}
	return d, nil
}

func parseCron(f monitor.Frequency) (cron.Schedule, *time.Location, error) {
	loc, err := loadLocation(f.Timezone)
	if err != nil {
		return nil, nil, err
	}
	sched, err := cronParser.Parse(strings.TrimSpace(f.Value))
	if err != nil {
		return nil, nil, &monitor.ValidationError{Field: "frequency.value", Reason: fmt.Sprintf("invalid cron expression: %v", err)}
	}
	return sched, loc, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &monitor.ValidationError{Field: "frequency.timezone", Reason: fmt.Sprintf("unknown timezone %q", tz)}
	}
	return loc, nil
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
