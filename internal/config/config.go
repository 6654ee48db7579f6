// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/competitor-monitor/internal/logging"
	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	"github.com/JakeFAU/competitor-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/competitor-monitor/internal/storage/gcs"
	"github.com/JakeFAU/competitor-monitor/internal/storage/local"
	"github.com/JakeFAU/competitor-monitor/internal/telemetry"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   logging.Config   `mapstructure:"logging"`
	Processor ProcessorConfig  `mapstructure:"processor"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Retry     RetryConfig      `mapstructure:"retry"`
	Fetch     FetchConfig      `mapstructure:"fetch"`
	Headless  HeadlessConfig   `mapstructure:"headless"`
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	Publisher PublisherConfig  `mapstructure:"publisher"`
	Budget    BudgetConfig     `mapstructure:"budget"`
	Health    HealthConfig     `mapstructure:"health"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ProcessorConfig bounds the worker pool and crash recovery.
type ProcessorConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	MaxPerUser       int           `mapstructure:"max_per_user"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	// WritebackTimeout bounds archive, write-back and publish after each fetch.
	WritebackTimeout time.Duration `mapstructure:"writeback_timeout"`
}

// SchedulerConfig tunes due-job selection.
type SchedulerConfig struct {
	InitialJitter time.Duration `mapstructure:"initial_jitter"`
	DueBatchSize  int           `mapstructure:"due_batch_size"`
}

// RetryConfig configures backoff for failed executions.
type RetryConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	Jitter    time.Duration `mapstructure:"jitter"`
}

// FetchConfig configures the static fetcher and robots enforcement.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	RobotsTTL      time.Duration `mapstructure:"robots_ttl"`
	// BlockedDomains rejects jobs at admission. Entries are hosts or "*.suffix".
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// HeadlessConfig configures Chrome rendering for social jobs.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	// AutoPromote re-fetches static pages that look like client-rendered shells.
	AutoPromote     bool `mapstructure:"auto_promote"`
	PromoteMaxBytes int  `mapstructure:"promote_max_bytes"`
}

// StorageConfig selects the job/execution store backend.
type StorageConfig struct {
	Backend            string `mapstructure:"backend"`
	ExecutionRetention int    `mapstructure:"execution_retention"`
}

// DatabaseConfig controls the Postgres pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	JobsTable       string        `mapstructure:"jobs_table"`
	ExecutionsTable string        `mapstructure:"executions_table"`
}

// ArchiveConfig selects where raw fetched pages are kept.
type ArchiveConfig struct {
	Backend     string       `mapstructure:"backend"`
	Prefix      string       `mapstructure:"prefix"`
	ContentType string       `mapstructure:"content_type"`
	Local       local.Config `mapstructure:"local"`
	GCS         gcs.Config   `mapstructure:"gcs"`
}

// PublisherConfig selects the change event broker.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	Topic   string       `mapstructure:"topic"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	AMQP    AMQPConfig   `mapstructure:"amqp"`
}

// PubSubConfig holds Google Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// AMQPConfig holds RabbitMQ settings.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// BudgetConfig caps job creation per user per hour; 0 disables the cap.
type BudgetConfig struct {
	DefaultHourlyCap int            `mapstructure:"default_hourly_cap"`
	UserCaps         map[string]int `mapstructure:"user_caps"`
}

// HealthConfig sizes the execution window used for health metrics.
type HealthConfig struct {
	HistoryWindow int `mapstructure:"history_window"`
}

// Load builds a Config from an optional .env file, an optional config file,
// and MONITOR_* environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("processor.tick_interval", "5s")
	v.SetDefault("processor.max_concurrent", 10)
	v.SetDefault("processor.max_per_user", 3)
	v.SetDefault("processor.stale_after", "15m")
	v.SetDefault("processor.recovery_interval", "1m")
	v.SetDefault("processor.writeback_timeout", "30s")
	v.SetDefault("scheduler.initial_jitter", "30s")
	v.SetDefault("scheduler.due_batch_size", 500)
	v.SetDefault("retry.base_delay", "1m")
	v.SetDefault("retry.max_delay", "1h")
	v.SetDefault("retry.jitter", "30s")
	v.SetDefault("fetch.user_agent", "competitor-monitor/1.0")
	v.SetDefault("fetch.default_timeout", "30s")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.robots_ttl", "6h")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.settle_delay", "500ms")
	v.SetDefault("headless.auto_promote", true)
	v.SetDefault("headless.promote_max_bytes", 2048)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 1)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.execution_retention", 10000)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.jobs_table", "monitoring_jobs")
	v.SetDefault("database.executions_table", "job_executions")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("publisher.topic", "competitor-changes")
	v.SetDefault("publisher.amqp.exchange", "competitor-monitor")
	v.SetDefault("budget.default_hourly_cap", 50)
	v.SetDefault("health.history_window", 500)
	v.SetDefault("telemetry.service_name", "competitor-monitor")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Processor.TickInterval <= 0 {
		return fmt.Errorf("processor.tick_interval must be > 0")
	}
	if c.Processor.MaxConcurrent <= 0 {
		return fmt.Errorf("processor.max_concurrent must be > 0")
	}
	if c.Processor.MaxPerUser <= 0 {
		return fmt.Errorf("processor.max_per_user must be > 0")
	}
	if c.Processor.WritebackTimeout <= 0 {
		return fmt.Errorf("processor.writeback_timeout must be > 0")
	}
	// A live execution must never look stale.
	maxRun := time.Duration(monitor.MaxTimeoutMs)*time.Millisecond + c.Processor.WritebackTimeout
	if c.Processor.StaleAfter <= maxRun {
		return fmt.Errorf("processor.stale_after must exceed the maximum job timeout plus processor.writeback_timeout (%s)", maxRun)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.base_delay must be > 0 and <= retry.max_delay")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres")
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local archive")
		}
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend must be none, memory, local, or gcs")
	}
	switch c.Publisher.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" {
			return fmt.Errorf("publisher.pubsub.project_id must be set for pubsub")
		}
	case "amqp":
		if c.Publisher.AMQP.URL == "" {
			return fmt.Errorf("publisher.amqp.url must be set for amqp")
		}
	default:
		return fmt.Errorf("publisher.backend must be none, memory, pubsub, or amqp")
	}
	if c.Publisher.Backend != "none" && c.Publisher.Topic == "" {
		return fmt.Errorf("publisher.topic must be set")
	}
	return nil
}
