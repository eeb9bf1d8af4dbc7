package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Workflows WorkflowsConfig `json:"workflows"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Publisher PublisherConfig `json:"publisher"`

	Storage       *StorageConfig       `json:"storage,omitempty"`
	Telegram      *TelegramConfig      `json:"telegram,omitempty"`
	Observability *ObservabilityConfig `json:"observability,omitempty"`

	// Maintenance controls the periodic retention sweep.
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WorkflowsConfig controls the workflow execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 10
//   - retry_delay: "30s"
//   - retention: "24h"
type WorkflowsConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	// DefaultTimeout bounds a whole execution. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	RetryAttempts int    `json:"retry_attempts,omitempty"`
	RetryDelay    string `json:"retry_delay,omitempty"`
	Exponential   bool   `json:"exponential,omitempty"`

	// Retention is how long finished executions stay queryable.
	Retention string `json:"retention,omitempty"`
}

// SchedulerConfig controls the cron trigger service.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// PublisherConfig controls the publication service.
type PublisherConfig struct {
	Enabled          bool                 `json:"enabled"`
	Workers          int                  `json:"workers,omitempty"`
	RetryAttempts    int                  `json:"retry_attempts,omitempty"`
	RetryDelay       string               `json:"retry_delay,omitempty"`
	DefaultTimezone  string               `json:"default_timezone,omitempty"`
	EnabledPlatforms []string             `json:"enabled_platforms,omitempty"`
	Retention        string               `json:"retention,omitempty"`
	RateLimits       map[string]RateLimit `json:"rate_limits,omitempty"`
}

type RateLimit struct {
	PostsPerHour int `json:"posts_per_hour,omitempty"`
	PostsPerDay  int `json:"posts_per_day,omitempty"`
}

// StorageConfig controls the optional audit persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./pubflow_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TelegramConfig configures the Telegram channel adapter.
type TelegramConfig struct {
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"`
}

// ObservabilityConfig controls the optional HTTP server exposing /metrics
// and pprof.
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:9090").
type ObservabilityConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	EnablePprof bool   `json:"enable_pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// MaintenanceConfig controls the retention sweep loop.
//
// Defaults: sweep_interval "1m".
type MaintenanceConfig struct {
	SweepInterval string `json:"sweep_interval,omitempty"`
}
