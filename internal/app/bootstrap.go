package app

import (
	"fmt"
	"strings"
	"time"

	"pubflow/internal/config"
	"pubflow/internal/observability"
	"pubflow/internal/publisher"
	"pubflow/internal/scheduler"
	"pubflow/internal/storage"
	"pubflow/internal/workflow"
	"pubflow/pkg/logx"
)

// Section mappers translate raw config (string durations) into component
// configs. They double as validators for hot reload.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapWorkflowConfig(cfg *config.Config) (workflow.Config, error) {
	wc := cfg.Workflows
	if wc.MaxConcurrent < 0 {
		return workflow.Config{}, fmt.Errorf("workflows.max_concurrent must be >= 0")
	}
	if wc.RetryAttempts < 0 {
		return workflow.Config{}, fmt.Errorf("workflows.retry_attempts must be >= 0")
	}
	timeout, err := config.ParseDurationField("workflows.default_timeout", wc.DefaultTimeout)
	if err != nil {
		return workflow.Config{}, err
	}
	delay, err := config.ParseDurationField("workflows.retry_delay", wc.RetryDelay)
	if err != nil {
		return workflow.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("workflows.retention", wc.Retention, 24*time.Hour)
	if err != nil {
		return workflow.Config{}, err
	}
	return workflow.Config{
		MaxConcurrent:  wc.MaxConcurrent,
		DefaultTimeout: timeout,
		RetryAttempts:  wc.RetryAttempts,
		RetryDelay:     delay,
		Exponential:    wc.Exponential,
		Retention:      retention,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, nil
}

func mapPublisherConfig(cfg *config.Config) (publisher.Config, error) {
	pc := cfg.Publisher
	if pc.Workers < 0 {
		return publisher.Config{}, fmt.Errorf("publisher.workers must be >= 0")
	}
	if pc.RetryAttempts < 0 {
		return publisher.Config{}, fmt.Errorf("publisher.retry_attempts must be >= 0")
	}
	delay, err := config.ParseDurationField("publisher.retry_delay", pc.RetryDelay)
	if err != nil {
		return publisher.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("publisher.retention", pc.Retention, 7*24*time.Hour)
	if err != nil {
		return publisher.Config{}, err
	}
	if tz := strings.TrimSpace(pc.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return publisher.Config{}, fmt.Errorf("publisher.default_timezone: invalid %q: %w", tz, err)
		}
	}
	var limits map[string]publisher.RateLimit
	if len(pc.RateLimits) > 0 {
		limits = make(map[string]publisher.RateLimit, len(pc.RateLimits))
		for platform, rl := range pc.RateLimits {
			if rl.PostsPerHour < 0 || rl.PostsPerDay < 0 {
				return publisher.Config{}, fmt.Errorf("publisher.rate_limits.%s: limits must be >= 0", platform)
			}
			limits[strings.ToLower(platform)] = publisher.RateLimit{
				PostsPerHour: rl.PostsPerHour,
				PostsPerDay:  rl.PostsPerDay,
			}
		}
	}
	return publisher.Config{
		Enabled:          pc.Enabled,
		Workers:          pc.Workers,
		RetryAttempts:    pc.RetryAttempts,
		RetryDelay:       delay,
		DefaultTimezone:  pc.DefaultTimezone,
		EnabledPlatforms: pc.EnabledPlatforms,
		Retention:        retention,
		RateLimits:       limits,
	}, nil
}

// mapStorageConfig returns (cfg, enabled, err). Storage is optional.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.ServerConfig, error) {
	if cfg.Observability == nil {
		return observability.ServerConfig{}, nil
	}
	oc := cfg.Observability
	rt, err := config.ParseDurationField("observability.read_timeout", oc.ReadTimeout)
	if err != nil {
		return observability.ServerConfig{}, err
	}
	wt, err := config.ParseDurationField("observability.write_timeout", oc.WriteTimeout)
	if err != nil {
		return observability.ServerConfig{}, err
	}
	it, err := config.ParseDurationField("observability.idle_timeout", oc.IdleTimeout)
	if err != nil {
		return observability.ServerConfig{}, err
	}
	return observability.ServerConfig{
		Enabled:      oc.Enabled,
		Addr:         oc.Addr,
		EnablePprof:  oc.EnablePprof,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		IdleTimeout:  it,
	}, nil
}

func mapSweepInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("maintenance.sweep_interval", cfg.Maintenance.SweepInterval, time.Minute)
}
