package app

import (
	"strings"
	"testing"
	"time"

	"pubflow/internal/config"
)

func TestMapWorkflowConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Workflows: config.WorkflowsConfig{
		MaxConcurrent:  3,
		DefaultTimeout: "30s",
		RetryAttempts:  2,
		RetryDelay:     "5s",
		Exponential:    true,
		Retention:      "48h",
	}}
	wc, err := mapWorkflowConfig(cfg)
	if err != nil {
		t.Fatalf("mapWorkflowConfig: %v", err)
	}
	if wc.MaxConcurrent != 3 || wc.DefaultTimeout != 30*time.Second ||
		wc.RetryDelay != 5*time.Second || !wc.Exponential || wc.Retention != 48*time.Hour {
		t.Fatalf("config = %+v", wc)
	}
}

func TestMapWorkflowConfigDefaults(t *testing.T) {
	t.Parallel()
	wc, err := mapWorkflowConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapWorkflowConfig: %v", err)
	}
	if wc.Retention != 24*time.Hour {
		t.Fatalf("retention = %v, want 24h default", wc.Retention)
	}
	if wc.DefaultTimeout != 0 {
		t.Fatalf("default timeout = %v, want 0", wc.DefaultTimeout)
	}
}

func TestMapWorkflowConfigRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		wc   config.WorkflowsConfig
		want string
	}{
		{"negative concurrency", config.WorkflowsConfig{MaxConcurrent: -1}, "max_concurrent"},
		{"negative retries", config.WorkflowsConfig{RetryAttempts: -1}, "retry_attempts"},
		{"bad timeout", config.WorkflowsConfig{DefaultTimeout: "later"}, "default_timeout"},
		{"bad retention", config.WorkflowsConfig{Retention: "forever"}, "retention"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := mapWorkflowConfig(&config.Config{Workflows: tt.wc})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()
	sc, err := mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{Enabled: true, Timezone: "Europe/Berlin"}})
	if err != nil {
		t.Fatalf("mapSchedulerConfig: %v", err)
	}
	if !sc.Enabled || sc.Timezone != "Europe/Berlin" {
		t.Fatalf("config = %+v", sc)
	}

	if _, err := mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{Timezone: "Mars/Olympus"}}); err == nil {
		t.Fatal("invalid timezone accepted")
	}
}

func TestMapPublisherConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Publisher: config.PublisherConfig{
		Enabled:          true,
		Workers:          2,
		RetryDelay:       "1s",
		EnabledPlatforms: []string{"telegram"},
		RateLimits: map[string]config.RateLimit{
			"Telegram": {PostsPerHour: 20, PostsPerDay: 100},
		},
	}}
	pc, err := mapPublisherConfig(cfg)
	if err != nil {
		t.Fatalf("mapPublisherConfig: %v", err)
	}
	if pc.RetryDelay != time.Second || pc.Retention != 7*24*time.Hour {
		t.Fatalf("config = %+v", pc)
	}
	// Platform keys are normalized to lower case.
	rl, ok := pc.RateLimits["telegram"]
	if !ok || rl.PostsPerHour != 20 {
		t.Fatalf("rate limits = %+v", pc.RateLimits)
	}
}

func TestMapPublisherConfigRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pc   config.PublisherConfig
	}{
		{"negative workers", config.PublisherConfig{Workers: -1}},
		{"negative retries", config.PublisherConfig{RetryAttempts: -1}},
		{"bad delay", config.PublisherConfig{RetryDelay: "whenever"}},
		{"bad timezone", config.PublisherConfig{DefaultTimezone: "Nowhere/Here"}},
		{"negative rate limit", config.PublisherConfig{RateLimits: map[string]config.RateLimit{"x": {PostsPerHour: -1}}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := mapPublisherConfig(&config.Config{Publisher: tt.pc}); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	sc, enabled, err := mapStorageConfig(&config.Config{})
	if err != nil || enabled {
		t.Fatalf("no section: %+v, %v, %v", sc, enabled, err)
	}

	sc, enabled, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "none"}})
	if err != nil || enabled {
		t.Fatalf("driver none: %v, %v", enabled, err)
	}

	sc, enabled, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{
		Driver:      "SQLite",
		Path:        "./data.db",
		BusyTimeout: "5s",
	}})
	if err != nil || !enabled {
		t.Fatalf("sqlite: %v, %v", enabled, err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("config = %+v", sc)
	}

	if _, _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file", BusyTimeout: "soon"}}); err == nil {
		t.Fatal("bad busy_timeout accepted")
	}
}

func TestMapObservabilityConfig(t *testing.T) {
	t.Parallel()
	oc, err := mapObservabilityConfig(&config.Config{})
	if err != nil || oc.Enabled {
		t.Fatalf("no section: %+v, %v", oc, err)
	}

	oc, err = mapObservabilityConfig(&config.Config{Observability: &config.ObservabilityConfig{
		Enabled:     true,
		Addr:        "127.0.0.1:9191",
		ReadTimeout: "5s",
	}})
	if err != nil {
		t.Fatalf("mapObservabilityConfig: %v", err)
	}
	if !oc.Enabled || oc.Addr != "127.0.0.1:9191" || oc.ReadTimeout != 5*time.Second {
		t.Fatalf("config = %+v", oc)
	}

	if _, err := mapObservabilityConfig(&config.Config{Observability: &config.ObservabilityConfig{WriteTimeout: "often"}}); err == nil {
		t.Fatal("bad write_timeout accepted")
	}
}

func TestMapSweepInterval(t *testing.T) {
	t.Parallel()
	d, err := mapSweepInterval(&config.Config{})
	if err != nil || d != time.Minute {
		t.Fatalf("default: %v, %v", d, err)
	}
	d, err = mapSweepInterval(&config.Config{Maintenance: config.MaintenanceConfig{SweepInterval: "10s"}})
	if err != nil || d != 10*time.Second {
		t.Fatalf("explicit: %v, %v", d, err)
	}
	if _, err := mapSweepInterval(&config.Config{Maintenance: config.MaintenanceConfig{SweepInterval: "often"}}); err == nil {
		t.Fatal("bad sweep_interval accepted")
	}
}
