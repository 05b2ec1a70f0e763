package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Log
		Platform
		Sync
		Tasks
		Segments
		Forecast
		Export
	}

	HTTP struct {
		Port int32
		Host string
	}

	Global struct {
		ShutdownTimeoutInSeconds int
	}

	Database struct {
		Path string
	}

	Log struct {
		Level    string
		Encoding string
	}

	// Platform describes the external scheduling platform's query endpoint.
	Platform struct {
		URL         string
		APIKey      string
		BusinessID  string
		Locations   []Location
		HTTPTimeout time.Duration
	}

	// Location is one clinic site; its position in Platform.Locations is the
	// location index persisted in sync checkpoints.
	Location struct {
		Key   string
		Token string
		Name  string
	}

	Sync struct {
		PageSize              int
		InterPageDelay        time.Duration
		MaxRetries            int
		BaseBackoff           time.Duration
		MaxBackoff            time.Duration
		MaxPagesPerInvocation int
		InvocationBudget      time.Duration
		ScheduleEnabled       bool
		Schedule              string        // Cron format: "*/10 * * * *"
		RecomputeSchedule     string        // Cron format: "15 3 * * *"
		IncrementalLookback   time.Duration // stop date for scheduled runs
	}

	Tasks struct {
		Enabled           bool
		Workers           int
		ReleaseAfter      time.Duration
		CleanupInterval   time.Duration
		RetentionDuration time.Duration
	}

	// Segments holds tox lifecycle cutoffs, expressed as multiples of a
	// client's own average inter-visit interval.
	Segments struct {
		ToxDefaultIntervalDays float64
		ToxDueRatio            float64
		ToxOverdueRatio        float64
		ToxProbablyLostRatio   float64
		ToxLostRatio           float64
	}

	Forecast struct {
		SafetyStockPct float64
	}

	Export struct {
		MaxRows int
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "json")

	// Platform defaults
	v.SetDefault("platform_url", DefaultPlatformURL)
	v.SetDefault("platform_api_key", "")
	v.SetDefault("platform_business_id", "")
	v.SetDefault("platform_locations", "")
	v.SetDefault("platform_http_timeout", "25s")

	// Sync defaults
	v.SetDefault("sync_page_size", 50)
	v.SetDefault("sync_inter_page_delay", "500ms")
	v.SetDefault("sync_max_retries", 3)
	v.SetDefault("sync_base_backoff", "1s")
	v.SetDefault("sync_max_backoff", "8s")
	v.SetDefault("sync_max_pages_per_invocation", 0)
	v.SetDefault("sync_invocation_budget", "25s")
	v.SetDefault("sync_schedule_enabled", false)
	v.SetDefault("sync_schedule", "*/10 * * * *")
	v.SetDefault("recompute_schedule", "15 3 * * *")
	v.SetDefault("sync_incremental_lookback", "720h") // 30 days

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 1)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("task_retention_duration", "24h")

	// Segmentation defaults
	v.SetDefault("tox_default_interval_days", 90)
	v.SetDefault("tox_due_ratio", 1.0)
	v.SetDefault("tox_overdue_ratio", 1.25)
	v.SetDefault("tox_probably_lost_ratio", 1.75)
	v.SetDefault("tox_lost_ratio", 2.5)

	v.SetDefault("forecast_safety_stock_pct", 20)
	v.SetDefault("export_max_rows", 10000)

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Log: Log{
			Level:    v.GetString("LOG_LEVEL"),
			Encoding: v.GetString("LOG_ENCODING"),
		},
		Platform: Platform{
			URL:         v.GetString("PLATFORM_URL"),
			APIKey:      v.GetString("PLATFORM_API_KEY"),
			BusinessID:  v.GetString("PLATFORM_BUSINESS_ID"),
			Locations:   ParseLocations(v.GetString("PLATFORM_LOCATIONS")),
			HTTPTimeout: v.GetDuration("PLATFORM_HTTP_TIMEOUT"),
		},
		Sync: Sync{
			PageSize:              v.GetInt("SYNC_PAGE_SIZE"),
			InterPageDelay:        v.GetDuration("SYNC_INTER_PAGE_DELAY"),
			MaxRetries:            v.GetInt("SYNC_MAX_RETRIES"),
			BaseBackoff:           v.GetDuration("SYNC_BASE_BACKOFF"),
			MaxBackoff:            v.GetDuration("SYNC_MAX_BACKOFF"),
			MaxPagesPerInvocation: v.GetInt("SYNC_MAX_PAGES_PER_INVOCATION"),
			InvocationBudget:      v.GetDuration("SYNC_INVOCATION_BUDGET"),
			ScheduleEnabled:       v.GetBool("SYNC_SCHEDULE_ENABLED"),
			Schedule:              v.GetString("SYNC_SCHEDULE"),
			RecomputeSchedule:     v.GetString("RECOMPUTE_SCHEDULE"),
			IncrementalLookback:   v.GetDuration("SYNC_INCREMENTAL_LOOKBACK"),
		},
		Tasks: Tasks{
			Enabled:           v.GetBool("TASKS_ENABLED"),
			Workers:           v.GetInt("TASK_WORKERS"),
			ReleaseAfter:      v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:   v.GetDuration("TASK_CLEANUP_INTERVAL"),
			RetentionDuration: v.GetDuration("TASK_RETENTION_DURATION"),
		},
		Segments: Segments{
			ToxDefaultIntervalDays: v.GetFloat64("TOX_DEFAULT_INTERVAL_DAYS"),
			ToxDueRatio:            v.GetFloat64("TOX_DUE_RATIO"),
			ToxOverdueRatio:        v.GetFloat64("TOX_OVERDUE_RATIO"),
			ToxProbablyLostRatio:   v.GetFloat64("TOX_PROBABLY_LOST_RATIO"),
			ToxLostRatio:           v.GetFloat64("TOX_LOST_RATIO"),
		},
		Forecast: Forecast{
			SafetyStockPct: v.GetFloat64("FORECAST_SAFETY_STOCK_PCT"),
		},
		Export: Export{
			MaxRows: v.GetInt("EXPORT_MAX_ROWS"),
		},
	}
}

// ParseLocations parses "key=token[=Display Name]" entries separated by commas.
// Entries without a token are skipped.
func ParseLocations(raw string) []Location {
	var out []Location
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			continue
		}
		loc := Location{
			Key:   strings.TrimSpace(parts[0]),
			Token: strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			loc.Name = strings.TrimSpace(parts[2])
		}
		if loc.Name == "" {
			loc.Name = loc.Key
		}
		out = append(out, loc)
	}
	return out
}

// LocationKeys returns the configured location keys in index order.
func (p Platform) LocationKeys() []string {
	keys := make([]string, len(p.Locations))
	for i, l := range p.Locations {
		keys[i] = l.Key
	}
	return keys
}

// Validate checks the settings the sync pipeline cannot run without.
func (p Platform) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("PLATFORM_URL is empty")
	}
	if len(p.Locations) == 0 {
		return fmt.Errorf("PLATFORM_LOCATIONS has no usable entries")
	}
	return nil
}
