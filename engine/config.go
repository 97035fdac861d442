package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/statusmirror"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/storage"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

// ConfigurationError is returned by New for settings the engine cannot start
// without. It is fatal: the embedder fixes the config, it is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("engine config: %s: %s", e.Field, e.Reason)
}

// Config is the embedder-facing engine configuration.
//
// Only Identity and BaseURL are mandatory. Everything else defaults to the
// documented upstream behavior: 5s reconnect backoff, 60s alert cooldown,
// the stock refresh cadences from market.DefaultSchedules.
type Config struct {
	// Identity scopes the watch list, persisted alerts and dedup records to
	// one caller.
	Identity string `envconfig:"IDENTITY"`

	// BaseURL is the upstream game-data REST endpoint.
	BaseURL string `envconfig:"UPSTREAM_BASE_URL"`

	// PushURL is the upstream websocket push endpoint. Empty disables the
	// realtime channel; the engine then runs on polling alone.
	PushURL string `envconfig:"UPSTREAM_PUSH_URL"`

	// Watch seeds the watch set. Merged with the persisted watch list for
	// Identity, and replaced wholesale when WatchFile changes.
	Watch []string `envconfig:"WATCH_ITEMS"`

	// WatchFile optionally points at a YAML watch-list file that is
	// hot-reloaded on change. When set, the file is the authoritative list
	// and replaces Watch and the persisted list.
	WatchFile string `envconfig:"WATCH_FILE"`

	// DedupWindow is the alert cooldown. 0 picks the 60s default; a negative
	// value disables suppression entirely.
	DedupWindow time.Duration `envconfig:"DEDUP_WINDOW"`

	// ReconnectBackoff is the fixed delay before the single reconnection
	// attempt after an unexpected push close. 0 picks the 5s default.
	ReconnectBackoff time.Duration `envconfig:"RECONNECT_BACKOFF"`

	// FetchRatePerSec caps upstream requests per second across categories.
	// 0 means unlimited.
	FetchRatePerSec int `envconfig:"FETCH_RATE_PER_SEC"`

	// Schedules overrides the per-category refresh cadence. Nil uses
	// market.DefaultSchedules; categories absent from the map are not polled.
	Schedules map[market.Category]market.Schedule `ignored:"true"`

	// Storage configures the persistence boundary. An empty driver disables
	// persistence; alerts and dedup state then live in memory only.
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StoragePath   string `envconfig:"STORAGE_PATH"`

	// RedisAddr switches the status mirror to the shared Redis driver so
	// other processes can observe connectivity. Empty keeps it in-process.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX"`

	LogLevel string `envconfig:"LOG_LEVEL"`

	// Log overrides the logger built from LogLevel. Tests inject logx.Nop().
	Log logx.Logger `ignored:"true"`
}

// FromEnv builds a Config from GARDEN_*-prefixed environment variables,
// loading a .env file first when one is present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("garden", &cfg); err != nil {
		return Config{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Identity) == "" {
		return &ConfigurationError{Field: "Identity", Reason: "required"}
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return &ConfigurationError{Field: "BaseURL", Reason: "required"}
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return &ConfigurationError{Field: "BaseURL", Reason: "must be an http(s) URL"}
	}
	if c.PushURL != "" && !strings.HasPrefix(c.PushURL, "ws://") && !strings.HasPrefix(c.PushURL, "wss://") {
		return &ConfigurationError{Field: "PushURL", Reason: "must be a ws(s) URL"}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DedupWindow == 0 {
		c.DedupWindow = time.Minute
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 5 * time.Second
	}
	if c.Schedules == nil {
		c.Schedules = market.DefaultSchedules()
	}
	if c.Log.IsZero() {
		c.Log = logx.NewConsole(c.LogLevel)
	}
}

func (c *Config) storageConfig() storage.Config {
	return storage.Config{
		Driver:      c.StorageDriver,
		Path:        c.StoragePath,
		BusyTimeout: 5 * time.Second,
	}
}

func (c *Config) mirrorRedisConfig() statusmirror.RedisConfig {
	return statusmirror.RedisConfig{
		Addr:      c.RedisAddr,
		Password:  c.RedisPassword,
		DB:        c.RedisDB,
		KeyPrefix: c.RedisPrefix,
	}
}
