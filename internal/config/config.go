// Package config handles application configuration for the sync engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the on-disk configuration, read on every start. Its
// values are used directly by the CLI; none of them is written into the
// state store's settings:value:* keys (see internal/store), which the
// scheduler and admin surface read on their own.
type Config struct {
	Doc      DocStoreConfig `yaml:"doc_store"`
	CalDAV   CalDAVConfig   `yaml:"caldav"`
	Calendar CalendarConfig `yaml:"calendar"`
	Store    StoreConfig    `yaml:"store"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Admin    AdminConfig    `yaml:"admin"`
	Sync     SyncConfig     `yaml:"sync"`
	Notify   NotifyConfig   `yaml:"notify"`
	LogLevel string         `yaml:"log_level"`
}

// DocStoreConfig holds connection settings for the Doc store REST API.
type DocStoreConfig struct {
	BaseURL    string `yaml:"base_url"`
	BearerEnv  string `yaml:"bearer_token_env"` // name of the env var holding the token
	APIVersion string `yaml:"api_version"`
}

// CalDAVConfig holds connection settings for the CalDAV server.
type CalDAVConfig struct {
	BaseURL     string `yaml:"base_url"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// CalendarConfig holds the calendar settings from the YAML file (§3
// "Calendar settings"). Href is passed to the CalDAV client and
// FullSyncIntervalMinutes sets the daemon's tick interval; the values are
// not copied into the state store.
type CalendarConfig struct {
	Href                    string `yaml:"href"`
	Name                    string `yaml:"name"`
	Color                   string `yaml:"color"`
	Timezone                string `yaml:"timezone"`
	DateOnlyTimezone        string `yaml:"date_only_timezone"`
	FullSyncIntervalMinutes int    `yaml:"full_sync_interval_minutes"`
}

// StoreConfig holds the state-store substrate configuration.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WebhookConfig holds the webhook ingress listen settings.
type WebhookConfig struct {
	Addr     string `yaml:"addr"`
	Provider string `yaml:"provider"`
}

// AdminConfig holds admin-surface authentication settings.
type AdminConfig struct {
	Addr     string `yaml:"addr"`
	TokenEnv string `yaml:"token_env"`
}

// SyncConfig holds scheduler behavior settings.
type SyncConfig struct {
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// NotifyConfig controls admin-facing notifications on sync completion/error.
// OS notifications (notify-send/osascript/PowerShell) are always attempted
// when Enabled; LogPath additionally turns on a rotating notification log
// that the admin surface's "history" action reads back.
type NotifyConfig struct {
	Enabled     bool   `yaml:"enabled"`
	OnSyncError bool   `yaml:"on_sync_error"`
	OnConflict  bool   `yaml:"on_conflict"`
	LogPath     string `yaml:"log_path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Calendar: CalendarConfig{
			Name:                    "Notion",
			Color:                   "#FF7F00",
			FullSyncIntervalMinutes: 30,
		},
		Store: StoreConfig{
			Path: filepath.Join(GetDataDir(), "state.db"),
		},
		Webhook: WebhookConfig{
			Addr:     ":8181",
			Provider: "notion",
		},
		Admin: AdminConfig{
			Addr: ":8182",
		},
		Sync: SyncConfig{
			WorkerPoolSize: 4,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from the specified path, or the default XDG path
// if empty. If the config file doesn't exist, it creates one with defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	if cfg.Store.Path != "" {
		cfg.Store.Path = ExpandPath(cfg.Store.Path)
	}

	return cfg, nil
}

// save writes the configuration to the specified path.
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	content := "# notioncalsync configuration\n" + string(data)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration has the minimum fields needed to
// construct the CalDAV and Doc-store clients.
func (c *Config) Validate() error {
	if c.Doc.BaseURL == "" {
		return fmt.Errorf("doc_store.base_url is required")
	}
	if c.CalDAV.BaseURL == "" {
		return fmt.Errorf("caldav.base_url is required")
	}
	if c.Calendar.FullSyncIntervalMinutes <= 0 {
		return fmt.Errorf("calendar.full_sync_interval_minutes must be positive")
	}
	return nil
}

// FullSyncInterval returns the configured full-sync interval as a Duration.
func (c *Config) FullSyncInterval() time.Duration {
	return time.Duration(c.Calendar.FullSyncIntervalMinutes) * time.Minute
}

// getXDGDir returns a directory path following the XDG base directory spec.
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "notioncalsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "notioncalsync")
	}
	return filepath.Join(home, fallbackPath, "notioncalsync")
}

// GetConfigDir returns the configuration directory following XDG spec.
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec.
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
