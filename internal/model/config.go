package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment overrides (TASKSYNC_API_BASE_URL).
const envPrefix = "TASKSYNC"

// APIConfig holds settings for the remote dispatch and stream endpoints.
type APIConfig struct {
	// BaseURL is the root URL of the task backend.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Token is the bearer token. Usually empty in the file and supplied by
	// TASKSYNC_API_TOKEN or the system keyring.
	Token string `mapstructure:"token" yaml:"token"`

	// TimeoutSec bounds a single dispatch request.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// StreamMessages selects the event stream instead of the push channel
	// for message tasks.
	StreamMessages bool `mapstructure:"stream_messages" yaml:"stream_messages"`
}

// PushConfig holds settings for the push channel records.
type PushConfig struct {
	// BaseURL is the root URL of the record store; defaults to the API base.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// PollIntervalMs is how often a watched record is re-read.
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`

	// Collections maps each task kind to its record collection.
	Collections map[string]string `mapstructure:"collections" yaml:"collections"`
}

// StoreConfig holds local database settings.
type StoreConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API   APIConfig   `mapstructure:"api" yaml:"api"`
	Push  PushConfig  `mapstructure:"push" yaml:"push"`
	Store StoreConfig `mapstructure:"store" yaml:"store"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// DefaultCollections maps task kinds to their default push collections.
var DefaultCollections = map[string]string{
	string(TaskKindMessage):   "chat_tasks",
	string(TaskKindChecklist): "checklist_tasks",
	string(TaskKindCheckin):   "checkin_tasks",
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tasksync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "tasksync", "config.yaml")
}

// DefaultStorePath returns the default SQLite database location.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tasksync.db"
	}
	return filepath.Join(home, ".local", "share", "tasksync", "tasksync.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://127.0.0.1:8000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.stream_messages", false)
	v.SetDefault("push.base_url", "")
	v.SetDefault("push.poll_interval_ms", 1000)
	collections := make(map[string]string, len(DefaultCollections))
	for kind, coll := range DefaultCollections {
		collections[kind] = coll
	}
	v.SetDefault("push.collections", collections)
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.timezone", "Local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first; TASKSYNC_* variables
// override file values. A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Push.BaseURL == "" {
		cfg.Push.BaseURL = cfg.API.BaseURL
	}
	if cfg.Push.Collections == nil {
		cfg.Push.Collections = map[string]string{}
	}
	for kind, coll := range DefaultCollections {
		if cfg.Push.Collections[kind] == "" {
			cfg.Push.Collections[kind] = coll
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The API token is never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	api := cfg.API
	api.Token = ""

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", api)
	v.Set("push", cfg.Push)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// Location resolves the configured timezone. "Local" or empty selects the
// process-local zone.
func (c StoreConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// PollInterval returns the push poll interval with a floor of 100ms.
func (c PushConfig) PollInterval() time.Duration {
	d := time.Duration(c.PollIntervalMs) * time.Millisecond
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// Collection returns the push collection for kind.
func (c PushConfig) Collection(kind TaskKind) string {
	if coll := c.Collections[string(kind)]; coll != "" {
		return coll
	}
	return DefaultCollections[string(kind)]
}
