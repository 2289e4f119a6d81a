package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "chatsync"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "CHATSYNC_DATA_DIR"
	// EnvPrefix prefixes environment overrides, e.g. CHATSYNC_REDIS_ADDR.
	EnvPrefix = "CHATSYNC"

	// DefaultListenAddress is the HTTP address used when none is configured.
	DefaultListenAddress = ":8080"
	// DefaultDatabaseFile is the SQLite file name inside the data directory.
	DefaultDatabaseFile = "chatsync.db"
	// DefaultTypingWindowMs is how long a typing signal counts as current.
	DefaultTypingWindowMs = 2000
	// DefaultTypingRefreshMs is how often live typing queries re-evaluate.
	DefaultTypingRefreshMs = 500
	// DefaultSubscriptionBuffer is the per-subscription update queue length.
	DefaultSubscriptionBuffer = 8
	// DefaultLogLevel is the zap level used when none is configured.
	DefaultLogLevel = "info"

	configFileName = "config.json"
)

// RedisConfig enables the cross-instance change relay when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Channel  string `json:"channel" mapstructure:"channel"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// ServerConfig contains persistent server settings.
type ServerConfig struct {
	InstanceID         string      `json:"instance_id" mapstructure:"instance_id"`
	ListenAddress      string      `json:"listen_address" mapstructure:"listen_address"`
	DatabaseFile       string      `json:"database_file" mapstructure:"database_file"`
	TypingWindowMs     int64       `json:"typing_window_ms" mapstructure:"typing_window_ms"`
	TypingRefreshMs    int64       `json:"typing_refresh_ms" mapstructure:"typing_refresh_ms"`
	SubscriptionBuffer int         `json:"subscription_buffer" mapstructure:"subscription_buffer"`
	LogLevel           string      `json:"log_level" mapstructure:"log_level"`
	Development        bool        `json:"development" mapstructure:"development"`
	Redis              RedisConfig `json:"redis" mapstructure:"redis"`
}

// TypingWindow returns the typing validity window.
func (c *ServerConfig) TypingWindow() time.Duration {
	return time.Duration(c.TypingWindowMs) * time.Millisecond
}

// TypingRefresh returns the live typing re-evaluation interval.
func (c *ServerConfig) TypingRefresh() time.Duration {
	return time.Duration(c.TypingRefreshMs) * time.Millisecond
}

// DatabasePath resolves the database file against the data directory.
func (c *ServerConfig) DatabasePath(dataDir string) string {
	if filepath.IsAbs(c.DatabaseFile) {
		return c.DatabaseFile
	}
	return filepath.Join(dataDir, c.DatabaseFile)
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CHATSYNC_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads config.json and applies CHATSYNC_* environment overrides.
// Nested keys use underscores: redis.addr is CHATSYNC_REDIS_ADDR.
func Load(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ServerConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config file exist, fills in
// missing defaults on disk, then returns the config with environment
// overrides applied along with its path.
func LoadOrCreate() (*ServerConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	stored, err := loadFile(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(cfgPath, defaultConfig()); err != nil {
			return nil, "", err
		}
	case err != nil:
		return nil, "", err
	case normalizeDefaults(stored):
		if err := Save(cfgPath, stored); err != nil {
			return nil, "", err
		}
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		return nil, "", err
	}
	normalizeDefaults(cfg)
	return cfg, cfgPath, nil
}

func loadFile(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := defaultConfig()
	v.SetDefault("instance_id", "")
	v.SetDefault("listen_address", defaults.ListenAddress)
	v.SetDefault("database_file", defaults.DatabaseFile)
	v.SetDefault("typing_window_ms", defaults.TypingWindowMs)
	v.SetDefault("typing_refresh_ms", defaults.TypingRefreshMs)
	v.SetDefault("subscription_buffer", defaults.SubscriptionBuffer)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("development", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "")
}

func defaultConfig() *ServerConfig {
	return &ServerConfig{
		InstanceID:         uuid.NewString(),
		ListenAddress:      DefaultListenAddress,
		DatabaseFile:       DefaultDatabaseFile,
		TypingWindowMs:     DefaultTypingWindowMs,
		TypingRefreshMs:    DefaultTypingRefreshMs,
		SubscriptionBuffer: DefaultSubscriptionBuffer,
		LogLevel:           DefaultLogLevel,
	}
}

func normalizeDefaults(cfg *ServerConfig) bool {
	updated := false

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = DefaultListenAddress
		updated = true
	}

	if strings.TrimSpace(cfg.DatabaseFile) == "" {
		cfg.DatabaseFile = DefaultDatabaseFile
		updated = true
	}

	if cfg.TypingWindowMs <= 0 {
		cfg.TypingWindowMs = DefaultTypingWindowMs
		updated = true
	}

	if cfg.TypingRefreshMs <= 0 {
		cfg.TypingRefreshMs = DefaultTypingRefreshMs
		updated = true
	}

	if cfg.SubscriptionBuffer <= 0 {
		cfg.SubscriptionBuffer = DefaultSubscriptionBuffer
		updated = true
	}

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}
