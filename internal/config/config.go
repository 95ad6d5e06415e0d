package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.wppc/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
	Retry  RetryConfig  `toml:"retry"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig locates the wppconnect server.
type ServerConfig struct {
	APIURL    string `toml:"api_url"`
	SocketURL string `toml:"socket_url"`
	SecretKey string `toml:"secret_key"`

	Timeout           time.Duration `toml:"timeout"`
	ListChatsTimeout  time.Duration `toml:"list_chats_timeout"`
	HealthTimeout     time.Duration `toml:"health_timeout"`
	HealthInterval    time.Duration `toml:"health_interval"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
}

// AuthConfig tunes the QR login.
type AuthConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	MaxPolls     int           `toml:"max_polls"`
	SettleDelay  time.Duration `toml:"settle_delay"`
}

// RetryConfig tunes the initial data load.
type RetryConfig struct {
	Base        time.Duration `toml:"base"`
	MaxAttempts int           `toml:"max_attempts"`
}

// LogConfig controls the session log file.
type LogConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			APIURL:            "http://localhost:21465/api",
			SocketURL:         "http://localhost:21465",
			Timeout:           30 * time.Second,
			ListChatsTimeout:  25 * time.Second,
			HealthTimeout:     5 * time.Second,
			HealthInterval:    30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Auth: AuthConfig{
			PollInterval: 3 * time.Second,
			MaxPolls:     60,
			SettleDelay:  time.Second,
		},
		Retry: RetryConfig{
			Base:        3 * time.Second,
			MaxAttempts: 3,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  16,
			MaxBackups: 3,
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults reads path over Default. A missing file is not an error.
// Environment overrides are applied last.
func LoadWithDefaults(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg from WPPC_* variables, loading a .env file from the
// working directory first when one exists.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()

	setString(&cfg.DefaultSession, "WPPC_SESSION")
	setString(&cfg.Server.APIURL, "WPPC_API_URL")
	setString(&cfg.Server.SocketURL, "WPPC_SOCKET_URL")
	setString(&cfg.Server.SecretKey, "WPPC_SECRET_KEY")
	setString(&cfg.Log.Level, "WPPC_LOG_LEVEL")
	if v, err := time.ParseDuration(os.Getenv("WPPC_TIMEOUT")); err == nil {
		cfg.Server.Timeout = v
	}
	if v, err := strconv.Atoi(os.Getenv("WPPC_MAX_POLLS")); err == nil && v > 0 {
		cfg.Auth.MaxPolls = v
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
