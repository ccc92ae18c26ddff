// Package config loads the client engine configuration: a YAML file merged
// with CHATSYNC_* environment overrides, with command-line flags winning
// over both.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Remote    RemoteConfig    `yaml:"remote"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Upload    UploadConfig    `yaml:"upload"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Retention RetentionConfig `yaml:"retention"`
}

// StorageConfig holds local persistence paths.
type StorageConfig struct {
	DBPath  string `yaml:"db_path"`
	BlobDir string `yaml:"blob_dir"`
}

// RemoteConfig holds the REST endpoint settings.
type RemoteConfig struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Timeout   Duration `yaml:"timeout"`
	RateRPS   float64  `yaml:"rate_rps"`
	RateBurst int      `yaml:"rate_burst"`
}

// RealtimeConfig holds the websocket channel settings.
type RealtimeConfig struct {
	URL              string   `yaml:"url"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
}

// UploadConfig bounds attachment uploads.
type UploadConfig struct {
	MaxBytes SizeBytes `yaml:"max_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// MetricsConfig holds the debug metrics listener; empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RetentionConfig gates the local purge schedule.
type RetentionConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	Period  Duration `yaml:"period"`
}

// Load reads the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvOverrides applies CHATSYNC_* environment overrides onto cfg and
// reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_BLOB_DIR"); v != "" {
		envUsed = true
		cfg.Storage.BlobDir = v
	}
	if v := os.Getenv("CHATSYNC_REMOTE_URL"); v != "" {
		envUsed = true
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_API_KEY"); v != "" {
		envUsed = true
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("CHATSYNC_REALTIME_URL"); v != "" {
		envUsed = true
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("CHATSYNC_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Remote.RateRPS = f
		}
	}
	if v := os.Getenv("CHATSYNC_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Remote.RateBurst = n
		}
	}
	if v := os.Getenv("CHATSYNC_METRICS_ADDR"); v != "" {
		envUsed = true
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	return envUsed
}

// LoadEffective loads the file (missing file yields defaults) and applies
// env overrides.
func LoadEffective(path string) (*Config, bool) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (dbPath, remoteURL, cfgPath string, setFlags map[string]bool) {
	dbPtr := flag.String("db", "./.chatsync", "Pebble DB path")
	remotePtr := flag.String("remote", "http://127.0.0.1:8081", "remote service base URL")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *dbPtr, *remotePtr, *cfgPtr, setFlags
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the CHATSYNC_CONFIG env var when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
