package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
storage:
  db_path: /var/lib/chatsync
  blob_dir: /var/lib/chatsync/blobs
remote:
  base_url: https://chat.example.com
  api_key: secret
  timeout: 5s
  rate_rps: 10
  rate_burst: 3
realtime:
  url: wss://chat.example.com/realtime
  handshake_timeout: 2s
upload:
  max_bytes: 8MB
logging:
  level: debug
  format: json
metrics:
  addr: :9090
retention:
  enabled: true
  cron: "0 3 * * *"
  period: 720h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DBPath != "/var/lib/chatsync" {
		t.Fatalf("db_path: %s", cfg.Storage.DBPath)
	}
	if cfg.Remote.Timeout.Duration() != 5*time.Second {
		t.Fatalf("timeout: %v", cfg.Remote.Timeout.Duration())
	}
	if cfg.Remote.RateRPS != 10 || cfg.Remote.RateBurst != 3 {
		t.Fatalf("rate: %v/%v", cfg.Remote.RateRPS, cfg.Remote.RateBurst)
	}
	if cfg.Upload.MaxBytes.Int64() != 8*1000*1000 {
		t.Fatalf("max_bytes: %d", cfg.Upload.MaxBytes.Int64())
	}
	if !cfg.Retention.Enabled || cfg.Retention.Period.Duration() != 720*time.Hour {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATSYNC_DB_PATH", "/env/db")
	t.Setenv("CHATSYNC_REMOTE_URL", "http://env:8081")
	t.Setenv("CHATSYNC_RATE_RPS", "2.5")
	t.Setenv("CHATSYNC_LOG_LEVEL", "warn")

	cfg := &Config{}
	cfg.Storage.DBPath = "/file/db"
	if !LoadEnvOverrides(cfg) {
		t.Fatalf("env overrides not detected")
	}
	if cfg.Storage.DBPath != "/env/db" {
		t.Fatalf("env did not win: %s", cfg.Storage.DBPath)
	}
	if cfg.Remote.BaseURL != "http://env:8081" {
		t.Fatalf("remote url: %s", cfg.Remote.BaseURL)
	}
	if cfg.Remote.RateRPS != 2.5 {
		t.Fatalf("rate rps: %v", cfg.Remote.RateRPS)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("log level: %s", cfg.Logging.Level)
	}
}

func TestLoadEffectiveMissingFileYieldsDefaults(t *testing.T) {
	cfg, envUsed := LoadEffective(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg == nil {
		t.Fatalf("expected defaults for missing file")
	}
	_ = envUsed
}

func TestDurationParsesPlainSeconds(t *testing.T) {
	path := writeConfig(t, "remote:\n  timeout: 30\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Timeout.Duration() != 30*time.Second {
		t.Fatalf("plain number not read as seconds: %v", cfg.Remote.Timeout.Duration())
	}
}

func TestSizeBytesPlainInteger(t *testing.T) {
	path := writeConfig(t, "upload:\n  max_bytes: 1048576\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Upload.MaxBytes.Int64() != 1048576 {
		t.Fatalf("plain integer size: %d", cfg.Upload.MaxBytes.Int64())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "/env/config.yaml")
	if p := ResolveConfigPath("/flag/config.yaml", true); p != "/flag/config.yaml" {
		t.Fatalf("explicit flag must win: %s", p)
	}
	if p := ResolveConfigPath("/default/config.yaml", false); p != "/env/config.yaml" {
		t.Fatalf("env must win over default: %s", p)
	}
}
