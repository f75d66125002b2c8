package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.BasePath != "" {
		t.Errorf("base path = %q, want empty", cfg.Server.BasePath)
	}
	if cfg.Scan.BatchSize != 100 || cfg.Scan.HeartbeatEvery != 10 || cfg.Scan.FlushOnCancel {
		t.Errorf("scan = %+v", cfg.Scan)
	}
	if cfg.Rclone.Binary != "rclone" {
		t.Errorf("rclone binary = %q", cfg.Rclone.Binary)
	}
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  base_path: rcindex/
database:
  path: /tmp/catalog.db
rclone:
  binary: /usr/local/bin/rclone
  config_path: /etc/rclone.conf
scan:
  batch_size: 500
  flush_on_cancel: true
logging:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.BasePath != "/rcindex" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Rclone.ConfigPath != "/etc/rclone.conf" {
		t.Errorf("rclone config = %q", cfg.Rclone.ConfigPath)
	}
	if cfg.Scan.BatchSize != 500 || !cfg.Scan.FlushOnCancel {
		t.Errorf("scan = %+v", cfg.Scan)
	}
	if cfg.Scan.HeartbeatEvery != 10 {
		t.Errorf("heartbeat = %d, want default 10", cfg.Scan.HeartbeatEvery)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("RCX_PORT", "7000")
	t.Setenv("RCX_DB_PATH", "/var/lib/rcindex.db")
	t.Setenv("RCX_SCAN_FLUSH_ON_CANCEL", "true")
	t.Setenv("RCX_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Database.Path != "/var/lib/rcindex.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if !cfg.Scan.FlushOnCancel {
		t.Error("flush_on_cancel not set from env")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("RCX_PORT", "eighty")
	t.Setenv("RCX_SCAN_FLUSH_ON_CANCEL", "sometimes")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"RCX_PORT", "RCX_SCAN_FLUSH_ON_CANCEL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port", "server:\n  port: 70000\n"},
		{"batch size", "scan:\n  batch_size: 0\n"},
		{"heartbeat", "scan:\n  heartbeat_every: -1\n"},
		{"maintenance interval", "maintenance:\n  enabled: true\n  interval_hours: 0\n"},
		{"log level", "logging:\n  level: chatty\n"},
		{"log format", "logging:\n  format: xml\n"},
		{"db path", "database:\n  path: \"\"\n"},
		{"yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_MaintenanceDisabledSkipsInterval(t *testing.T) {
	cfg, err := Load(writeConfig(t, "maintenance:\n  enabled: false\n  interval_hours: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Maintenance.Enabled {
		t.Error("maintenance enabled")
	}
}

func TestLoad_Backup(t *testing.T) {
	t.Setenv("RCX_BACKUP_ENABLED", "true")
	t.Setenv("RCX_BACKUP_KEEP", "3")
	cfg, err := Load(writeConfig(t, "backup:\n  dir: /srv/snapshots\n  max_age_days: 30\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Backup.Enabled || cfg.Backup.Dir != "/srv/snapshots" {
		t.Errorf("Backup = %+v", cfg.Backup)
	}
	if cfg.Backup.Keep != 3 || cfg.Backup.MaxAgeDays != 30 || cfg.Backup.IntervalHours != 24 {
		t.Errorf("Backup retention = %+v", cfg.Backup)
	}
}

func TestLoad_BackupNegativeKeep(t *testing.T) {
	if _, err := Load(writeConfig(t, "backup:\n  keep: -1\n")); err == nil {
		t.Fatal("expected error for negative keep")
	}
}

func TestLoad_Webhooks(t *testing.T) {
	body := "webhooks:\n  - name: ops\n    url: https://hooks.example.com/rcindex\n  - name: chat\n    url: https://discord.example.com/api\n    type: discord\n    events: [scan.failed]\n"
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Webhooks) != 2 {
		t.Fatalf("webhooks = %d, want 2", len(cfg.Webhooks))
	}
	if cfg.Webhooks[0].Type != "generic" || len(cfg.Webhooks[0].Events) != 2 {
		t.Errorf("defaults not applied: %+v", cfg.Webhooks[0])
	}
	if cfg.Webhooks[1].Type != "discord" || cfg.Webhooks[1].Events[0] != "scan.failed" {
		t.Errorf("second webhook = %+v", cfg.Webhooks[1])
	}
}

func TestLoad_WebhookInvalidURL(t *testing.T) {
	if _, err := Load(writeConfig(t, "webhooks:\n  - name: bad\n    url: not-a-url\n")); err == nil {
		t.Fatal("expected error for invalid webhook url")
	}
}
