package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/rcindex/internal/logging"
	"github.com/sydlexius/rcindex/internal/webhook"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Rclone      RcloneConfig      `yaml:"rclone"`
	Scan        ScanConfig        `yaml:"scan"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Backup      BackupConfig      `yaml:"backup"`
	Logging     logging.Config    `yaml:"logging"`
	Webhooks    []webhook.Webhook `yaml:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RcloneConfig locates the rclone binary and its remotes file.
type RcloneConfig struct {
	Binary string `yaml:"binary"`
	// ConfigPath is passed to rclone as --config. Empty means rclone's own
	// default lookup.
	ConfigPath string `yaml:"config_path"`
}

// ScanConfig tunes the ingest worker.
type ScanConfig struct {
	BatchSize      int  `yaml:"batch_size"`
	HeartbeatEvery int  `yaml:"heartbeat_every"`
	FlushOnCancel  bool `yaml:"flush_on_cancel"`
}

// MaintenanceConfig controls scheduled database upkeep.
type MaintenanceConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"interval_hours"`
}

// BackupConfig controls scheduled database snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	IntervalHours int    `yaml:"interval_hours"`
	Keep          int    `yaml:"keep"`
	MaxAgeDays    int    `yaml:"max_age_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     5000,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path: "/data/rcindex.db",
		},
		Rclone: RcloneConfig{
			Binary: "rclone",
		},
		Scan: ScanConfig{
			BatchSize:      100,
			HeartbeatEvery: 10,
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			IntervalHours: 24,
		},
		Backup: BackupConfig{
			Dir:           "/data/backups",
			IntervalHours: 24,
			Keep:          7,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	var errs []error
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}
	envString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envInt("RCX_PORT", &c.Server.Port)
	envString("RCX_BASE_PATH", &c.Server.BasePath)
	envString("RCX_DB_PATH", &c.Database.Path)
	envString("RCX_RCLONE_BINARY", &c.Rclone.Binary)
	envString("RCX_RCLONE_CONFIG", &c.Rclone.ConfigPath)
	envInt("RCX_SCAN_BATCH_SIZE", &c.Scan.BatchSize)
	envInt("RCX_SCAN_HEARTBEAT", &c.Scan.HeartbeatEvery)
	envBool("RCX_SCAN_FLUSH_ON_CANCEL", &c.Scan.FlushOnCancel)
	envBool("RCX_MAINTENANCE_ENABLED", &c.Maintenance.Enabled)
	envInt("RCX_MAINTENANCE_INTERVAL_HOURS", &c.Maintenance.IntervalHours)
	envBool("RCX_BACKUP_ENABLED", &c.Backup.Enabled)
	envString("RCX_BACKUP_DIR", &c.Backup.Dir)
	envInt("RCX_BACKUP_KEEP", &c.Backup.Keep)
	envString("RCX_LOG_LEVEL", &c.Logging.Level)
	envString("RCX_LOG_FORMAT", &c.Logging.Format)
	envString("RCX_LOG_FILE", &c.Logging.FilePath)

	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Rclone.Binary == "" {
		return fmt.Errorf("rclone binary is required")
	}
	if c.Scan.BatchSize < 1 {
		return fmt.Errorf("scan batch size must be positive, got %d", c.Scan.BatchSize)
	}
	if c.Scan.HeartbeatEvery < 1 {
		return fmt.Errorf("scan heartbeat must be positive, got %d", c.Scan.HeartbeatEvery)
	}
	if c.Maintenance.Enabled && c.Maintenance.IntervalHours < 1 {
		return fmt.Errorf("maintenance interval must be at least 1 hour, got %d", c.Maintenance.IntervalHours)
	}
	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup directory is required when backups are enabled")
		}
		if c.Backup.IntervalHours < 1 {
			return fmt.Errorf("backup interval must be at least 1 hour, got %d", c.Backup.IntervalHours)
		}
	}
	if c.Backup.Keep < 0 || c.Backup.MaxAgeDays < 0 {
		return fmt.Errorf("backup retention must not be negative")
	}
	for i := range c.Webhooks {
		if err := c.Webhooks[i].Validate(); err != nil {
			return err
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
	return nil
}
