package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the logging section of the configuration file.
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns the stock logging settings.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
	}
}

// Validate reports an unusable level or format.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q (want json or text)", c.Format)
	}
	return nil
}

func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s rotate=%dMB/%d/%dd", c.FilePath, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	}
	return s
}

// ParseLevel accepts the slog level names in any case, with an optional
// offset such as "debug+2". An empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// swapHandler forwards to a handler that can be replaced at runtime, so
// loggers derived with With keep working after a format or output change.
type swapHandler struct {
	root  *atomic.Pointer[slog.Handler]
	attrs []slog.Attr
	group string
}

func (h *swapHandler) current() slog.Handler {
	inner := *h.root.Load()
	if len(h.attrs) > 0 {
		inner = inner.WithAttrs(h.attrs)
	}
	if h.group != "" {
		inner = inner.WithGroup(h.group)
	}
	return inner
}

func (h *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*h.root.Load()).Enabled(ctx, level)
}

func (h *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.group != "" {
		return &fixedHandler{h.current().WithAttrs(attrs)}
	}
	return &swapHandler{root: h.root, attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)}
}

func (h *swapHandler) WithGroup(name string) slog.Handler {
	if h.group != "" {
		return &fixedHandler{h.current().WithGroup(name)}
	}
	return &swapHandler{root: h.root, attrs: h.attrs, group: name}
}

// fixedHandler pins nested groups to the handler current at derivation time.
type fixedHandler struct{ slog.Handler }

// Manager owns the process logger and applies configuration changes to it.
type Manager struct {
	out   io.Writer
	level slog.LevelVar
	root  atomic.Pointer[slog.Handler]

	mu     sync.Mutex
	cfg    Config
	closer io.Closer
}

// NewManager builds a logger writing to out (stdout when nil) and, if
// configured, to a rotating file.
func NewManager(cfg Config, out io.Writer) (*Manager, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if out == nil {
		out = os.Stdout
	}
	m := &Manager{out: out}
	m.apply(cfg)
	return m, slog.New(&swapHandler{root: &m.root}), nil
}

// Reconfigure switches level, format and file output in place. Loggers
// already handed out pick up the change.
func (m *Manager) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(cfg)
	return nil
}

func (m *Manager) apply(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(cfg)
}

func (m *Manager) applyLocked(cfg Config) {
	lvl, _ := ParseLevel(cfg.Level)
	m.level.Set(lvl)

	if m.root.Load() != nil && sameOutput(m.cfg, cfg) {
		m.cfg = cfg
		return
	}

	w := m.out
	var closer io.Closer
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(m.out, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: &m.level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	m.root.Store(&h)

	if m.closer != nil {
		m.closer.Close() //nolint:errcheck
	}
	m.closer = closer
	m.cfg = cfg
}

func sameOutput(a, b Config) bool {
	return a.Format == b.Format &&
		a.FilePath == b.FilePath &&
		a.MaxSizeMB == b.MaxSizeMB &&
		a.MaxBackups == b.MaxBackups &&
		a.MaxAgeDays == b.MaxAgeDays &&
		a.Compress == b.Compress
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Close releases the log file, if any. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}
