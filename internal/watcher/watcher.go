package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/rcindex/internal/rclone"
)

// Remotes keeps the list of rclone remotes in memory and reloads it when
// rclone.conf changes on disk.
type Remotes struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration
	poll     time.Duration

	mu      sync.RWMutex
	remotes []rclone.Remote
	err     error
	modTime time.Time
	loaded  chan struct{}
}

// NewRemotes creates a watcher for the rclone config at path.
func NewRemotes(path string, logger *slog.Logger) *Remotes {
	return &Remotes{
		path:     path,
		logger:   logger.With("component", "remotes-watcher", "path", path),
		debounce: 250 * time.Millisecond,
		poll:     30 * time.Second,
		loaded:   make(chan struct{}, 1),
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (r *Remotes) SetDebounce(d time.Duration) {
	r.debounce = d
}

// List returns the remotes from the last successful or failed load.
func (r *Remotes) List() ([]rclone.Remote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]rclone.Remote, len(r.remotes))
	copy(out, r.remotes)
	return out, nil
}

// Reload reads the config file now.
func (r *Remotes) Reload() error {
	var mod time.Time
	if info, err := os.Stat(r.path); err == nil {
		mod = info.ModTime()
	}
	remotes, err := rclone.LoadRemotes(r.path)

	r.mu.Lock()
	r.remotes = remotes
	r.err = err
	r.modTime = mod
	r.mu.Unlock()

	select {
	case r.loaded <- struct{}{}:
	default:
	}

	if err != nil {
		if errors.Is(err, rclone.ErrEncryptedConfig) {
			r.logger.Warn("rclone config is encrypted, remotes cannot be listed")
		} else {
			r.logger.Error("loading rclone remotes", "error", err)
		}
		return err
	}
	r.logger.Debug("loaded rclone remotes", "count", len(remotes))
	return nil
}

// Start loads the remotes and then blocks until ctx is canceled, reloading
// whenever the config file is written, created, renamed or removed. The
// parent directory is watched so that editors replacing the file are seen.
// Without fsnotify the file's modification time is polled instead.
func (r *Remotes) Start(ctx context.Context) {
	_ = r.Reload()

	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	w, err := fsnotify.NewWatcher()
	if err == nil {
		defer w.Close() //nolint:errcheck
		err = w.Add(filepath.Dir(r.path))
	}
	if err != nil {
		r.logger.Warn("fsnotify unavailable, polling rclone config", "error", err)
	} else {
		eventCh = w.Events
		errCh = w.Errors
	}

	var pollCh <-chan time.Time
	if eventCh == nil {
		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()
		pollCh = ticker.C
	}

	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	r.logger.Info("remotes watcher started")
	for {
		select {
		case <-ctx.Done():
			debounceTimer.Stop()
			r.logger.Info("remotes watcher stopped")
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounceTimer.Reset(r.debounce)

		case err, ok := <-errCh:
			if !ok {
				return
			}
			r.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			r.logger.Info("rclone config changed, reloading remotes")
			_ = r.Reload()

		case <-pollCh:
			if r.changedOnDisk() {
				_ = r.Reload()
			}
		}
	}
}

func (r *Remotes) changedOnDisk() bool {
	var mod time.Time
	if info, err := os.Stat(r.path); err == nil {
		mod = info.ModTime()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !mod.Equal(r.modTime)
}
