// Package rclone drives the rclone binary to enumerate remote file trees.
package rclone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrNotFound is returned when the listed directory does not exist.
var ErrNotFound = errors.New("directory not found")

// rclone exits with 3 when a directory is not found.
const exitDirNotFound = 3

// stderrLimit caps how much rclone stderr is kept for error messages.
const stderrLimit = 4096

// Client runs rclone commands.
type Client struct {
	binary     string
	configPath string
	logger     *slog.Logger

	// baseArgs precede every rclone subcommand. Tests point binary at the
	// test executable and use this to select the helper process.
	baseArgs []string
}

// NewClient creates a Client that runs binary (defaults to "rclone"). An
// empty configPath lets rclone find its own config.
func NewClient(binary, configPath string, logger *slog.Logger) *Client {
	if binary == "" {
		binary = "rclone"
	}
	return &Client{
		binary:     binary,
		configPath: configPath,
		logger:     logger.With(slog.String("component", "rclone")),
	}
}

// Target formats the rclone location for a remote and a path within it.
func Target(remote, path string) string {
	return remote + ":" + strings.TrimPrefix(path, "/")
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{}, c.baseArgs...)
	full = append(full, args...)
	if c.configPath != "" {
		full = append(full, "--config", c.configPath)
	}
	cmd := exec.CommandContext(ctx, c.binary, full...) //nolint:gosec // G204: binary comes from trusted config
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// List returns the immediate children of path on remote.
func (c *Client) List(ctx context.Context, remote, path string) ([]Entry, error) {
	target := Target(remote, path)
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd := c.command(ctx, "lsjson", target)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, commandError(target, err, stderr.String())
	}

	var entries []Entry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("decoding listing of %s: %w", target, err)
	}
	return entries, nil
}

// Stream starts a recursive, files-only listing of path on remote. Entries
// are decoded as rclone produces them, so the full listing is never held in
// memory. The caller must Close the stream.
func (c *Client) Stream(ctx context.Context, remote, path string) (*Stream, error) {
	target := Target(remote, path)
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd := c.command(ctx, "lsjson", "--recursive", "--files-only", "--no-mimetype", "--no-modtime", target)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.binary, err)
	}

	c.logger.Debug("listing started", slog.String("target", target), slog.Int("pid", cmd.Process.Pid))
	return newStream(target, cmd, stdout, stderr), nil
}

// commandError turns an exec failure into a descriptive error.
func commandError(target string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr)
		if exitErr.ExitCode() == exitDirNotFound {
			return fmt.Errorf("listing %s: %w: %s", target, ErrNotFound, msg)
		}
		if msg != "" {
			return fmt.Errorf("listing %s: rclone exited with %d: %s", target, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("listing %s: rclone exited with %d", target, exitErr.ExitCode())
	}
	return fmt.Errorf("listing %s: %w", target, err)
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
