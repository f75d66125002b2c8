package rclone

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/ini.v1"
)

// ErrEncryptedConfig is returned for rclone configs protected with a password.
var ErrEncryptedConfig = errors.New("rclone config is encrypted")

var encryptedPrefix = []byte("RCLONE_ENCRYPT_V0:")

// DefaultConfigPath returns where rclone keeps its config unless told
// otherwise: $RCLONE_CONFIG, then $XDG_CONFIG_HOME/rclone/rclone.conf, then
// ~/.config/rclone/rclone.conf.
func DefaultConfigPath() string {
	if p := os.Getenv("RCLONE_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rclone", "rclone.conf")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rclone", "rclone.conf")
}

// LoadRemotes reads the remotes defined in an rclone config file, sorted by
// name. A missing file yields no remotes.
func LoadRemotes(path string) ([]Remote, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rclone config: %w", err)
	}
	return ParseRemotes(data)
}

// ParseRemotes extracts remotes from rclone config content.
func ParseRemotes(data []byte) ([]Remote, error) {
	for line := range bytes.Lines(data) {
		if bytes.HasPrefix(bytes.TrimSpace(line), encryptedPrefix) {
			return nil, ErrEncryptedConfig
		}
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parsing rclone config: %w", err)
	}

	var remotes []Remote
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		remotes = append(remotes, Remote{
			Name: sec.Name(),
			Type: sec.Key("type").String(),
		})
	}
	sort.Slice(remotes, func(i, j int) bool {
		return remotes[i].Name < remotes[j].Name
	})
	return remotes, nil
}
