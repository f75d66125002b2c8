// Package backup takes point-in-time copies of the catalog database.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	filePrefix  = "rcindex-"
	fileSuffix  = ".db"
	stampLayout = "20060102-150405"
)

var snapshotPattern = regexp.MustCompile(`^rcindex-\d{8}-\d{6}\.db$`)

// ErrInvalidName is returned for names that are not snapshot files.
var ErrInvalidName = errors.New("invalid snapshot name")

// Snapshot describes one backup file.
type Snapshot struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Policy bounds how many snapshots are kept. Zero disables a limit.
type Policy struct {
	Keep       int `json:"keep"`
	MaxAgeDays int `json:"max_age_days"`
}

// Service writes snapshots of a live SQLite database into a directory.
type Service struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger
	policy Policy
	now    func() time.Time
}

// NewService creates a backup service writing into dir.
func NewService(db *sql.DB, dir string, policy Policy, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dir:    dir,
		policy: policy,
		logger: logger.With(slog.String("component", "backup")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string {
	return s.dir
}

// Policy returns the retention policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// Create writes a consistent copy of the database with VACUUM INTO. Two
// snapshots in the same second are rejected rather than overwritten.
func (s *Service) Create(ctx context.Context) (*Snapshot, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	created := s.now().Truncate(time.Second)
	name := filePrefix + created.Format(stampLayout) + fileSuffix
	dest := filepath.Join(s.dir, name)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("snapshot %s already exists", name)
	}

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	s.logger.Info("snapshot written",
		slog.String("name", name),
		slog.Int64("size", info.Size()),
		slog.Duration("took", time.Since(start)))

	return &Snapshot{Name: name, Size: info.Size(), CreatedAt: created}, nil
}

// List returns the snapshots in the directory, newest first. A missing
// directory yields an empty list.
func (s *Service) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Snapshot{}, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	snaps := []Snapshot{}
	for _, e := range entries {
		if e.IsDir() || !snapshotPattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), filePrefix), fileSuffix)
		created, err := time.Parse(stampLayout, stamp)
		if err != nil {
			created = info.ModTime().UTC()
		}
		snaps = append(snaps, Snapshot{Name: e.Name(), Size: info.Size(), CreatedAt: created})
	}

	slices.SortFunc(snaps, func(a, b Snapshot) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return snaps, nil
}

// Delete removes one snapshot by name.
func (s *Service) Delete(name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil { //nolint:gosec // name validated above
		return fmt.Errorf("removing snapshot: %w", err)
	}
	s.logger.Info("snapshot deleted", slog.String("name", name))
	return nil
}

// Prune removes snapshots beyond the policy's count or age and returns the
// names it removed. A snapshot is kept only if it passes both limits.
func (s *Service) Prune() ([]string, error) {
	p := s.policy

	snaps, err := s.List()
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	if p.MaxAgeDays > 0 {
		cutoff = s.now().AddDate(0, 0, -p.MaxAgeDays)
	}

	var removed []string
	for i, snap := range snaps {
		overCount := p.Keep > 0 && i >= p.Keep
		tooOld := !cutoff.IsZero() && snap.CreatedAt.Before(cutoff)
		if !overCount && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, snap.Name)); err != nil {
			s.logger.Warn("failed to prune snapshot",
				slog.String("name", snap.Name),
				slog.Any("error", err))
			continue
		}
		removed = append(removed, snap.Name)
	}
	if len(removed) > 0 {
		s.logger.Info("pruned snapshots", slog.Int("count", len(removed)))
	}
	return removed, nil
}

// StartScheduler snapshots and prunes on a fixed interval until ctx is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("backup scheduler started", slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Create(ctx); err != nil {
				s.logger.Error("scheduled snapshot failed", slog.Any("error", err))
				continue
			}
			if _, err := s.Prune(); err != nil {
				s.logger.Error("snapshot prune failed", slog.Any("error", err))
			}
		}
	}
}

// ValidName reports whether name is a bare snapshot file name.
func ValidName(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return snapshotPattern.MatchString(name)
}
