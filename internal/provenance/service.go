package provenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service reads and writes the per-directory scan log.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a provenance service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Normalize strips leading and trailing slashes. The remote root is "".
func Normalize(dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "." {
		return ""
	}
	return dir
}

// MarkScanned upserts the scan log entry for a directory. The latest call
// always wins, whatever the previous status was.
func (s *Service) MarkScanned(ctx context.Context, remote, dir string, status Status) error {
	if status != StatusComplete && status != StatusPartial {
		return fmt.Errorf("invalid scan status %q", status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_log (remote, directory, last_scanned, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(remote, directory) DO UPDATE SET
			last_scanned = excluded.last_scanned,
			status = excluded.status
	`, remote, Normalize(dir), s.now().Format(time.RFC3339Nano), string(status))
	if err != nil {
		return fmt.Errorf("marking %s:%s scanned: %w", remote, dir, err)
	}
	return nil
}

// GetLastScan returns the scan log entry for a directory.
// Returns nil, nil when the directory has never been scanned.
func (s *Service) GetLastScan(ctx context.Context, remote, dir string) (*Entry, error) {
	e := &Entry{Remote: remote, Directory: Normalize(dir)}
	var ts, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_scanned, status FROM scan_log WHERE remote = ? AND directory = ?
	`, e.Remote, e.Directory).Scan(&ts, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last scan: %w", err)
	}
	e.LastScanned, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing last_scanned %q: %w", ts, err)
	}
	e.Status = Status(status)
	return e, nil
}

// ListByRemote returns every scan log entry for a remote ordered by directory.
func (s *Service) ListByRemote(ctx context.Context, remote string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT directory, last_scanned, status FROM scan_log
		WHERE remote = ? ORDER BY directory
	`, remote)
	if err != nil {
		return nil, fmt.Errorf("listing scan log: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, status string
		if err := rows.Scan(&e.Directory, &ts, &status); err != nil {
			return nil, fmt.Errorf("scanning scan log row: %w", err)
		}
		e.Remote = remote
		e.Status = Status(status)
		if e.LastScanned, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing last_scanned %q: %w", ts, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
