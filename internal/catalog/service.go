package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sydlexius/rcindex/internal/database"
)

// ErrIndexCorrupt means the integrity check found the search index out of
// step with the files table. Other check failures do not wrap it.
var ErrIndexCorrupt = errors.New("search index is corrupt")

const fileColumns = `id, remote, path, filename`

// ftsName is both the FTS5 table name and its key in index_state.
const ftsName = "files_fts"

const createFTS = `CREATE VIRTUAL TABLE files_fts USING fts5(
	filename,
	content='files',
	content_rowid='id',
	tokenize='unicode61'
)`

// Service owns the file catalog and the filename search index derived from it.
type Service struct {
	db *sql.DB
}

// NewService creates a catalog service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// InsertBatch inserts records for remote, ignoring any whose path is already
// cataloged, then indexes the rows added since the last sync. It returns the
// number of rows this call actually inserted.
func (s *Service) InsertBatch(ctx context.Context, remote string, records []FileRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO files (remote, path, filename) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close() //nolint:errcheck

		for _, r := range records {
			if r.Remote != "" && r.Remote != remote {
				return fmt.Errorf("record %q belongs to remote %q, not %q", r.Path, r.Remote, remote)
			}
			res, err := stmt.ExecContext(ctx, remote, r.Path, r.Filename)
			if err != nil {
				return fmt.Errorf("inserting %s:%s: %w", remote, r.Path, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("reading rows affected: %w", err)
			}
			inserted += int(n)
		}

		_, err = syncIndex(ctx, tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// syncIndex adds index entries for every file above the watermark and
// advances it. Returns the number of rows indexed.
func syncIndex(ctx context.Context, tx *sql.Tx) (int64, error) {
	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT last_rowid FROM index_state WHERE name = ?`, ftsName).Scan(&last); err != nil {
		return 0, fmt.Errorf("reading index watermark: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO files_fts (rowid, filename)
		SELECT id, filename FROM files WHERE id > ? ORDER BY id
	`, last)
	if err != nil {
		return 0, fmt.Errorf("indexing new files: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		UPDATE index_state SET last_rowid = (SELECT COALESCE(MAX(id), 0) FROM files)
		WHERE name = ?
	`, ftsName); err != nil {
		return 0, fmt.Errorf("advancing index watermark: %w", err)
	}
	return n, nil
}

// ClearAll removes every file, every scan log entry and the whole search index.
func (s *Service) ClearAll(ctx context.Context) error {
	return database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM files`,
			`DELETE FROM scan_log`,
			`INSERT INTO files_fts (files_fts) VALUES ('delete-all')`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("clearing catalog: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE index_state SET last_rowid = 0 WHERE name = ?`, ftsName); err != nil {
			return fmt.Errorf("resetting index watermark: %w", err)
		}
		return nil
	})
}

// RebuildSearchIndex drops the search index and builds it again from every
// cataloged file. Used for recovery when the index is suspected to be out of
// sync; ingest never needs it.
func (s *Service) RebuildSearchIndex(ctx context.Context) error {
	return database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DROP TABLE IF EXISTS files_fts`,
			createFTS,
			`INSERT INTO files_fts (files_fts) VALUES ('rebuild')`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("rebuilding search index: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_state (name, last_rowid)
			VALUES (?, (SELECT COALESCE(MAX(id), 0) FROM files))
			ON CONFLICT(name) DO UPDATE SET last_rowid = excluded.last_rowid
		`, ftsName); err != nil {
			return fmt.Errorf("resetting index watermark: %w", err)
		}
		return nil
	})
}

// Count returns the number of cataloged files.
func (s *Service) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}

// List returns up to limit files in insertion order.
func (s *Service) List(ctx context.Context, limit int) ([]FileRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.Remote, &f.Path, &f.Filename); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// IndexState reports the search index watermark against the catalog.
func (s *Service) IndexState(ctx context.Context) (*IndexState, error) {
	st := &IndexState{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT last_rowid FROM index_state WHERE name = ?), 0),
			COALESCE((SELECT MAX(id) FROM files), 0)
	`, ftsName).Scan(&st.LastIndexedID, &st.MaxFileID)
	if err != nil {
		return nil, fmt.Errorf("reading index state: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE id > ?`, st.LastIndexedID).Scan(&st.Pending); err != nil {
		return nil, fmt.Errorf("counting unindexed files: %w", err)
	}
	return st, nil
}

// CheckSearchIndex runs the FTS5 integrity check against the catalog. An
// error wrapping ErrIndexCorrupt means the index no longer matches the files
// table; any other error means the check itself could not run.
func (s *Service) CheckSearchIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO files_fts (files_fts, rank) VALUES ('integrity-check', 1)`); err != nil {
		if isCorrupt(err) {
			return fmt.Errorf("%w: %w", ErrIndexCorrupt, err)
		}
		return fmt.Errorf("search index integrity check: %w", err)
	}
	return nil
}

// isCorrupt reports whether err is SQLITE_CORRUPT or one of its extended codes.
func isCorrupt(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CORRUPT
	}
	return strings.Contains(err.Error(), "malformed")
}

// OptimizeSearchIndex merges the index b-trees into one.
func (s *Service) OptimizeSearchIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO files_fts (files_fts) VALUES ('optimize')`); err != nil {
		return fmt.Errorf("optimizing search index: %w", err)
	}
	return nil
}
