package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sydlexius/rcindex/internal/catalog"
	"github.com/sydlexius/rcindex/internal/database"
	"github.com/sydlexius/rcindex/internal/event"
)

const (
	keyLastOptimize   = "maintenance.last_optimize_at"
	keyLastCheck      = "maintenance.last_index_check_at"
	keyLastCheckState = "maintenance.last_index_check"
)

// Index results recorded after a check.
const (
	CheckOK      = "ok"
	CheckRebuilt = "rebuilt"
)

// Status holds database maintenance status information.
type Status struct {
	DBFileSize       int64               `json:"db_file_size"`
	WALFileSize      int64               `json:"wal_file_size"`
	PageCount        int64               `json:"page_count"`
	PageSize         int64               `json:"page_size"`
	SchemaVersion    int64               `json:"schema_version"`
	FileCount        int                 `json:"file_count"`
	Index            *catalog.IndexState `json:"index,omitempty"`
	LastOptimizeAt   string              `json:"last_optimize_at,omitempty"`
	LastIndexCheckAt string              `json:"last_index_check_at,omitempty"`
	LastIndexCheck   string              `json:"last_index_check,omitempty"`
}

// Index is the part of the catalog that maintenance looks after.
type Index interface {
	Count(ctx context.Context) (int, error)
	IndexState(ctx context.Context) (*catalog.IndexState, error)
	CheckSearchIndex(ctx context.Context) error
	OptimizeSearchIndex(ctx context.Context) error
	RebuildSearchIndex(ctx context.Context) error
}

// Service provides database maintenance operations.
type Service struct {
	db       *sql.DB
	dbPath   string
	index    Index
	logger   *slog.Logger
	eventBus *event.Bus
	now      func() time.Time
}

// NewService creates a maintenance service.
func NewService(db *sql.DB, dbPath string, index Index, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		index:  index,
		logger: logger.With(slog.String("component", "maintenance")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEventBus sets the bus used to announce index rebuilds.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		s.logger.Warn("reading page_count", "error", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		s.logger.Warn("reading page_size", "error", err)
	}

	if v, err := database.SchemaVersion(s.db); err == nil {
		st.SchemaVersion = v
	} else {
		s.logger.Warn("reading schema version", "error", err)
	}

	n, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	st.FileCount = n
	if st.Index, err = s.index.IndexState(ctx); err != nil {
		return nil, err
	}

	st.LastOptimizeAt = s.getSetting(ctx, keyLastOptimize)
	st.LastIndexCheckAt = s.getSetting(ctx, keyLastCheck)
	st.LastIndexCheck = s.getSetting(ctx, keyLastCheckState)
	return st, nil
}

// Optimize merges the search index, then runs PRAGMA optimize and a WAL
// checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	s.logger.Info("optimizing search index")
	if err := s.index.OptimizeSearchIndex(ctx); err != nil {
		return err
	}

	s.logger.Info("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}

	s.logger.Info("running WAL checkpoint")
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	s.setSetting(ctx, keyLastOptimize, s.now().Format(time.RFC3339))
	s.logger.Info("optimize complete")
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// CheckIndex verifies the search index against the files table. When the
// check reports corruption the index is rebuilt from scratch; rebuilt
// reports whether that happened. Errors that are not corruption, such as a
// locked database, are returned without touching the index.
func (s *Service) CheckIndex(ctx context.Context) (rebuilt bool, err error) {
	now := s.now().Format(time.RFC3339)
	checkErr := s.index.CheckSearchIndex(ctx)
	if checkErr == nil {
		s.setSetting(ctx, keyLastCheck, now)
		s.setSetting(ctx, keyLastCheckState, CheckOK)
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if !errors.Is(checkErr, catalog.ErrIndexCorrupt) {
		return false, checkErr
	}

	s.logger.Warn("search index failed integrity check, rebuilding", "error", checkErr)
	if err := s.index.RebuildSearchIndex(ctx); err != nil {
		return false, errors.Join(checkErr, err)
	}
	s.setSetting(ctx, keyLastCheck, now)
	s.setSetting(ctx, keyLastCheckState, CheckRebuilt)
	if s.eventBus != nil {
		s.eventBus.Publish(event.Event{
			Type: event.IndexRebuilt,
			Data: map[string]any{"reason": checkErr.Error()},
		})
	}
	return true, nil
}

// RunOnce performs one full maintenance pass: index check (with rebuild on
// failure) followed by optimize.
func (s *Service) RunOnce(ctx context.Context) error {
	if _, err := s.CheckIndex(ctx); err != nil {
		return fmt.Errorf("checking search index: %w", err)
	}
	return s.Optimize(ctx)
}

// StartScheduler runs maintenance on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled maintenance failed", slog.Any("error", err))
			}
		}
	}
}

// HandleEvent merges the search index after a scan that added files. It is
// meant to be subscribed to scan.completed.
func (s *Service) HandleEvent(e event.Event) {
	if e.Type != event.ScanCompleted {
		return
	}
	if n, _ := e.Data["inserted"].(int); n == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.index.OptimizeSearchIndex(ctx); err != nil {
		s.logger.Warn("post-scan index merge failed", "scan_id", e.Data["scan_id"], "error", err)
		return
	}
	s.logger.Debug("merged search index after scan", "scan_id", e.Data["scan_id"])
}

func (s *Service) getSetting(ctx context.Context, key string) string {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("reading setting", "key", key, "error", err)
		}
		return ""
	}
	return v
}

func (s *Service) setSetting(ctx context.Context, key, value string) {
	now := s.now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		s.logger.Warn("recording setting", "key", key, "error", err)
	}
}
