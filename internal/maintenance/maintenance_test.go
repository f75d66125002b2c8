package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/rcindex/internal/catalog"
	"github.com/sydlexius/rcindex/internal/database"
	"github.com/sydlexius/rcindex/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return db, dbPath
}

func seed(t *testing.T, cat *catalog.Service, n int) {
	t.Helper()
	recs := make([]catalog.FileRecord, n)
	for i := range recs {
		name := fmt.Sprintf("track%03d.flac", i)
		recs[i] = catalog.FileRecord{Path: "music/" + name, Filename: name}
	}
	if _, err := cat.InsertBatch(context.Background(), "drive", recs); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
}

func TestStatus(t *testing.T) {
	db, dbPath := setupTestDB(t)
	cat := catalog.NewService(db)
	seed(t, cat, 5)
	svc := NewService(db, dbPath, cat, testLogger())

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.DBFileSize <= 0 {
		t.Error("expected positive DB file size")
	}
	if st.PageSize <= 0 || st.PageCount <= 0 {
		t.Errorf("page stats = %d x %d", st.PageCount, st.PageSize)
	}
	if st.FileCount != 5 {
		t.Errorf("file count = %d, want 5", st.FileCount)
	}
	if st.Index == nil || st.Index.Pending != 0 || st.Index.LastIndexedID != 5 {
		t.Errorf("index state = %+v", st.Index)
	}
	if st.LastOptimizeAt != "" || st.LastIndexCheck != "" {
		t.Error("expected no maintenance history initially")
	}
}

func TestOptimize(t *testing.T) {
	db, dbPath := setupTestDB(t)
	cat := catalog.NewService(db)
	seed(t, cat, 50)
	svc := NewService(db, dbPath, cat, testLogger())
	fixed := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if err := svc.Optimize(context.Background()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.LastOptimizeAt != "2026-03-01T04:00:00Z" {
		t.Errorf("last optimize = %q", st.LastOptimizeAt)
	}
	matches, err := cat.Search(context.Background(), "track042.flac")
	if err != nil || len(matches) != 1 {
		t.Errorf("search after optimize = %v, %v", matches, err)
	}
}

func TestVacuum(t *testing.T) {
	db, dbPath := setupTestDB(t)
	cat := catalog.NewService(db)
	seed(t, cat, 200)
	if err := cat.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	svc := NewService(db, dbPath, cat, testLogger())

	if err := svc.Vacuum(context.Background()); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}

func TestCheckIndex_Healthy(t *testing.T) {
	db, dbPath := setupTestDB(t)
	cat := catalog.NewService(db)
	seed(t, cat, 10)
	svc := NewService(db, dbPath, cat, testLogger())

	rebuilt, err := svc.CheckIndex(context.Background())
	if err != nil {
		t.Fatalf("CheckIndex: %v", err)
	}
	if rebuilt {
		t.Error("healthy index was rebuilt")
	}
	st, _ := svc.Status(context.Background())
	if st.LastIndexCheck != CheckOK || st.LastIndexCheckAt == "" {
		t.Errorf("check history = %q at %q", st.LastIndexCheck, st.LastIndexCheckAt)
	}
}

func TestCheckIndex_RebuildsOutOfSyncIndex(t *testing.T) {
	db, dbPath := setupTestDB(t)
	cat := catalog.NewService(db)
	seed(t, cat, 10)
	ctx := context.Background()

	// Change content behind the index's back.
	if _, err := db.ExecContext(ctx, `UPDATE files SET filename = 'renamed.flac' WHERE id = 3`); err != nil {
		t.Fatalf("corrupting: %v", err)
	}

	bus := event.NewBus(testLogger(), 4)
	var (
		mu  sync.Mutex
		got []event.Event
	)
	bus.Subscribe(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	}, event.IndexRebuilt)

	svc := NewService(db, dbPath, cat, testLogger())
	svc.SetEventBus(bus)

	rebuilt, err := svc.CheckIndex(ctx)
	if err != nil {
		t.Fatalf("CheckIndex: %v", err)
	}
	if !rebuilt {
		t.Fatal("out-of-sync index was not rebuilt")
	}
	if err := cat.CheckSearchIndex(ctx); err != nil {
		t.Errorf("index still inconsistent after rebuild: %v", err)
	}
	matches, err := cat.Search(ctx, "renamed.flac")
	if err != nil || len(matches) != 1 {
		t.Errorf("Search(renamed.flac) = %v, %v", matches, err)
	}

	bus.Stop()
	bus.Start()
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("got %d index.rebuilt events, want 1", len(got))
	}
}

// stubIndex fails on demand so error paths can be driven.
type stubIndex struct {
	state       catalog.IndexState
	checkErr    error
	rebuildErr  error
	optimizeErr error
	optimized   int
	rebuilds    int
}

func (s *stubIndex) Count(context.Context) (int, error) { return 0, nil }
func (s *stubIndex) IndexState(context.Context) (*catalog.IndexState, error) {
	return &s.state, nil
}
func (s *stubIndex) CheckSearchIndex(context.Context) error { return s.checkErr }
func (s *stubIndex) OptimizeSearchIndex(context.Context) error {
	s.optimized++
	return s.optimizeErr
}
func (s *stubIndex) RebuildSearchIndex(context.Context) error {
	s.rebuilds++
	return s.rebuildErr
}

func TestCheckIndex_RebuildFails(t *testing.T) {
	db, dbPath := setupTestDB(t)
	idx := &stubIndex{checkErr: fmt.Errorf("%w: vtable constructor failed", catalog.ErrIndexCorrupt), rebuildErr: errors.New("disk full")}
	svc := NewService(db, dbPath, idx, testLogger())

	_, err := svc.CheckIndex(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, idx.checkErr) || !errors.Is(err, idx.rebuildErr) {
		t.Errorf("err = %v, want both causes", err)
	}
}

func TestCheckIndex_OtherErrorDoesNotRebuild(t *testing.T) {
	db, dbPath := setupTestDB(t)
	idx := &stubIndex{checkErr: errors.New("database is locked")}
	svc := NewService(db, dbPath, idx, testLogger())

	rebuilt, err := svc.CheckIndex(context.Background())
	if !errors.Is(err, idx.checkErr) {
		t.Fatalf("err = %v, want the check error", err)
	}
	if rebuilt || idx.rebuilds != 0 {
		t.Errorf("rebuilt = %v after %d rebuilds, want no rebuild", rebuilt, idx.rebuilds)
	}
	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.LastIndexCheck != "" {
		t.Errorf("check recorded as %q, want nothing", st.LastIndexCheck)
	}
}

func TestRunOnce(t *testing.T) {
	db, dbPath := setupTestDB(t)
	idx := &stubIndex{}
	svc := NewService(db, dbPath, idx, testLogger())

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if idx.optimized != 1 || idx.rebuilds != 0 {
		t.Errorf("optimized=%d rebuilds=%d, want 1/0", idx.optimized, idx.rebuilds)
	}

	idx.optimizeErr = errors.New("busy")
	if err := svc.RunOnce(context.Background()); !errors.Is(err, idx.optimizeErr) {
		t.Errorf("err = %v, want optimize failure", err)
	}
}

func TestStartScheduler_StopsOnCancel(t *testing.T) {
	db, dbPath := setupTestDB(t)
	idx := &stubIndex{}
	svc := NewService(db, dbPath, idx, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartScheduler(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestHandleEvent(t *testing.T) {
	db, dbPath := setupTestDB(t)
	idx := &stubIndex{}
	svc := NewService(db, dbPath, idx, testLogger())

	svc.HandleEvent(event.Event{Type: event.ScanCompleted, Data: map[string]any{"inserted": 0}})
	svc.HandleEvent(event.Event{Type: event.ScanCanceled, Data: map[string]any{"inserted": 40}})
	if idx.optimized != 0 {
		t.Fatalf("optimized %d times for scans without new files", idx.optimized)
	}

	svc.HandleEvent(event.Event{Type: event.ScanCompleted, Data: map[string]any{"inserted": 12, "scan_id": "x"}})
	if idx.optimized != 1 {
		t.Errorf("optimized %d times, want 1", idx.optimized)
	}
}
