package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sydlexius/rcindex/internal/catalog"
	"github.com/sydlexius/rcindex/internal/event"
	"github.com/sydlexius/rcindex/internal/provenance"
)

// ErrScanInProgress is returned when a scan is started while another runs.
var ErrScanInProgress = errors.New("scan already in progress")

// ErrRemoteRequired is returned when a scan is started without a remote.
var ErrRemoteRequired = errors.New("remote is required")

// Service runs scans of rclone remotes into the catalog.
type Service struct {
	lister     Lister
	catalog    Catalog
	provenance Provenance
	opts       Options
	logger     *slog.Logger
	eventBus   *event.Bus

	mu      sync.Mutex
	current *Job
}

// NewService creates a scan service.
func NewService(lister Lister, cat Catalog, prov Provenance, opts Options, logger *slog.Logger) *Service {
	return &Service{
		lister:     lister,
		catalog:    cat,
		provenance: prov,
		opts:       opts.withDefaults(),
		logger:     logger.With(slog.String("component", "ingest")),
	}
}

// SetEventBus sets the event bus for publishing scan lifecycle events.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Start begins a scan of remote:startPath in the background and returns the
// new job's initial status.
func (s *Service) Start(ctx context.Context, remote, startPath string) (*Status, error) {
	j, err := s.start(ctx, remote, startPath)
	if err != nil {
		return nil, err
	}
	st := j.Status()
	return &st, nil
}

// RunScan starts a scan and blocks until it reaches a terminal state. If ctx
// is canceled first the scan is stopped and its final status still returned.
func (s *Service) RunScan(ctx context.Context, remote, startPath string) (*Status, error) {
	j, err := s.start(ctx, remote, startPath)
	if err != nil {
		return nil, err
	}
	select {
	case <-j.Done():
	case <-ctx.Done():
		j.RequestCancel()
		<-j.Done()
	}
	st := j.Status()
	return &st, j.Err()
}

func (s *Service) start(ctx context.Context, remote, startPath string) (*Job, error) {
	remote = strings.TrimSuffix(strings.TrimSpace(remote), ":")
	if remote == "" {
		return nil, ErrRemoteRequired
	}

	s.mu.Lock()
	if s.current != nil && s.current.State() == StateRunning {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	j := newJob(ctx, remote, startPath, s.opts.ProgressLines)
	s.current = j
	s.mu.Unlock()

	s.publish(event.ScanStarted, j)
	go s.run(j)
	return j, nil
}

// Stop requests cancellation of the running scan. It returns the number of
// records the current (or most recent) job has inserted, and whether a
// running job was actually signaled.
func (s *Service) Stop() (int, bool) {
	j := s.Current()
	if j == nil {
		return 0, false
	}
	stopped := j.RequestCancel()
	return j.Inserted(), stopped
}

// Shutdown stops any running scan and waits for it to finish or for ctx to
// expire.
func (s *Service) Shutdown(ctx context.Context) error {
	j := s.Current()
	if j == nil {
		return nil
	}
	j.RequestCancel()
	select {
	case <-j.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scan %s: %w", j.ID(), ctx.Err())
	}
}

// Progress returns the current job's progress lines. It is empty before the
// first scan.
func (s *Service) Progress() []string {
	j := s.Current()
	if j == nil {
		return []string{}
	}
	return j.Progress()
}

// Status returns the current or most recent job's status, or nil if no scan
// has been started.
func (s *Service) Status() *Status {
	j := s.Current()
	if j == nil {
		return nil
	}
	st := j.Status()
	return &st
}

// Current returns the current or most recent job.
func (s *Service) Current() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) run(j *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan panicked", "scan_id", j.id, "panic", r)
			j.progress.Append(fmt.Sprintf("[ERROR] %v", r))
			j.finish(StateFailed, fmt.Errorf("scan panicked: %v", r))
			s.publish(event.ScanFailed, j)
		}
	}()

	start := time.Now()
	s.logger.Info("scan started", "scan_id", j.id, "remote", j.remote, "path", j.path)

	state, err := s.scan(j)
	j.finish(state, err)

	attrs := []any{
		"scan_id", j.id,
		"remote", j.remote,
		"path", j.path,
		"scanned", j.scanned.Load(),
		"inserted", j.inserted.Load(),
		"duration", time.Since(start).String(),
	}
	switch state {
	case StateCompleted:
		s.logger.Info("scan completed", attrs...)
		s.publish(event.ScanCompleted, j)
	case StateCanceled:
		s.logger.Info("scan canceled", attrs...)
		s.publish(event.ScanCanceled, j)
	default:
		s.logger.Error("scan failed", append(attrs, "error", err)...)
		s.publish(event.ScanFailed, j)
	}
}

// scan walks the listing and returns the job's terminal state.
func (s *Service) scan(j *Job) (State, error) {
	// Catalog writes must survive the job's own cancellation.
	writeCtx := context.WithoutCancel(j.ctx)

	stream, err := s.lister.Stream(j.ctx, j.remote, j.path)
	if err != nil {
		if j.CancelRequested() {
			return s.stopped(writeCtx, j, nil)
		}
		j.progress.Append(fmt.Sprintf("[ERROR] Failed to list %s: %v", j.target(), err))
		s.markPartial(writeCtx, j)
		return StateFailed, fmt.Errorf("listing %s: %w", j.target(), err)
	}
	defer stream.Close() //nolint:errcheck

	if !j.attach(stream) {
		_ = stream.Terminate()
		return s.stopped(writeCtx, j, nil)
	}

	batch := make([]catalog.FileRecord, 0, s.opts.BatchSize)
	marked := make(map[string]struct{})

	for {
		entry, err := stream.Next()
		if j.CancelRequested() {
			_ = stream.Terminate()
			return s.stopped(writeCtx, j, batch)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			j.progress.Append(fmt.Sprintf("[ERROR] Failed to read listing: %v", err))
			s.markPartial(writeCtx, j)
			return StateFailed, fmt.Errorf("reading listing of %s: %w", j.target(), err)
		}
		if entry.IsDir {
			continue
		}

		full := joinPath(j.path, entry.Path)
		batch = append(batch, catalog.FileRecord{
			Remote:   j.remote,
			Path:     full,
			Filename: path.Base(full),
		})

		dir := provenance.Normalize(path.Dir(full))
		if _, ok := marked[dir]; !ok {
			if err := s.provenance.MarkScanned(writeCtx, j.remote, dir, provenance.StatusComplete); err != nil {
				return s.failWrite(writeCtx, j, err)
			}
			marked[dir] = struct{}{}
		}

		n := j.scanned.Add(1)
		if n%int64(s.opts.HeartbeatEvery) == 0 {
			j.progress.Append(fmt.Sprintf("%d files scanned...", n))
		}

		if len(batch) >= s.opts.BatchSize {
			if err := s.flush(writeCtx, j, batch); err != nil {
				return s.failWrite(writeCtx, j, err)
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.flush(writeCtx, j, batch); err != nil {
			return s.failWrite(writeCtx, j, err)
		}
	}
	if err := s.provenance.MarkScanned(writeCtx, j.remote, j.path, provenance.StatusComplete); err != nil {
		return s.failWrite(writeCtx, j, err)
	}
	j.progress.Append(fmt.Sprintf("Indexing complete. %d new files inserted into database.", j.Inserted()))
	return StateCompleted, nil
}

func (s *Service) flush(ctx context.Context, j *Job, batch []catalog.FileRecord) error {
	n, err := s.catalog.InsertBatch(ctx, j.remote, batch)
	if err != nil {
		return fmt.Errorf("writing batch of %d files: %w", len(batch), err)
	}
	j.inserted.Add(int64(n))
	j.batches.Add(1)
	return nil
}

// stopped finishes a canceled job. The buffered batch is dropped unless
// FlushOnCancel is set.
func (s *Service) stopped(ctx context.Context, j *Job, batch []catalog.FileRecord) (State, error) {
	if len(batch) > 0 {
		if s.opts.FlushOnCancel {
			if err := s.flush(ctx, j, batch); err != nil {
				s.logger.Warn("flushing batch on cancel", "scan_id", j.id, "error", err)
			}
		} else {
			s.logger.Debug("discarding buffered batch on cancel", "scan_id", j.id, "records", len(batch))
		}
	}
	s.markPartial(ctx, j)
	j.progress.Append(fmt.Sprintf("Scan stopped. %d new files inserted into database.", j.Inserted()))
	return StateCanceled, nil
}

func (s *Service) failWrite(ctx context.Context, j *Job, err error) (State, error) {
	j.progress.Append(fmt.Sprintf("[ERROR] Database write failed: %v", err))
	s.markPartial(ctx, j)
	return StateFailed, err
}

func (s *Service) markPartial(ctx context.Context, j *Job) {
	if err := s.provenance.MarkScanned(ctx, j.remote, j.path, provenance.StatusPartial); err != nil {
		s.logger.Error("recording partial scan", "scan_id", j.id, "remote", j.remote, "path", j.path, "error", err)
	}
}

func (s *Service) publish(t event.Type, j *Job) {
	if s.eventBus == nil {
		return
	}
	st := j.Status()
	data := map[string]any{
		"scan_id":  st.ID,
		"remote":   st.Remote,
		"path":     st.Path,
		"scanned":  st.Scanned,
		"inserted": st.Inserted,
	}
	if st.Error != "" {
		data["error"] = st.Error
	}
	s.eventBus.Publish(event.Event{Type: t, Data: data})
}

func (j *Job) target() string {
	return j.remote + ":" + j.path
}

// joinPath prefixes a listing-relative path with the scan's start path.
func joinPath(startPath, rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if startPath == "" {
		return rel
	}
	return startPath + "/" + rel
}
