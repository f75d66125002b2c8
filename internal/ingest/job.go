package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sydlexius/rcindex/internal/progress"
	"github.com/sydlexius/rcindex/internal/provenance"
)

const fetchingLine = "Fetching file list..."

// Job is the handle of one scan. All of its state (progress log, counters,
// cancellation, listing process) belongs to it alone, so an old job can never
// disturb a newer one.
type Job struct {
	id        string
	remote    string
	path      string
	startedAt time.Time
	progress  *progress.Log

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool

	scanned  atomic.Int64
	inserted atomic.Int64
	batches  atomic.Int64

	mu          sync.Mutex
	state       State
	completedAt *time.Time
	err         error
	stream      Stream

	done chan struct{}
}

func newJob(parent context.Context, remote, path string, progressLines int) *Job {
	// The job outlives the request that started it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	j := &Job{
		id:        uuid.New().String(),
		remote:    remote,
		path:      provenance.Normalize(path),
		startedAt: time.Now().UTC(),
		progress:  progress.New(progressLines),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateRunning,
		done:      make(chan struct{}),
	}
	j.progress.Reset(fetchingLine)
	return j
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// RequestCancel asks the job to stop and kills its listing process. It
// returns false when the job has already finished. Safe to call repeatedly.
func (j *Job) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning {
		return false
	}
	j.cancelRequested.Store(true)
	j.cancel()
	if j.stream != nil {
		_ = j.stream.Terminate()
	}
	return true
}

// CancelRequested reports whether RequestCancel has been called.
func (j *Job) CancelRequested() bool {
	return j.cancelRequested.Load()
}

// attach records the live stream so RequestCancel can terminate it. It
// reports false if cancellation was requested first.
func (j *Job) attach(s Stream) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stream = s
	return !j.cancelRequested.Load()
}

// Inserted returns how many new records the job has written so far.
func (j *Job) Inserted() int {
	return int(j.inserted.Load())
}

// Progress returns the job's progress lines, oldest first.
func (j *Job) Progress() []string {
	return j.progress.Snapshot()
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the failure that ended the job, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Status returns a snapshot of the job.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		ID:          j.id,
		Remote:      j.remote,
		Path:        j.path,
		State:       j.state,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
		Scanned:     int(j.scanned.Load()),
		Inserted:    int(j.inserted.Load()),
		Batches:     int(j.batches.Load()),
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}

func (j *Job) finish(state State, err error) {
	j.mu.Lock()
	if j.state != StateRunning {
		j.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	j.state = state
	j.err = err
	j.completedAt = &now
	j.stream = nil
	j.mu.Unlock()

	j.cancel()
	close(j.done)
}
