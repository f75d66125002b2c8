package ingest

import "time"

// State is the lifecycle state of a scan job.
type State string

// Scan job states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCanceled  State = "canceled"
	StateFailed    State = "failed"
)

// Status summarizes a scan job. It is a copy and safe to read without
// synchronization.
type Status struct {
	ID          string     `json:"id"`
	Remote      string     `json:"remote"`
	Path        string     `json:"path"`
	State       State      `json:"state"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Scanned     int        `json:"scanned"`
	Inserted    int        `json:"inserted"`
	Batches     int        `json:"batches"`
	Error       string     `json:"error,omitempty"`
}

// Options tune the ingest worker.
type Options struct {
	// BatchSize is how many records are buffered before a catalog write.
	BatchSize int
	// HeartbeatEvery emits a progress line after this many files.
	HeartbeatEvery int
	// ProgressLines bounds the per-job progress log.
	ProgressLines int
	// FlushOnCancel writes the buffered batch before stopping on cancel.
	// When false, up to BatchSize-1 listed files are dropped.
	FlushOnCancel bool
}

// DefaultOptions returns the stock worker settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:      100,
		HeartbeatEvery: 10,
		ProgressLines:  10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = d.HeartbeatEvery
	}
	if o.ProgressLines <= 0 {
		o.ProgressLines = d.ProgressLines
	}
	return o
}
