package provenance

import "time"

// Status describes how the last scan of a directory ended.
type Status string

// Scan statuses.
const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
)

// Entry records when a directory of a remote was last scanned.
type Entry struct {
	Remote      string    `json:"remote"`
	Directory   string    `json:"directory"`
	LastScanned time.Time `json:"last_scanned"`
	Status      Status    `json:"status"`
}
