package rclone

import "time"

// Entry is one object reported by `rclone lsjson`. Path is relative to the
// directory that was listed.
type Entry struct {
	Path     string    `json:"Path"`
	Name     string    `json:"Name"`
	Size     int64     `json:"Size"`
	MimeType string    `json:"MimeType,omitempty"`
	ModTime  time.Time `json:"ModTime"`
	IsDir    bool      `json:"IsDir"`
}

// Remote is a configured rclone remote.
type Remote struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
