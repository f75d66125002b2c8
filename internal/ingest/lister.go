package ingest

import (
	"context"

	"github.com/sydlexius/rcindex/internal/catalog"
	"github.com/sydlexius/rcindex/internal/provenance"
	"github.com/sydlexius/rcindex/internal/rclone"
)

// Stream is a lazily consumed recursive listing. Next returns io.EOF at the
// end. Terminate may be called from any goroutine to stop production.
type Stream interface {
	Next() (rclone.Entry, error)
	Terminate() error
	Close() error
}

// Lister opens recursive, files-only listings.
type Lister interface {
	Stream(ctx context.Context, remote, path string) (Stream, error)
}

// Catalog receives batches of file records.
type Catalog interface {
	InsertBatch(ctx context.Context, remote string, records []catalog.FileRecord) (int, error)
}

// Provenance records per-directory scan status.
type Provenance interface {
	MarkScanned(ctx context.Context, remote, dir string, status provenance.Status) error
}

type rcloneLister struct {
	client *rclone.Client
}

// RcloneLister adapts an rclone client to Lister.
func RcloneLister(c *rclone.Client) Lister {
	return rcloneLister{client: c}
}

func (l rcloneLister) Stream(ctx context.Context, remote, path string) (Stream, error) {
	s, err := l.client.Stream(ctx, remote, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
