// Package archive persists JSON snapshots of terminal jobs outside the job
// table. Export only: the job rows themselves are never mutated or deleted by
// archiving.
package archive

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Load when no object exists with the name.
var ErrObjectNotFound = errors.New("archive object not found")

// Store is a blob store for job snapshots. Names are slash-separated paths
// such as "jobs/<id>.json"; Save overwrites existing objects.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
