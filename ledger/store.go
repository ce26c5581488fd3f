package ledger

import (
	"context"
	"errors"
)

// ErrCorrupt indicates the backing document exists but cannot be parsed.
// The file store recovers by backing the document up and starting empty.
var ErrCorrupt = errors.New("ledger: corrupt document")

// Store is the durable ledger contract shared by the file and Postgres
// backends. Every mutating call persists before returning.
type Store interface {
	// Upsert inserts or overwrites a record by VOD ID and persists it.
	Upsert(ctx context.Context, rec Record) error
	// Get returns the record for id, reporting whether it exists.
	Get(ctx context.Context, id string) (Record, bool, error)
	// Snapshot returns a copy of all records; safe for concurrent readers.
	Snapshot(ctx context.Context) (map[string]Record, error)
	// IsProcessed reports whether id exists with status uploaded.
	IsProcessed(ctx context.Context, id string) (bool, error)
	// Summary returns record counts by status.
	Summary(ctx context.Context) (Summary, error)
	// Close releases backend resources.
	Close() error
}
