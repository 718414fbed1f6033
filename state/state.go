// Package state provides durable storage of dedup progress: cursor
// watermarks and identity-key indexes, keyed per (source, flow) unit.
// Records are created on first encounter and updated after every durable
// batch; they are removed only by explicit operator reset.
package state

import "context"

// Store is the durable backend of dedup state.
type Store interface {
	// GetCursor returns the cursor of |unit|, or (0, false, nil) if the unit
	// has no cursor yet.
	GetCursor(ctx context.Context, unit string) (int, bool, error)
	// PutCursor upserts the cursor of |unit|. Cursors are monotonic: a
	// position at or below the stored one leaves it unchanged.
	PutCursor(ctx context.Context, unit string, position int) error
	// AddKeys appends identity hashes to the key set of |unit|. Hashes
	// already present are ignored.
	AddKeys(ctx context.Context, unit string, hashes []string) error
	// HasKey returns whether |hash| is present in the key set of |unit|.
	HasKey(ctx context.Context, unit string, hash string) (bool, error)
	// RecentKeys returns up to |limit| most recently added hashes of the
	// key set of |unit|.
	RecentKeys(ctx context.Context, unit string, limit int) ([]string, error)
	// Close releases resources of the Store.
	Close() error
}
