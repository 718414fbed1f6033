package dedup

import (
	"context"

	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/state"
)

// cursor is the offset-cursor Strategy. Seen-ness is purely positional:
// a row at or below the cursor is never re-read, so the source is scanned
// at most once, ever, per row. There is no independent "already seen" check.
type cursor struct {
	unit  Unit
	store state.Store
	cfg   Config
}

func (c *cursor) Name() string { return "cursor" }

// Resume returns (cursor+1, lastRow), continuing across runs until caught up.
func (c *cursor) Resume(ctx context.Context) (int, int, error) {
	var lastRow, _, err = sheetDims(ctx, c.unit, c.cfg.Retry)
	if err != nil {
		return 0, -1, err
	}
	position, ok, err := c.store.GetCursor(ctx, c.unit.Key())
	if err != nil {
		return 0, -1, err
	}

	var from = c.unit.Flow.DataStart()
	if ok && position+1 > from {
		from = position + 1
	}
	return from, lastRow, nil
}

// FilterUnseen is the identity: position alone establishes seen-ness.
func (c *cursor) FilterUnseen(_ context.Context, rows []grid.Row) ([]grid.Row, error) {
	return rows, nil
}

// Commit advances the cursor to the highest scanned position. This is the
// sole position-advance step, and it runs strictly after the batch's
// destination append.
func (c *cursor) Commit(ctx context.Context, scannedThrough int, _ []grid.Row) error {
	return c.store.PutCursor(ctx, c.unit.Key(), scannedThrough)
}
