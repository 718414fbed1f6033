// Package dedup implements the pluggable mechanisms deciding whether a
// source row has already been mirrored, and recording that it now has been.
// Three strategies are provided: offset cursors, write-back row flags, and
// external key indexes. A strategy is selected once per flow at
// configuration time and never switched at runtime.
//
// Seen-ness is recorded at Commit, not at FilterUnseen: distinct rows of one
// uncommitted batch which carry identical identity values all pass the filter
// and are all mirrored. Deduplication is of rows already committed, never of
// rows against their in-flight siblings.
package dedup

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"go.gridsync.dev/core/flow"
	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/retry"
	"go.gridsync.dev/core/state"
)

// Unit names one (source, flow) pair and its opened source worksheet.
type Unit struct {
	SourceID string
	Flow     *flow.Spec
	Sheet    grid.Worksheet
}

// Key returns the durable state key of this Unit.
func (u Unit) Key() string { return fmt.Sprintf("%s/%s", u.SourceID, u.Flow.Name) }

// Strategy is the common contract of dedup mechanisms.
//
// The engine invokes Commit once per batch, strictly after the batch's
// destination append has durably succeeded. A crash between the append and
// Commit therefore yields at most a harmless re-candidate on the next run,
// never a silent loss.
type Strategy interface {
	// Name of the strategy, for logging.
	Name() string
	// Resume returns the inclusive source row range to scan this run.
	// A range with to < from means there is nothing to scan.
	Resume(ctx context.Context) (from, to int, err error)
	// FilterUnseen drops candidate rows which have already been mirrored.
	// Rows retain their relative order.
	FilterUnseen(ctx context.Context, rows []grid.Row) ([]grid.Row, error)
	// Commit persists batch progress: |scannedThrough| is the highest source
	// position scanned so far, and |mirrored| are the rows whose destination
	// append just succeeded (or which are adopted without appending, in
	// baseline mode).
	Commit(ctx context.Context, scannedThrough int, mirrored []grid.Row) error
}

// Config carries the cost/latency knobs of dedup strategies. None affect
// correctness invariants.
type Config struct {
	// TailWindowRows bounds how many trailing source rows RowFlag and
	// KeyIndex strategies re-scan per run.
	TailWindowRows int
	// KeyTailSize bounds how many recent identity hashes KeyIndex loads
	// into memory.
	KeyTailSize int
	// Retry policy applied to remote calls issued by strategies.
	Retry retry.Policy
}

// New returns the Strategy configured by the Unit's flow.
func New(u Unit, store state.Store, cfg Config) (Strategy, error) {
	switch u.Flow.Strategy {
	case flow.CursorStrategy:
		return &cursor{unit: u, store: store, cfg: cfg}, nil
	case flow.RowFlagStrategy:
		return &rowFlag{unit: u, cfg: cfg}, nil
	case flow.KeyIndexStrategy:
		return newKeyIndex(u, store, cfg)
	default:
		return nil, errors.Errorf("unknown dedup strategy %q", u.Flow.Strategy)
	}
}

// tailWindow computes the scan range of tail-window strategies:
// the last TailWindowRows rows, clamped to the flow's data start.
func tailWindow(u Unit, lastRow, tail int) (from, to int) {
	from = u.Flow.DataStart()
	if tail > 0 && lastRow-tail+1 > from {
		from = lastRow - tail + 1
	}
	return from, lastRow
}

// sheetDims reads worksheet dimensions under the retry policy.
func sheetDims(ctx context.Context, u Unit, p retry.Policy) (rows, cols int, err error) {
	err = retry.Do(ctx, p, "dims", func() (dErr error) {
		rows, cols, dErr = u.Sheet.Dims(ctx)
		return dErr
	})
	return rows, cols, err
}
