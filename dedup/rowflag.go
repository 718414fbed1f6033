package dedup

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/retry"
)

// flagSentinel is the value written into a flagged row's reserved column.
const flagSentinel = "1"

// rowFlag is the write-back flag Strategy. A sentinel written into a
// reserved column of the source row itself marks it as mirrored; because the
// flag column is folded into the data window read, checking it costs no
// extra remote call. Suited to tail-window scanning, where re-reading
// recent rows is harmless.
type rowFlag struct {
	unit     Unit
	cfg      Config
	prepared bool
}

func (r *rowFlag) Name() string { return "rowflag" }

// Resume returns the tail window of the source, after ensuring the flag
// column exists and carries its header marker.
func (r *rowFlag) Resume(ctx context.Context) (int, int, error) {
	var lastRow, cols, err = sheetDims(ctx, r.unit, r.cfg.Retry)
	if err != nil {
		return 0, -1, err
	}

	if !r.prepared {
		r.prepare(ctx, lastRow, cols)
		r.prepared = true
	}
	var from, to = tailWindow(r.unit, lastRow, r.cfg.TailWindowRows)
	return from, to, nil
}

// prepare grows the worksheet through the flag column and stamps the flag
// header cell. Both writes are best-effort: reads of an unprepared sheet
// still behave correctly, they just observe absent flag cells.
func (r *rowFlag) prepare(ctx context.Context, lastRow, cols int) {
	var spec = r.unit.Flow
	if cols < spec.FlagColumn {
		var err = retry.Do(ctx, r.cfg.Retry, "ensure-capacity", func() error {
			return r.unit.Sheet.EnsureCapacity(ctx, lastRow, spec.FlagColumn)
		})
		if err != nil {
			log.WithFields(log.Fields{"unit": r.unit.Key(), "err": err}).
				Warn("failed to grow source flag column; proceeding")
		}
	}
	if hdr := spec.DataStart() - 1; hdr >= 1 {
		var err = retry.Do(ctx, r.cfg.Retry, "flag-header", func() error {
			return r.unit.Sheet.Update(ctx, []grid.CellUpdate{{
				Row:   hdr,
				Col:   spec.FlagColumn,
				Value: fmt.Sprintf("__SYNCED_%s", spec.Name),
			}})
		})
		if err != nil {
			log.WithFields(log.Fields{"unit": r.unit.Key(), "err": err}).
				Warn("failed to stamp flag header; proceeding")
		}
	}
}

// FilterUnseen drops rows whose flag cell is already set.
func (r *rowFlag) FilterUnseen(_ context.Context, rows []grid.Row) ([]grid.Row, error) {
	var out = rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(row.Cell(r.unit.Flow.FlagColumn)) == "" {
			out = append(out, row)
		}
	}
	return out, nil
}

// Commit writes the flag sentinel onto each mirrored source row in one
// batched update. A failed flag write is logged rather than surfaced: the
// rows' appends have already succeeded, and surfacing the error would only
// fail the unit without undoing them. The affected rows become re-candidates
// until a later run's flag write lands, which is the documented at-least-once
// posture of this strategy.
func (r *rowFlag) Commit(ctx context.Context, _ int, mirrored []grid.Row) error {
	if len(mirrored) == 0 {
		return nil
	}
	var updates = make([]grid.CellUpdate, 0, len(mirrored))
	for _, row := range mirrored {
		updates = append(updates, grid.CellUpdate{
			Row:   row.Position,
			Col:   r.unit.Flow.FlagColumn,
			Value: flagSentinel,
		})
	}
	var err = retry.Do(ctx, r.cfg.Retry, "flag-write", func() error {
		return r.unit.Sheet.Update(ctx, updates)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"unit": r.unit.Key(),
			"rows": len(updates),
			"err":  err,
		}).Warn("batch flag write failed; rows will be re-filtered next run")
	}
	return nil
}
