package mirror

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"go.gridsync.dev/core/dedup"
	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/metrics"
	"go.gridsync.dev/core/retry"
)

// Counts summarizes scanning progress of a unit, flow, or run. Rows which
// failed required-field validation are countable as Scanned minus Appended;
// nothing is silently dropped.
type Counts struct {
	Scanned  int
	Appended int
}

// Add folds |other| into this Counts.
func (c *Counts) Add(other Counts) {
	c.Scanned += other.Scanned
	c.Appended += other.Appended
}

// syncer drives single (source, flow) units against the shared destination.
type syncer struct {
	cfg      *Config
	dest     grid.Worksheet
	width    int
	deadline time.Time // Zero when the run has no time budget.
}

// syncUnit runs one unit to completion: resume, scan windows, validate,
// filter seen rows, append survivors in batches, and commit dedup state per
// batch. The ordering invariant throughout is that a batch's destination
// append durably succeeds before its dedup-state commit, so an interruption
// between them yields at most re-candidates on the next run, never loss.
//
// When the run deadline passes mid-unit, the in-flight batch is flushed and
// the unit returns cleanly with partial progress; dedup state lets the next
// run resume precisely where this one left off.
func (s *syncer) syncUnit(ctx context.Context, u dedup.Unit, strategy dedup.Strategy) (Counts, error) {
	var counts Counts

	from, to, err := strategy.Resume(ctx)
	if err != nil {
		return counts, errors.WithMessage(err, "resuming")
	} else if to < from {
		return counts, nil
	}

	var (
		reader  = newPageReader(u.Sheet, from, to, u.Flow.MaxSourceColumn(), s.cfg)
		policy  = s.cfg.RetryPolicy()
		batch   []grid.Row // Valid, unseen rows pending commit.
		mapped  [][]string // Their destination projections.
		lastEnd = from - 1 // End of the last fully scanned page.
	)

	// flush appends the pending batch to the destination and then, and only
	// then, commits dedup state through source position |through|. Positions
	// at or below |through| are fully accounted for: appended, filtered as
	// seen, or skipped as invalid.
	var flush = func(through int) error {
		if len(mapped) != 0 && !s.cfg.Baseline {
			var aErr = retry.Do(ctx, policy, "batch-append", func() error {
				return s.dest.Append(ctx, mapped)
			})
			if aErr != nil {
				return errors.WithMessage(aErr, "appending batch")
			}
			metrics.BatchAppendsTotal.Inc()
			metrics.RowsAppendedTotal.WithLabelValues(u.Flow.Name).Add(float64(len(mapped)))
			counts.Appended += len(mapped)
		}
		if cErr := strategy.Commit(ctx, through, batch); cErr != nil {
			return errors.WithMessage(cErr, "committing dedup state")
		}
		batch, mapped = nil, nil
		return nil
	}

	for {
		rows, pageEnd, rErr := reader.Read(ctx)
		if rErr == io.EOF {
			break
		} else if rErr != nil {
			return counts, errors.WithMessage(rErr, "reading page")
		}

		counts.Scanned += len(rows)
		metrics.RowsScannedTotal.WithLabelValues(u.Flow.Name).Add(float64(len(rows)))

		var valid []grid.Row
		for _, row := range rows {
			if u.Flow.RowValid(row) {
				valid = append(valid, row)
			} else {
				metrics.RowsSkippedInvalidTotal.WithLabelValues(u.Flow.Name).Inc()
			}
		}

		unseen, fErr := strategy.FilterUnseen(ctx, valid)
		if fErr != nil {
			return counts, errors.WithMessage(fErr, "filtering seen rows")
		}

		for _, row := range unseen {
			batch = append(batch, row)
			mapped = append(mapped, u.Flow.MapRow(row, s.width))

			if len(batch) >= s.cfg.BatchRows {
				// Mid-stream commits account only through the batch's last
				// row: later rows of this page are scanned but not yet
				// durable.
				if err = flush(row.Position); err != nil {
					return counts, err
				}
			}
		}
		lastEnd = pageEnd

		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			break
		}
	}

	// The final flush accounts the whole scanned range, advancing cursors
	// past trailing invalid or empty rows.
	if err = flush(lastEnd); err != nil {
		return counts, err
	}
	return counts, nil
}
