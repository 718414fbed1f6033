package mirror

import (
	"context"
	"io"
	"time"

	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/metrics"
	"go.gridsync.dev/core/retry"
)

// pageReader reads the inclusive window [from, to] x [1, maxCol] of a
// worksheet in pages of at most pageRows rows, keeping any single remote
// call small. Returned rows carry their absolute 1-based positions. After
// each page read a throttle pause is applied; it is a courtesy to the remote
// API's per-minute budget, not a correctness mechanism.
type pageReader struct {
	sheet    grid.Worksheet
	next     int // Next row to read.
	to       int
	maxCol   int
	pageRows int
	throttle time.Duration
	policy   retry.Policy
}

func newPageReader(sheet grid.Worksheet, from, to, maxCol int, cfg *Config) *pageReader {
	return &pageReader{
		sheet:    sheet,
		next:     from,
		to:       to,
		maxCol:   maxCol,
		pageRows: cfg.PageRows,
		throttle: cfg.ThrottlePerRead,
		policy:   cfg.RetryPolicy(),
	}
}

// Read returns the next page of rows and the inclusive end position of the
// page, which may exceed the position of the last returned row when the
// remote elides trailing empty rows. It returns io.EOF after the window is
// exhausted.
func (r *pageReader) Read(ctx context.Context) ([]grid.Row, int, error) {
	if r.next > r.to {
		return nil, r.to, io.EOF
	}
	var pageEnd = r.next + r.pageRows - 1
	if pageEnd > r.to {
		pageEnd = r.to
	}

	var cells [][]string
	var err = retry.Do(ctx, r.policy, "page-read", func() (rErr error) {
		cells, rErr = r.sheet.Read(ctx, r.next, pageEnd, r.maxCol)
		return rErr
	})
	if err != nil {
		return nil, pageEnd, err
	}
	metrics.PageReadsTotal.Inc()

	var rows = make([]grid.Row, 0, len(cells))
	for i, c := range cells {
		rows = append(rows, grid.Row{Position: r.next + i, Cells: c})
	}
	r.next = pageEnd + 1

	if err = retry.Sleep(ctx, r.throttle); err != nil {
		return nil, pageEnd, err
	}
	return rows, pageEnd, nil
}
