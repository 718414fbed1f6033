// Package registry reads the ordered list of source spreadsheets to mirror.
// The registry is a worksheet of the master spreadsheet: column B holds one
// source locator per row, starting at row 2, as either a bare spreadsheet ID
// or a full spreadsheet URL.
package registry

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/retry"
)

// locatorColumn is the registry worksheet column holding source locators.
const locatorColumn = 2

var sheetIDRe = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// ParseLocator extracts a spreadsheet ID from a locator string: a
// "/spreadsheets/d/<id>" URL yields its ID, anything else is returned
// trimmed and assumed to already be an ID.
func ParseLocator(locator string) string {
	if m := sheetIDRe.FindStringSubmatch(locator); m != nil {
		return m[1]
	}
	return strings.TrimSpace(locator)
}

// Load reads source IDs from the |tab| worksheet of |master|, in registry
// order, skipping blank rows. A missing registry tab is an error: unlike an
// absent source tab, it means the deployment is misconfigured.
func Load(ctx context.Context, master grid.Spreadsheet, tab string, p retry.Policy) ([]string, error) {
	var ws grid.Worksheet
	var err = retry.Do(ctx, p, "registry-open", func() (wErr error) {
		ws, wErr = master.Worksheet(ctx, tab)
		return wErr
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "opening registry tab %q", tab)
	} else if ws == nil {
		return nil, errors.Errorf("registry tab %q not found in master spreadsheet", tab)
	}

	var lastRow int
	if err = retry.Do(ctx, p, "registry-dims", func() (dErr error) {
		lastRow, _, dErr = ws.Dims(ctx)
		return dErr
	}); err != nil {
		return nil, errors.WithMessage(err, "reading registry dimensions")
	}
	if lastRow < 2 {
		return nil, nil
	}

	var cells [][]string
	if err = retry.Do(ctx, p, "registry-read", func() (rErr error) {
		cells, rErr = ws.Read(ctx, 2, lastRow, locatorColumn)
		return rErr
	}); err != nil {
		return nil, errors.WithMessage(err, "reading registry rows")
	}

	var ids []string
	for i, row := range cells {
		var locator = grid.Row{Position: 2 + i, Cells: row}.Cell(locatorColumn)
		if locator = strings.TrimSpace(locator); locator != "" {
			ids = append(ids, ParseLocator(locator))
		}
	}
	return ids, nil
}
