// Package grid models remote spreadsheet-like services as row-indexed grids
// of string cells. It defines the Provider / Spreadsheet / Worksheet interfaces
// through which all remote reads and writes flow, and small value types shared
// by the rest of the system.
package grid

import "context"

// Row is a single grid row, tagged with its absolute 1-based position within
// its worksheet. Trailing empty cells may be absent from Cells.
type Row struct {
	Position int
	Cells    []string
}

// Cell returns the value at 1-based position |col|, or "" if the row does not
// extend that far.
func (r Row) Cell(col int) string {
	if col < 1 || col > len(r.Cells) {
		return ""
	}
	return r.Cells[col-1]
}

// CellUpdate writes Value into the single cell at (Row, Col), both 1-based.
type CellUpdate struct {
	Row, Col int
	Value    string
}

// Provider opens spreadsheets by their opaque identifier.
type Provider interface {
	Open(ctx context.Context, id string) (Spreadsheet, error)
}

// Spreadsheet is a collection of named worksheets.
type Spreadsheet interface {
	// ID returns the opaque identifier this Spreadsheet was opened with.
	ID() string
	// Worksheet returns the named worksheet, or (nil, nil) if no worksheet
	// having that title exists.
	Worksheet(ctx context.Context, title string) (Worksheet, error)
}

// Worksheet is a bounded rectangular grid of cells.
type Worksheet interface {
	// Title of this worksheet.
	Title() string
	// Dims returns the current row and column counts of the worksheet.
	Dims(ctx context.Context) (rows, cols int, err error)
	// Read returns the rectangle [fromRow, toRow] x [1, toCol] (all 1-based,
	// inclusive). Trailing empty rows and cells may be elided.
	Read(ctx context.Context, fromRow, toRow, toCol int) ([][]string, error)
	// Append adds |rows| after the last non-empty row of the worksheet.
	// Rows of one Append call retain their relative order.
	Append(ctx context.Context, rows [][]string) error
	// Update applies a batch of single-cell writes.
	Update(ctx context.Context, updates []CellUpdate) error
	// EnsureCapacity grows the worksheet to at least |rows| x |cols|.
	// It never shrinks, and is a no-op if the worksheet is already large
	// enough. Callers must invoke it before writing outside current bounds;
	// growth is never inferred from a failed write.
	EnsureCapacity(ctx context.Context, rows, cols int) error
}
